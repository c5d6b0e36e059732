package discovery

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// NmapScanner runs the nmap binary and parses its XML report.
type NmapScanner struct {
	path   string
	logger *zap.Logger
}

// NewNmapScanner creates a scanner invoking the nmap binary at path
// (looked up on PATH when it has no separator).
func NewNmapScanner(path string, logger *zap.Logger) *NmapScanner {
	if path == "" {
		path = "nmap"
	}
	return &NmapScanner{path: path, logger: logger}
}

// Available reports whether the nmap binary can be found.
func (s *NmapScanner) Available() bool {
	_, err := exec.LookPath(s.path)
	return err == nil
}

// Scan runs a TCP scan of ports across targetRange. The subprocess is
// killed when ctx is done.
func (s *NmapScanner) Scan(ctx context.Context, targetRange string, ports []int) ([]HostPorts, error) {
	bin, err := exec.LookPath(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScannerUnavailable, err)
	}

	args := []string{"-Pn", "-n", "-T4", "--open", "-p", joinPorts(ports), "-oX", "-", targetRange}
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug("running nmap", zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("nmap interrupted: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("nmap exited %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("run nmap: %w", err)
	}

	return ParseNmapXML(stdout.Bytes())
}

type nmapRun struct {
	Hosts []nmapHost `xml:"host"`
}

type nmapHost struct {
	Status    nmapState     `xml:"status"`
	Addresses []nmapAddress `xml:"address"`
	Hostnames []nmapName    `xml:"hostnames>hostname"`
	Ports     []nmapPort    `xml:"ports>port"`
}

type nmapAddress struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type nmapName struct {
	Name string `xml:"name,attr"`
}

type nmapPort struct {
	Protocol string    `xml:"protocol,attr"`
	PortID   int       `xml:"portid,attr"`
	State    nmapState `xml:"state"`
}

type nmapState struct {
	State string `xml:"state,attr"`
}

// ParseNmapXML extracts hosts with at least one open port from an nmap -oX
// report.
func ParseNmapXML(data []byte) ([]HostPorts, error) {
	var run nmapRun
	if err := xml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parse nmap xml: %w", err)
	}

	var out []HostPorts
	for _, h := range run.Hosts {
		var ip string
		for _, a := range h.Addresses {
			if a.AddrType == "ipv4" {
				ip = a.Addr
				break
			}
		}
		if ip == "" {
			continue
		}

		var open []int
		for _, p := range h.Ports {
			if p.State.State == "open" {
				open = append(open, p.PortID)
			}
		}
		if len(open) == 0 {
			continue
		}
		sort.Ints(open)

		hp := HostPorts{IP: ip, OpenPorts: open}
		if len(h.Hostnames) > 0 {
			hp.Hostname = h.Hostnames[0].Name
		}
		out = append(out, hp)
	}
	return out, nil
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
