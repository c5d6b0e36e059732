package discovery

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/wofinder/pkg/models"
)

// DefaultScanTarget is the subnet scanned when none is configured.
const DefaultScanTarget = "192.168.1.1-254"

// DefaultPortScanTimeout caps a single port-scan run.
const DefaultPortScanTimeout = 30 * time.Second

// Port-scan classifications.
const (
	typeDiscoveryPorts = "Watchout Server (Discovery Ports)"
	typePortScan       = "Watchout Server (Port Scan)"
)

// HostPorts is one host's scan result.
type HostPorts struct {
	IP        string
	Hostname  string
	OpenPorts []int
}

// PortScanner scans a target range for open TCP ports.
type PortScanner interface {
	Scan(ctx context.Context, targetRange string, ports []int) ([]HostPorts, error)
}

// ScanPorts is the port set the port-scan probe looks for: the operational
// ports followed by the discovery ports.
func ScanPorts() []int {
	return slices.Concat(models.OperationalPorts, models.DiscoveryPorts)
}

// autoScanner prefers nmap and falls back to the connect scanner when nmap
// is not installed.
type autoScanner struct {
	nmap     *NmapScanner
	fallback PortScanner
	logger   *zap.Logger
}

func (a *autoScanner) Scan(ctx context.Context, targetRange string, ports []int) ([]HostPorts, error) {
	hosts, err := a.nmap.Scan(ctx, targetRange, ports)
	if errors.Is(err, ErrScannerUnavailable) {
		a.logger.Debug("nmap not installed, using connect scanner")
		return a.fallback.Scan(ctx, targetRange, ports)
	}
	return hosts, err
}

// NewPortScanner selects a scanner by kind: "nmap", "connect" or "auto".
func NewPortScanner(kind string, cfg PortScanConfig, logger *zap.Logger) PortScanner {
	nmap := NewNmapScanner(cfg.NmapPath, logger)
	connect := NewConnectScanner(cfg.DialTimeout, cfg.Concurrency, logger)
	switch kind {
	case "nmap":
		if !nmap.Available() {
			logger.Warn("nmap scanner selected but not found, port scans will fail", zap.String("path", cfg.NmapPath))
		}
		return nmap
	case "connect":
		return connect
	default:
		return &autoScanner{nmap: nmap, fallback: connect, logger: logger}
	}
}

// PortScanProbe finds Watchout nodes by their open TCP ports.
type PortScanProbe struct {
	scanner PortScanner
	target  string
	ports   []int
	timeout time.Duration
	logger  *zap.Logger
}

// NewPortScanProbe creates the port-scan probe.
func NewPortScanProbe(scanner PortScanner, target string, timeout time.Duration, logger *zap.Logger) *PortScanProbe {
	if target == "" {
		target = DefaultScanTarget
	}
	if timeout <= 0 {
		timeout = DefaultPortScanTimeout
	}
	return &PortScanProbe{
		scanner: scanner,
		target:  target,
		ports:   ScanPorts(),
		timeout: timeout,
		logger:  logger,
	}
}

func (p *PortScanProbe) Name() string           { return "port-scan" }
func (p *PortScanProbe) Timeout() time.Duration { return p.timeout }

// Run scans the target range and reports each host with a Watchout port
// open. Scanner failures are logged and swallowed.
func (p *PortScanProbe) Run(ctx context.Context, sink Sink) error {
	hosts, err := p.scanner.Scan(ctx, p.target, p.ports)
	if err != nil {
		p.logger.Warn("port scan failed",
			zap.String("target", p.target),
			zap.Error(err),
		)
		if len(hosts) == 0 {
			return nil
		}
	}

	for _, h := range hosts {
		rec, ok := p.toRecord(h)
		if !ok {
			continue
		}
		sink.AddServer(rec)
		p.logger.Debug("port scan match",
			zap.String("ip", rec.IP),
			zap.Ints("ports", rec.Ports),
		)
	}
	return nil
}

// toRecord synthesizes a server record for a host whose open ports include
// at least one the probe scanned for.
func (p *PortScanProbe) toRecord(h HostPorts) (models.ServerRecord, bool) {
	var open []int
	discovery := false
	for _, port := range h.OpenPorts {
		if !slices.Contains(p.ports, port) || slices.Contains(open, port) {
			continue
		}
		open = append(open, port)
		if slices.Contains(models.DiscoveryPorts, port) {
			discovery = true
		}
	}
	if len(open) == 0 || h.IP == "" {
		return models.ServerRecord{}, false
	}
	slices.Sort(open)

	typ := typePortScan
	if discovery {
		typ = typeDiscoveryPorts
	}
	hostname := h.Hostname
	if hostname == "" {
		hostname = h.IP
	}
	return models.ServerRecord{
		IP:              h.IP,
		Hostname:        hostname,
		Ports:           open,
		Type:            typ,
		DiscoveryMethod: models.DiscoveryPortScan,
	}, true
}
