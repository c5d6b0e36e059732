package discovery

import (
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/wofinder/internal/config"
)

// DefaultProbeTimeout is the listen window of the multicast and Bonjour
// probes.
const DefaultProbeTimeout = 5 * time.Second

// Config holds discovery engine settings.
type Config struct {
	ProbeTimeout     time.Duration
	OfflineThreshold int
	PortScan         PortScanConfig
	Multicast        MulticastConfig
	Bonjour          BonjourConfig
}

// PortScanConfig configures the port-scan probe.
type PortScanConfig struct {
	Enabled     bool
	Scanner     string
	Target      string
	Timeout     time.Duration
	NmapPath    string
	DialTimeout time.Duration
	Concurrency int
}

// MulticastConfig configures the multicast probe.
type MulticastConfig struct {
	Enabled      bool
	Group        netip.Addr
	QueryPort    int
	ResponsePort int
}

// BonjourConfig configures the Bonjour probe.
type BonjourConfig struct {
	Enabled bool
}

// ConfigFrom reads discovery settings from c. Keys missing from c fall
// back to the registered defaults, so c should come from config.Load.
func ConfigFrom(c *config.Config) (Config, error) {
	group, err := netip.ParseAddr(c.GetString("multicast.group"))
	if err != nil || !group.Is4() || !group.IsMulticast() {
		return Config{}, fmt.Errorf("multicast.group %q is not an IPv4 multicast address", c.GetString("multicast.group"))
	}

	return Config{
		ProbeTimeout:     c.GetDuration("discovery.probe_timeout"),
		OfflineThreshold: c.GetInt("discovery.offline_threshold"),
		PortScan: PortScanConfig{
			Enabled:     c.GetBool("portscan.enabled"),
			Scanner:     c.GetString("portscan.scanner"),
			Target:      c.GetString("portscan.target"),
			Timeout:     c.GetDuration("portscan.timeout"),
			NmapPath:    c.GetString("portscan.nmap_path"),
			DialTimeout: c.GetDuration("portscan.dial_timeout"),
			Concurrency: c.GetInt("portscan.concurrency"),
		},
		Multicast: MulticastConfig{
			Enabled:      c.GetBool("multicast.enabled"),
			Group:        group,
			QueryPort:    c.GetInt("multicast.query_port"),
			ResponsePort: c.GetInt("multicast.response_port"),
		},
		Bonjour: BonjourConfig{
			Enabled: c.GetBool("bonjour.enabled"),
		},
	}, nil
}

// BuildProbes constructs the enabled probes and logs which external
// facilities they found.
func BuildProbes(cfg Config, logger *zap.Logger) []Probe {
	var probes []Probe
	fields := make([]zap.Field, 0, 2)
	if cfg.PortScan.Enabled {
		scanner := NewPortScanner(cfg.PortScan.Scanner, cfg.PortScan, logger.Named("portscan"))
		probes = append(probes, NewPortScanProbe(scanner, cfg.PortScan.Target, cfg.PortScan.Timeout, logger.Named("portscan")))
		fields = append(fields, zap.Bool("nmap_available", NewNmapScanner(cfg.PortScan.NmapPath, logger).Available()))
	}
	if cfg.Multicast.Enabled {
		probes = append(probes, NewMulticastProbe(cfg.Multicast, cfg.ProbeTimeout, logger.Named("multicast")))
	}
	if cfg.Bonjour.Enabled {
		bonjour := NewBonjourProbe(cfg.ProbeTimeout, logger.Named("bonjour"))
		probes = append(probes, bonjour)
		fields = append(fields, zap.Bool("mdns_available", bonjour.Available()))
	}
	logger.Info("discovery probes built", append(fields, zap.Int("probes", len(probes)))...)
	return probes
}
