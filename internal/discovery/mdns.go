//go:build !windows

package discovery

import (
	"context"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"

	"github.com/HerbHall/wofinder/pkg/models"
)

// bonjourServices lists the service types always browsed: the ones Watchout
// nodes advertise plus common TCP types a node may also announce. Types
// found by DNS-SD enumeration are browsed as well.
var bonjourServices = []string{
	"_watchout._tcp",
	"_dataton._tcp",
	"_http._tcp",
	"_https._tcp",
	"_osc._tcp",
	"_workstation._tcp",
	"_device-info._tcp",
	"_smb._tcp",
}

// BonjourProbe finds Watchout nodes advertising over mDNS/Bonjour.
type BonjourProbe struct {
	services  []string
	timeout   time.Duration
	logger    *zap.Logger
	available bool

	query     func(*mdns.QueryParam) error
	enumerate func(ctx context.Context, window time.Duration) ([]string, error)
}

// NewBonjourProbe creates the Bonjour probe. When the host has no
// multicast-capable IPv4 interface the probe is a permanent no-op; this is
// logged once here.
func NewBonjourProbe(timeout time.Duration, logger *zap.Logger) *BonjourProbe {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	p := &BonjourProbe{
		services:  bonjourServices,
		timeout:   timeout,
		logger:    logger,
		available: hasMulticastInterface(),
		query:     mdns.Query,
		enumerate: func(ctx context.Context, window time.Duration) ([]string, error) {
			return enumerateServiceTypes(ctx, mdnsGroup, window)
		},
	}
	if !p.available {
		logger.Warn("mDNS unavailable: no multicast-capable IPv4 interface, Bonjour discovery disabled")
	}
	return p
}

func (p *BonjourProbe) Name() string           { return "bonjour" }
func (p *BonjourProbe) Timeout() time.Duration { return p.timeout }

// Available reports whether the probe does any work.
func (p *BonjourProbe) Available() bool { return p.available }

// Run enumerates the TCP service types advertised on the link, then browses
// them and the fixed list in parallel for the rest of the probe window.
func (p *BonjourProbe) Run(ctx context.Context, sink Sink) error {
	if !p.available {
		return nil
	}

	window := p.timeout
	if d, ok := ctx.Deadline(); ok {
		if until := time.Until(d); until < window {
			window = until
		}
	}
	if window <= 0 {
		return ctx.Err()
	}

	services := p.services
	if p.enumerate != nil {
		enumWindow := min(window/3, time.Second)
		found, err := p.enumerate(ctx, enumWindow)
		if err != nil {
			p.logger.Debug("DNS-SD service enumeration failed", zap.Error(err))
		}
		services = mergeServiceTypes(p.services, found)
		window -= enumWindow
		p.logger.Debug("bonjour service types", zap.Strings("enumerated", found), zap.Int("browsing", len(services)))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
		wg   sync.WaitGroup
	)
	report := func(rec models.ServerRecord) {
		mu.Lock()
		defer mu.Unlock()
		if _, dup := seen[rec.Key()]; dup {
			return
		}
		seen[rec.Key()] = struct{}{}
		sink.AddServer(rec)
	}

	for _, svc := range services {
		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			p.queryService(ctx, service, window, report)
		}(svc)
	}
	wg.Wait()

	p.logger.Debug("bonjour browse complete", zap.Int("matches", len(seen)))
	return nil
}

// mergeServiceTypes returns base followed by the types in extra it lacks.
func mergeServiceTypes(base, extra []string) []string {
	out := slices.Clone(base)
	for _, typ := range extra {
		if !slices.Contains(out, typ) {
			out = append(out, typ)
		}
	}
	return out
}

// queryService queries one service type and reports matching entries.
func (p *BonjourProbe) queryService(ctx context.Context, service string, window time.Duration, report func(models.ServerRecord)) {
	entries := make(chan *mdns.ServiceEntry, 16)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			if ctx.Err() != nil {
				continue // drain
			}
			if rec, ok := bonjourRecord(entry, service); ok {
				report(rec)
			}
		}
	}()

	params := mdns.DefaultParams(service)
	params.Timeout = window
	params.Entries = entries
	params.DisableIPv6 = true

	if err := p.query(params); err != nil {
		p.logger.Debug("mDNS query failed",
			zap.String("service", service),
			zap.Error(err),
		)
	}
	close(entries)
	wg.Wait()
}

// bonjourRecord converts an entry into a server record if it looks like a
// Watchout node: a Watchout identifier in its name, host, TXT data or
// service type, or a known Watchout port.
func bonjourRecord(entry *mdns.ServiceEntry, service string) (models.ServerRecord, bool) {
	if entry == nil {
		return models.ServerRecord{}, false
	}
	ip := extractIP(entry)
	if ip == "" {
		return models.ServerRecord{}, false
	}

	match := containsIdentifier(entry.Name) ||
		containsIdentifier(entry.Host) ||
		containsIdentifier(entry.Info) ||
		containsIdentifier(service) ||
		isWatchoutPort(entry.Port)
	if !match {
		return models.ServerRecord{}, false
	}

	hostname := strings.TrimSuffix(entry.Host, ".")
	if hostname == "" {
		hostname = entry.Name
	}
	if hostname == "" {
		hostname = ip
	}

	var ports []int
	if entry.Port > 0 {
		ports = []int{entry.Port}
	}
	return models.ServerRecord{
		IP:              ip,
		Hostname:        hostname,
		Ports:           ports,
		Type:            "Watchout Server (Bonjour)",
		DiscoveryMethod: models.DiscoveryBonjour,
	}, true
}

// extractIP returns the best IPv4 address from an mDNS service entry.
func extractIP(entry *mdns.ServiceEntry) string {
	if entry.AddrV4 != nil && !entry.AddrV4.IsUnspecified() {
		return entry.AddrV4.String()
	}
	// Fallback to deprecated Addr field for older mDNS implementations.
	if entry.Addr != nil && !entry.Addr.IsUnspecified() && entry.Addr.To4() != nil {
		return entry.Addr.To4().String()
	}
	return ""
}

func hasMulticastInterface() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
				return true
			}
		}
	}
	return false
}
