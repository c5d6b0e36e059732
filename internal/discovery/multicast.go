package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/HerbHall/wofinder/pkg/models"
)

// Multicast discovery protocol constants.
const (
	DefaultMulticastGroup = "239.2.2.2"
	discoveryPing         = "discovery_ping"
	maxDatagram           = 64 * 1024
)

// MulticastProbe sends one discovery query to the Watchout multicast group
// and collects every reply that arrives within its window.
type MulticastProbe struct {
	group        netip.Addr
	queryPort    int
	responsePort int
	timeout      time.Duration
	logger       *zap.Logger

	// listen opens the socket replies arrive on.
	listen func() (net.PacketConn, error)
}

// NewMulticastProbe creates the multicast probe.
func NewMulticastProbe(cfg MulticastConfig, timeout time.Duration, logger *zap.Logger) *MulticastProbe {
	if !cfg.Group.IsValid() {
		cfg.Group = netip.MustParseAddr(DefaultMulticastGroup)
	}
	if cfg.QueryPort == 0 {
		cfg.QueryPort = models.PortDiscoveryQuery
	}
	if cfg.ResponsePort == 0 {
		cfg.ResponsePort = models.PortDiscoveryResponse
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	p := &MulticastProbe{
		group:        cfg.Group,
		queryPort:    cfg.QueryPort,
		responsePort: cfg.ResponsePort,
		timeout:      timeout,
		logger:       logger,
	}
	p.listen = p.joinGroup
	return p
}

func (p *MulticastProbe) Name() string           { return "multicast" }
func (p *MulticastProbe) Timeout() time.Duration { return p.timeout }

// joinGroup binds the response port and joins the multicast group on every
// up, multicast-capable interface.
func (p *MulticastProbe) joinGroup() (net.PacketConn, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	conn, err := lc.ListenPacket(context.Background(), "udp4", ":"+strconv.Itoa(p.responsePort))
	if err != nil {
		return nil, fmt.Errorf("bind udp %d: %w", p.responsePort, err)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.IP(p.group.AsSlice())}
	var joined int
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(ifi, group); err != nil {
			p.logger.Debug("multicast join failed",
				zap.String("interface", ifi.Name),
				zap.Error(err),
			)
			continue
		}
		joined++
	}
	if joined == 0 {
		conn.Close()
		return nil, fmt.Errorf("join group %s: no usable interface", p.group)
	}
	return conn, nil
}

// Run sends the discovery query and listens for the whole window, since
// servers answer at staggered times. Socket failures are logged and the
// probe returns without effect.
func (p *MulticastProbe) Run(ctx context.Context, sink Sink) error {
	conn, err := p.listen()
	if err != nil {
		p.logger.Warn("multicast discovery unavailable", zap.Error(err))
		return nil
	}
	defer conn.Close()

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		p.logger.Warn("multicast set deadline failed", zap.Error(err))
		return nil
	}

	// Unblock the read loop early if ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	dst := &net.UDPAddr{IP: net.IP(p.group.AsSlice()), Port: p.queryPort}
	if _, err := conn.WriteTo([]byte(discoveryPing), dst); err != nil {
		p.logger.Warn("multicast query send failed",
			zap.String("group", dst.String()),
			zap.Error(err),
		)
		return nil
	}

	var found int
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			p.logger.Debug("multicast read failed", zap.Error(err))
			break
		}
		if p.handleDatagram(buf[:n], addr, sink) {
			found++
		}
	}

	p.logger.Debug("multicast window closed", zap.Int("replies", found))
	return nil
}

// handleDatagram decodes one datagram and reports it if it came from a
// Watchout node. The record is keyed on the response port the reply
// arrived on, whatever port the node sent it from. It returns true when a
// record was reported.
func (p *MulticastProbe) handleDatagram(payload []byte, addr net.Addr, sink Sink) bool {
	udp, ok := addr.(*net.UDPAddr)
	if !ok || udp.IP.To4() == nil {
		return false
	}
	if string(payload) == discoveryPing {
		return false // our own query looped back
	}
	ip := udp.IP.To4().String()

	reply := DecodeReply(payload)
	var rec models.ServerRecord
	switch reply.Kind {
	case ReplyStructured:
		rec = structuredRecord(ip, p.responsePort, reply.Info)
	case ReplyText:
		rec = models.ServerRecord{
			IP:              ip,
			Hostname:        ip,
			Ports:           []int{p.responsePort},
			Type:            "Watchout Server (Multicast)",
			DiscoveryMethod: models.DiscoveryMulticast,
		}
	default:
		p.logger.Debug("ignoring multicast datagram",
			zap.String("from", udp.String()),
			zap.Int("bytes", len(payload)),
		)
		return false
	}

	sink.AddServer(rec)
	p.logger.Debug("multicast reply",
		zap.String("ip", ip),
		zap.Stringer("kind", reply.Kind),
		zap.String("type", rec.Type),
	)
	return true
}

func structuredRecord(ip string, port int, info *WatchoutInfo) models.ServerRecord {
	hostname := info.Hostname
	if hostname == "" {
		hostname = info.HostRef
	}
	if hostname == "" {
		hostname = ip
	}
	return models.ServerRecord{
		IP:              ip,
		Hostname:        hostname,
		Ports:           []int{port},
		Type:            watchoutType(info),
		DiscoveryMethod: models.DiscoveryMulticastJSON,
		HostRef:         info.HostRef,
		MachineID:       info.MachineID,
		Services:        info.Services,
		Version:         info.Version,
		DirShow:         info.DirShow,
		RunShow:         info.RunShow,
		WOTime:          info.WOTime,
		Interfaces:      info.Interfaces,
		Capabilities:    info.Capabilities,
		Licensed:        info.Licensed,
		RawResponse:     info.Raw,
	}
}
