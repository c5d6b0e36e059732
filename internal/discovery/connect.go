package discovery

import (
	"context"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDialTimeout = 750 * time.Millisecond
	defaultConcurrency = 128
)

// ConnectScanner probes ports with plain TCP connects. It needs no external
// tooling or privileges.
type ConnectScanner struct {
	dialTimeout time.Duration
	concurrency int64
	logger      *zap.Logger
}

// NewConnectScanner creates a connect scanner. Zero values select defaults.
func NewConnectScanner(dialTimeout time.Duration, concurrency int, logger *zap.Logger) *ConnectScanner {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &ConnectScanner{
		dialTimeout: dialTimeout,
		concurrency: int64(concurrency),
		logger:      logger,
	}
}

// Scan dials every target:port pair with bounded concurrency. Results
// gathered before ctx ends are returned along with ctx's error.
func (s *ConnectScanner) Scan(ctx context.Context, targetRange string, ports []int) ([]HostPorts, error) {
	targets, err := ExpandTargets(targetRange)
	if err != nil {
		return nil, err
	}

	sem := semaphore.NewWeighted(s.concurrency)
	dialer := &net.Dialer{Timeout: s.dialTimeout}

	var (
		mu   sync.Mutex
		open = make(map[netip.Addr][]int)
		wg   sync.WaitGroup
	)

	var acquireErr error
dispatch:
	for _, addr := range targets {
		for _, port := range ports {
			if err := sem.Acquire(ctx, 1); err != nil {
				acquireErr = err
				break dispatch
			}
			wg.Add(1)
			go func(addr netip.Addr, port int) {
				defer wg.Done()
				defer sem.Release(1)

				conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr.String(), strconv.Itoa(port)))
				if err != nil {
					return
				}
				conn.Close()

				mu.Lock()
				open[addr] = append(open[addr], port)
				mu.Unlock()
			}(addr, port)
		}
	}
	wg.Wait()

	out := make([]HostPorts, 0, len(open))
	for addr, p := range open {
		sort.Ints(p)
		out = append(out, HostPorts{IP: addr.String(), OpenPorts: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })

	s.logger.Debug("connect scan complete",
		zap.Int("targets", len(targets)),
		zap.Int("hosts_open", len(out)),
	)
	return out, acquireErr
}
