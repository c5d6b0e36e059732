package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/wofinder/pkg/models"
)

// probeGrace is how long a probe may overrun its deadline before the
// cycle stops waiting for it.
const probeGrace = time.Second

const manualType = "Watchout Server (Manual)"

// Persister loads and saves registry state.
type Persister interface {
	Load() (map[string]models.ServerRecord, map[string]int)
	Save(servers map[string]models.ServerRecord, missed map[string]int) error
}

// CycleResult is the outcome of one discovery cycle.
type CycleResult struct {
	Success  bool                  `json:"success"`
	Error    string                `json:"error,omitempty"`
	ScanID   string                `json:"scanId,omitempty"`
	ScanTime time.Time             `json:"scanTime,omitzero"`
	Servers  []models.ServerRecord `json:"servers"`
	Online   int                   `json:"online"`
	Offline  int                   `json:"offline"`
}

// Result is the outcome of a server-management operation.
type Result struct {
	Success bool                 `json:"success"`
	Error   string               `json:"error,omitempty"`
	Server  *models.ServerRecord `json:"server,omitempty"`
	Removed int                  `json:"removed,omitempty"`

	err error
}

// Err returns the error behind a failed result, for errors.Is checks.
func (r Result) Err() error { return r.err }

// ManualServerInput describes a manually added or edited server.
type ManualServerInput struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname,omitempty"`
	Ports    []int  `json:"ports,omitempty"`
	Type     string `json:"type,omitempty"`
}

// Service runs discovery cycles and manages the server registry. Construct
// one per process and share it.
//
// RunDiscoveryCycle holds no lock of its own: callers serialize cycles.
type Service struct {
	registry     *Registry
	store        Persister
	probes       []Probe
	probeTimeout time.Duration
	metrics      *Metrics
	logger       *zap.Logger
	now          func() time.Time

	mu           sync.RWMutex
	lastScanTime time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithProbeTimeout sets the window for probes that do not declare their own.
func WithProbeTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// WithOfflineThreshold sets the consecutive misses before a server goes
// offline.
func WithOfflineThreshold(n int) ServiceOption {
	return func(s *Service) { s.registry.threshold = max(n, 1) }
}

// NewService creates a discovery service. Call Start before the first cycle.
func NewService(store Persister, probes []Probe, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:        store,
		probes:       probes,
		probeTimeout: DefaultProbeTimeout,
		logger:       logger,
		now:          time.Now,
	}
	s.registry = NewRegistry(DefaultOfflineThreshold, func() time.Time { return s.now() })
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s
}

// Start loads persisted servers into the registry.
func (s *Service) Start() {
	servers, missed := s.store.Load()
	s.registry.Restore(servers, missed)

	names := make([]string, len(s.probes))
	for i, p := range s.probes {
		names[i] = p.Name()
	}
	s.logger.Info("discovery service started",
		zap.Int("cached_servers", len(servers)),
		zap.Strings("probes", names),
	)
}

// Servers returns the current view.
func (s *Service) Servers() []models.ServerRecord {
	return s.registry.Servers()
}

// LastScanTime returns when the most recent cycle started.
func (s *Service) LastScanTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastScanTime
}

// RunDiscoveryCycle runs every probe concurrently, waits for all of them to
// settle, ages servers nobody reconfirmed, persists the registry and returns
// the full view. Probe failures never fail the cycle. A cycle whose ctx is
// cancelled ages nobody and reports failure.
func (s *Service) RunDiscoveryCycle(ctx context.Context) (result CycleResult) {
	scanID := uuid.NewString()
	log := s.logger.With(zap.String("scan_id", scanID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("discovery cycle failed", zap.Any("panic", r))
			result = CycleResult{Success: false, Error: fmt.Sprint(r), ScanID: scanID}
		}
	}()

	start := s.now()
	s.mu.Lock()
	s.lastScanTime = start
	s.mu.Unlock()

	s.registry.BeginCycle()
	log.Debug("discovery cycle started", zap.Int("probes", len(s.probes)))

	var wg sync.WaitGroup
	for _, p := range s.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			s.runProbe(ctx, p, log)
		}(p)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		view := s.registry.AbandonCycle()
		s.persist()
		log.Info("discovery cycle interrupted, servers not aged", zap.Error(err))
		return CycleResult{Success: false, Error: err.Error(), ScanID: scanID, ScanTime: start, Servers: view}
	}

	view := s.registry.ProcessCachedServers(start)
	s.persist()

	result = CycleResult{Success: true, ScanID: scanID, ScanTime: start, Servers: view}
	for _, rec := range view {
		if rec.Status == models.ServerStatusOffline {
			result.Offline++
		} else {
			result.Online++
		}
	}

	s.metrics.cycles.Inc()
	s.metrics.cycleDuration.Observe(time.Since(start).Seconds())
	s.metrics.observeView(view)

	log.Info("discovery cycle complete",
		zap.Int("servers", len(view)),
		zap.Int("online", result.Online),
		zap.Int("offline", result.Offline),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result
}

// runProbe runs p under its own deadline. Errors and panics are logged and
// discarded. A probe that ignores its deadline is abandoned after
// probeGrace and its late findings are dropped.
func (s *Service) runProbe(ctx context.Context, p Probe, log *zap.Logger) {
	timeout := s.probeTimeout
	if tp, ok := p.(TimeoutProbe); ok && tp.Timeout() > 0 {
		timeout = tp.Timeout()
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log = log.With(zap.String("probe", p.Name()))
	sink := &guardedSink{next: s.registry, metrics: s.metrics, probe: p.Name()}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.metrics.probeFailures.WithLabelValues(p.Name()).Inc()
				log.Error("probe panicked", zap.Any("panic", r))
			}
		}()
		if err := p.Run(pctx, sink); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			s.metrics.probeFailures.WithLabelValues(p.Name()).Inc()
			log.Warn("probe failed", zap.Error(err))
		}
	}()

	select {
	case <-done:
	case <-pctx.Done():
		select {
		case <-done:
		case <-time.After(probeGrace):
			sink.close()
			s.metrics.probeFailures.WithLabelValues(p.Name()).Inc()
			log.Warn("probe overran its deadline, abandoning", zap.Duration("timeout", timeout))
		}
	}
	log.Debug("probe settled", zap.Int("found", sink.count()))
}

// guardedSink forwards findings to the registry until closed.
type guardedSink struct {
	next    Sink
	metrics *Metrics
	probe   string

	mu     sync.Mutex
	closed bool
	found  int
}

func (g *guardedSink) AddServer(rec models.ServerRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.found++
	g.metrics.probeFindings.WithLabelValues(g.probe).Inc()
	g.next.AddServer(rec)
}

func (g *guardedSink) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

func (g *guardedSink) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.found
}

// ClearOfflineServers forgets every offline server and persists.
func (s *Service) ClearOfflineServers() Result {
	removed := s.registry.ClearOfflineServers()
	s.persist()
	s.logger.Info("cleared offline servers", zap.Int("removed", removed))
	return Result{Success: true, Removed: removed}
}

// AddManualServer registers a server by hand. Adding over an existing
// identity converts that record to a manual one.
func (s *Service) AddManualServer(in ManualServerInput) Result {
	rec, err := manualRecord(in)
	if err != nil {
		return failure(err)
	}

	now := s.now()
	rec.DiscoveredAt = now
	rec.LastSeenAt = now
	rec.FirstDiscoveredAt = now
	rec.Status = models.ServerStatusOnline

	if existing, ok := s.registry.Get(rec.Key()); ok {
		if !existing.FirstDiscoveredAt.IsZero() {
			rec.FirstDiscoveredAt = existing.FirstDiscoveredAt
		}
		rec = models.Merge(existing, rec)
		markOnline(&rec)
	}

	s.registry.Put(rec)
	s.persist()
	s.logger.Info("manual server added", zap.String("id", rec.Key()), zap.String("hostname", rec.Hostname))
	return Result{Success: true, Server: &rec}
}

// UpdateManualServer edits the manual server with identity key id. A
// changed ip or port set re-keys the server.
func (s *Service) UpdateManualServer(id string, in ManualServerInput) Result {
	existing, ok := s.registry.Get(id)
	if !ok {
		return failure(fmt.Errorf("%w: %s", ErrServerNotFound, id))
	}
	if !existing.IsManual {
		return failure(fmt.Errorf("%w: %s", ErrNotManual, id))
	}

	if in.IP == "" {
		in.IP = existing.IP
	}
	if in.Ports == nil {
		in.Ports = existing.Ports
	}
	patch, err := manualRecord(in)
	if err != nil {
		return failure(err)
	}
	if in.Hostname == "" {
		patch.Hostname = ""
	}
	if in.Type == "" {
		patch.Type = ""
	}
	if patch.IP != existing.IP && existing.Hostname == existing.IP && in.Hostname == "" {
		patch.Hostname = patch.IP
	}

	updated := models.Merge(existing, patch)
	updated.Ports = patch.Ports
	newKey := updated.Key()
	if newKey != id {
		if _, taken := s.registry.Get(newKey); taken {
			return failure(fmt.Errorf("%w: %s", ErrServerExists, newKey))
		}
		s.registry.Remove(id)
	}

	s.registry.Put(updated)
	s.persist()
	s.logger.Info("manual server updated", zap.String("id", id), zap.String("new_id", newKey))
	return Result{Success: true, Server: &updated}
}

// RemoveManualServer forgets the server with identity key id.
func (s *Service) RemoveManualServer(id string) Result {
	if !s.registry.Remove(id) {
		return failure(fmt.Errorf("%w: %s", ErrServerNotFound, id))
	}
	s.persist()
	s.logger.Info("server removed", zap.String("id", id))
	return Result{Success: true, Removed: 1}
}

// persist saves the registry. Failures are logged by the store and
// otherwise ignored.
func (s *Service) persist() {
	servers, missed := s.registry.Snapshot()
	_ = s.store.Save(servers, missed)
}

// manualRecord validates in and builds the base manual record.
func manualRecord(in ManualServerInput) (models.ServerRecord, error) {
	addr, err := netip.ParseAddr(in.IP)
	if err != nil || !addr.Is4() {
		return models.ServerRecord{}, fmt.Errorf("%w: %q", ErrInvalidIP, in.IP)
	}

	ports := slices.Clone(in.Ports)
	if len(ports) == 0 {
		ports = slices.Clone(models.DefaultManualPorts)
	}
	for _, p := range ports {
		if p < 1 || p > 65535 {
			return models.ServerRecord{}, fmt.Errorf("%w: %d", ErrInvalidPort, p)
		}
	}
	slices.Sort(ports)
	ports = slices.Compact(ports)

	ip := addr.String()
	hostname := in.Hostname
	if hostname == "" {
		hostname = ip
	}
	typ := in.Type
	if typ == "" {
		typ = manualType
	}
	return models.ServerRecord{
		IP:              ip,
		Hostname:        hostname,
		Ports:           ports,
		Type:            typ,
		DiscoveryMethod: models.DiscoveryManual,
		IsManual:        true,
	}, nil
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error(), err: err}
}
