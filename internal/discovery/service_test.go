package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	tu "github.com/HerbHall/wofinder/internal/testutil"
	"github.com/HerbHall/wofinder/pkg/models"
)

// memoryStore is an in-memory Persister that records saves.
type memoryStore struct {
	mu      sync.Mutex
	servers map[string]models.ServerRecord
	missed  map[string]int
	saves   int
	saveErr error
}

func (m *memoryStore) Load() (map[string]models.ServerRecord, map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	servers := make(map[string]models.ServerRecord, len(m.servers))
	for k, v := range m.servers {
		servers[k] = v
	}
	missed := make(map[string]int, len(m.missed))
	for k, v := range m.missed {
		missed[k] = v
	}
	return servers, missed
}

func (m *memoryStore) Save(servers map[string]models.ServerRecord, missed map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.servers = servers
	m.missed = missed
	return nil
}

func (m *memoryStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// fakeProbe reports fixed records, then returns err or panics.
type fakeProbe struct {
	name    string
	records []models.ServerRecord
	err     error
	panic   bool
	delay   time.Duration
	timeout time.Duration
	ignore  bool // ignore ctx and sleep through delay
}

func (f *fakeProbe) Name() string           { return f.name }
func (f *fakeProbe) Timeout() time.Duration { return f.timeout }

func (f *fakeProbe) Run(ctx context.Context, sink Sink) error {
	if f.delay > 0 {
		if f.ignore {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	for _, rec := range f.records {
		sink.AddServer(rec)
	}
	if f.panic {
		panic("probe exploded")
	}
	return f.err
}

func newTestService(t *testing.T, store *memoryStore, probes ...Probe) (*Service, *tu.Clock) {
	t.Helper()
	clock := tu.NewClock()
	svc := NewService(store, probes, zap.NewNop(), WithServiceClock(clock.Now))
	svc.Start()
	return svc, clock
}

func TestRunDiscoveryCycle_MergesProbesAndPersists(t *testing.T) {
	store := &memoryStore{}
	a := tu.NewServer(tu.WithIP("10.0.0.5"), tu.WithPorts(3040))
	b := tu.NewServer(tu.WithIP("10.0.0.5"), tu.WithPorts(3012),
		tu.WithMethod(models.DiscoveryMulticastJSON), tu.WithServices("Director"))

	svc, clock := newTestService(t, store,
		&fakeProbe{name: "port-scan", records: []models.ServerRecord{a}},
		&fakeProbe{name: "multicast", records: []models.ServerRecord{b}},
	)

	res := svc.RunDiscoveryCycle(context.Background())
	require.True(t, res.Success)
	assert.Len(t, res.Servers, 2)
	assert.Equal(t, 2, res.Online)
	assert.NotEmpty(t, res.ScanID)
	assert.True(t, res.ScanTime.Equal(clock.Now()))
	assert.True(t, svc.LastScanTime().Equal(clock.Now()))

	assert.Equal(t, 1, store.saveCount())
	servers, _ := store.Load()
	assert.Contains(t, servers, "10.0.0.5:3040")
	assert.Contains(t, servers, "10.0.0.5:3012")
}

func TestRunDiscoveryCycle_ProbeFailuresDoNotAbortCycle(t *testing.T) {
	store := &memoryStore{}
	good := tu.NewServer(tu.WithIP("10.0.0.7"))

	svc, _ := newTestService(t, store,
		&fakeProbe{name: "broken", err: errors.New("socket closed")},
		&fakeProbe{name: "panicky", panic: true},
		&fakeProbe{name: "good", records: []models.ServerRecord{good}, delay: 20 * time.Millisecond},
	)

	res := svc.RunDiscoveryCycle(context.Background())
	require.True(t, res.Success)
	require.Len(t, res.Servers, 1)
	assert.Equal(t, good.Key(), res.Servers[0].Key())
}

func TestRunDiscoveryCycle_AbandonsOverrunningProbe(t *testing.T) {
	store := &memoryStore{}
	late := tu.NewServer(tu.WithIP("10.0.0.8"))
	hung := &fakeProbe{
		name:    "hung",
		records: []models.ServerRecord{late},
		delay:   probeGrace + 500*time.Millisecond,
		timeout: 10 * time.Millisecond,
		ignore:  true,
	}
	svc, _ := newTestService(t, store, hung)

	start := time.Now()
	res := svc.RunDiscoveryCycle(context.Background())
	elapsed := time.Since(start)

	require.True(t, res.Success)
	assert.Less(t, elapsed, hung.delay, "cycle should not wait for the hung probe")
	assert.Empty(t, res.Servers)

	time.Sleep(hung.delay)
	assert.Empty(t, svc.Servers(), "late findings are dropped")
}

func TestRunDiscoveryCycle_SaveFailureIsNonFatal(t *testing.T) {
	store := &memoryStore{saveErr: errors.New("disk full")}
	svc, _ := newTestService(t, store, &fakeProbe{name: "p", records: []models.ServerRecord{tu.NewServer()}})

	res := svc.RunDiscoveryCycle(context.Background())
	assert.True(t, res.Success)
	assert.Len(t, res.Servers, 1)
}

func TestRunDiscoveryCycle_RestartKeepsMissedCounts(t *testing.T) {
	store := &memoryStore{}
	rec := tu.NewServer()
	probe := &fakeProbe{name: "p", records: []models.ServerRecord{rec}}

	svc, clock := newTestService(t, store, probe)
	svc.RunDiscoveryCycle(context.Background())
	probe.records = nil
	for i := 0; i < 3; i++ {
		clock.Advance(30 * time.Second)
		svc.RunDiscoveryCycle(context.Background())
	}

	restarted := NewService(store, []Probe{probe}, zap.NewNop(), WithServiceClock(clock.Now))
	restarted.Start()
	assert.Equal(t, 3, restarted.registry.MissedScans(rec.Key()))
}

func TestRunDiscoveryCycle_CancelledCycleDoesNotAge(t *testing.T) {
	store := &memoryStore{}
	rec := tu.NewServer(tu.WithIP("10.0.0.5"))
	probe := &fakeProbe{name: "p", records: []models.ServerRecord{rec}, delay: time.Hour}

	svc, clock := newTestService(t, store, &fakeProbe{name: "p", records: []models.ServerRecord{rec}})
	require.True(t, svc.RunDiscoveryCycle(context.Background()).Success)

	svc.probes = []Probe{probe}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < DefaultOfflineThreshold; i++ {
		clock.Advance(30 * time.Second)
		res := svc.RunDiscoveryCycle(ctx)
		assert.False(t, res.Success)
		assert.Equal(t, context.Canceled.Error(), res.Error)
		require.Len(t, res.Servers, 1)
		assert.Equal(t, models.ServerStatusOnline, res.Servers[0].Status)
	}

	assert.Equal(t, 0, svc.registry.MissedScans(rec.Key()))
	_, missed := store.Load()
	assert.Zero(t, missed[rec.Key()])
	servers := svc.Servers()
	require.Len(t, servers, 1)
	assert.Equal(t, models.ServerStatusOnline, servers[0].Status)
}

func TestRunDiscoveryCycle_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	store := &memoryStore{}
	svc := NewService(store, []Probe{
		&fakeProbe{name: "p", records: []models.ServerRecord{tu.NewServer()}},
	}, zap.NewNop(), WithMetrics(m))
	svc.Start()

	svc.RunDiscoveryCycle(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probeFindings.WithLabelValues("p")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.servers.WithLabelValues("online")))
}

func TestClearOfflineServers_Persists(t *testing.T) {
	store := &memoryStore{}
	offline := tu.NewServer(tu.WithIP("10.0.0.1"))
	offline.Status = models.ServerStatusOffline
	offline.LastSeenAt = time.Now()
	store.servers = map[string]models.ServerRecord{offline.Key(): offline}

	svc, _ := newTestService(t, store)
	res := svc.ClearOfflineServers()

	require.True(t, res.Success)
	assert.Equal(t, 1, res.Removed)
	assert.Empty(t, svc.Servers())
	assert.Equal(t, 1, store.saveCount())
}

func TestAddManualServer(t *testing.T) {
	store := &memoryStore{}
	svc, clock := newTestService(t, store)

	res := svc.AddManualServer(ManualServerInput{IP: "192.168.10.20", Hostname: "foh-production"})
	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.Server)

	got := *res.Server
	assert.Equal(t, "192.168.10.20:3022,3040,3041,3042", got.Key())
	assert.True(t, got.IsManual)
	assert.Equal(t, models.DiscoveryManual, got.DiscoveryMethod)
	assert.Equal(t, models.ServerStatusOnline, got.Status)
	assert.True(t, got.FirstDiscoveredAt.Equal(clock.Now()))
	assert.Equal(t, 1, store.saveCount())
	assert.Len(t, svc.Servers(), 1)
}

func TestAddManualServer_Validation(t *testing.T) {
	svc, _ := newTestService(t, &memoryStore{})

	tests := []struct {
		name string
		in   ManualServerInput
		want error
	}{
		{"empty ip", ManualServerInput{}, ErrInvalidIP},
		{"hostname not ip", ManualServerInput{IP: "stage.local"}, ErrInvalidIP},
		{"ipv6", ManualServerInput{IP: "fe80::1"}, ErrInvalidIP},
		{"octet overflow", ManualServerInput{IP: "192.168.1.300"}, ErrInvalidIP},
		{"port zero", ManualServerInput{IP: "10.0.0.1", Ports: []int{0}}, ErrInvalidPort},
		{"port too high", ManualServerInput{IP: "10.0.0.1", Ports: []int{70000}}, ErrInvalidPort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.AddManualServer(tt.in)
			assert.False(t, res.Success)
			assert.True(t, strings.HasPrefix(res.Error, tt.want.Error()), "error %q, want prefix %q", res.Error, tt.want)
		})
	}
	assert.Empty(t, svc.Servers())
}

func TestAddManualServer_CustomPortsAreNormalized(t *testing.T) {
	svc, _ := newTestService(t, &memoryStore{})

	res := svc.AddManualServer(ManualServerInput{IP: "10.0.0.1", Ports: []int{3041, 3040, 3041}})
	require.True(t, res.Success)
	assert.Equal(t, []int{3040, 3041}, res.Server.Ports)
}

func TestUpdateManualServer(t *testing.T) {
	store := &memoryStore{}
	svc, _ := newTestService(t, store)

	added := svc.AddManualServer(ManualServerInput{IP: "10.0.0.1"})
	require.True(t, added.Success)
	id := added.Server.Key()

	res := svc.UpdateManualServer(id, ManualServerInput{Hostname: "display-2"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "display-2", res.Server.Hostname)
	assert.Equal(t, id, res.Server.Key())

	res = svc.UpdateManualServer(id, ManualServerInput{IP: "10.0.0.2", Ports: []int{3040}})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "10.0.0.2:3040", res.Server.Key())
	assert.Equal(t, "display-2", res.Server.Hostname)
	assert.True(t, res.Server.IsManual)

	view := svc.Servers()
	require.Len(t, view, 1)
	assert.Equal(t, "10.0.0.2:3040", view[0].Key())
	assert.Equal(t, 3, store.saveCount())
}

func TestUpdateManualServer_Errors(t *testing.T) {
	store := &memoryStore{}
	discovered := tu.NewServer(tu.WithIP("10.0.0.9"))
	discovered.LastSeenAt = time.Now()
	store.servers = map[string]models.ServerRecord{discovered.Key(): discovered}
	svc, _ := newTestService(t, store)

	res := svc.UpdateManualServer("10.0.0.99:3040", ManualServerInput{Hostname: "x"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrServerNotFound.Error())

	res = svc.UpdateManualServer(discovered.Key(), ManualServerInput{Hostname: "x"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrNotManual.Error())

	a := svc.AddManualServer(ManualServerInput{IP: "10.0.0.1", Ports: []int{3040}})
	b := svc.AddManualServer(ManualServerInput{IP: "10.0.0.2", Ports: []int{3040}})
	require.True(t, a.Success && b.Success)
	res = svc.UpdateManualServer(a.Server.Key(), ManualServerInput{IP: "10.0.0.2"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrServerExists.Error())

	res = svc.UpdateManualServer(a.Server.Key(), ManualServerInput{IP: "not-an-ip"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrInvalidIP.Error())
}

func TestRemoveManualServer(t *testing.T) {
	store := &memoryStore{}
	svc, _ := newTestService(t, store)

	added := svc.AddManualServer(ManualServerInput{IP: "10.0.0.1"})
	require.True(t, added.Success)

	res := svc.RemoveManualServer(added.Server.Key())
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Removed)
	assert.Empty(t, svc.Servers())

	res = svc.RemoveManualServer(added.Server.Key())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrServerNotFound.Error())
}

func TestResult_ErrSupportsErrorsIs(t *testing.T) {
	svc, _ := newTestService(t, &memoryStore{})

	res := svc.RemoveManualServer("10.0.0.1:3040")
	assert.ErrorIs(t, res.Err(), ErrServerNotFound)

	res = svc.AddManualServer(ManualServerInput{IP: "bogus"})
	assert.ErrorIs(t, res.Err(), ErrInvalidIP)

	res = svc.AddManualServer(ManualServerInput{IP: "10.0.0.1"})
	assert.NoError(t, res.Err())
}
