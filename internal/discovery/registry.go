package discovery

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/wofinder/pkg/models"
)

// DefaultOfflineThreshold is the number of consecutive missed cycles after
// which a known server is reported offline.
const DefaultOfflineThreshold = 10

// offlineSuffix is appended to the type of servers reported offline.
const offlineSuffix = " (Offline)"

// Registry is the in-memory record of every server ever seen. It owns three
// maps keyed by identity key:
//
//   - cache: every known server, persisted between runs
//   - current: servers in the view for the running or last cycle
//   - missed: consecutive cycles each cached server went unconfirmed
//
// Probes report from their own goroutines, so every method locks.
type Registry struct {
	threshold int
	now       func() time.Time

	mu      sync.Mutex
	cache   map[string]models.ServerRecord
	current map[string]models.ServerRecord
	missed  map[string]int
}

// NewRegistry creates an empty registry. A threshold below 1 uses
// DefaultOfflineThreshold; a nil now uses time.Now.
func NewRegistry(threshold int, now func() time.Time) *Registry {
	if threshold < 1 {
		threshold = DefaultOfflineThreshold
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		threshold: threshold,
		now:       now,
		cache:     make(map[string]models.ServerRecord),
		current:   make(map[string]models.ServerRecord),
		missed:    make(map[string]int),
	}
}

// Restore replaces the cache and missed-scan state, typically with the
// contents of the cache file at startup. Restored servers also populate the
// current view so they are visible before the first cycle completes.
func (r *Registry) Restore(servers map[string]models.ServerRecord, missed map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = make(map[string]models.ServerRecord, len(servers))
	r.current = make(map[string]models.ServerRecord, len(servers))
	for _, rec := range servers {
		key := rec.Key()
		r.cache[key] = rec.Clone()
		r.current[key] = rec.Clone()
	}
	r.missed = make(map[string]int, len(missed))
	for k, n := range missed {
		if _, ok := r.cache[k]; ok && n > 0 {
			r.missed[k] = n
		}
	}
}

// BeginCycle clears the current-scan map ahead of a new discovery cycle.
func (r *Registry) BeginCycle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = make(map[string]models.ServerRecord)
}

// AddServer records a live confirmation of rec. The record is stamped
// online and seen now, its missed-scan counter is cleared, and it is merged
// over any earlier sighting of the same identity. firstDiscoveredAt is kept
// from the earliest sighting.
func (r *Registry) AddServer(rec models.ServerRecord) {
	now := r.now()

	rec = rec.Clone()
	if rec.Hostname == "" {
		rec.Hostname = rec.IP
	}
	rec.DiscoveredAt = now
	rec.LastSeenAt = now
	rec.Status = models.ServerStatusOnline
	key := rec.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.missed, key)

	merged := rec
	if existing, ok := r.current[key]; ok {
		merged = models.Merge(existing, rec)
	}

	cached, known := r.cache[key]
	if known && !cached.FirstDiscoveredAt.IsZero() {
		merged.FirstDiscoveredAt = cached.FirstDiscoveredAt
	} else {
		merged.FirstDiscoveredAt = merged.DiscoveredAt
	}

	if known {
		merged = models.Merge(cached, merged)
	}
	markOnline(&merged)

	r.cache[key] = merged
	r.current[key] = merged.Clone()
}

// ProcessCachedServers ages every cached server that no probe reconfirmed
// in the current cycle. Each one gains a missed scan; at the offline
// threshold it is reported offline since scanStart, below it stays online.
// Either way it stays in the view. The full current view is returned.
func (r *Registry) ProcessCachedServers(scanStart time.Time) []models.ServerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, rec := range r.cache {
		if _, confirmed := r.current[key]; confirmed {
			continue
		}

		r.missed[key]++
		if r.missed[key] >= r.threshold {
			if rec.Status != models.ServerStatusOffline || rec.OfflineSince.IsZero() {
				rec.OfflineSince = scanStart
			}
			rec.Status = models.ServerStatusOffline
			if !strings.HasSuffix(rec.Type, offlineSuffix) {
				rec.Type += offlineSuffix
			}
		} else {
			markOnline(&rec)
		}

		r.cache[key] = rec
		r.current[key] = rec.Clone()
	}

	return r.viewLocked()
}

// AbandonCycle ends an interrupted cycle without aging anyone. Cached
// servers nobody reconfirmed return to the view unchanged and their
// missed-scan counters are left as they were. The full view is returned.
func (r *Registry) AbandonCycle() []models.ServerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, rec := range r.cache {
		if _, ok := r.current[key]; !ok {
			r.current[key] = rec.Clone()
		}
	}
	return r.viewLocked()
}

// ClearOfflineServers forgets every offline server and returns how many
// were removed.
func (r *Registry) ClearOfflineServers() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := make(map[string]struct{})
	for key, rec := range r.cache {
		if rec.Status == models.ServerStatusOffline {
			removed[key] = struct{}{}
		}
	}
	for key, rec := range r.current {
		if rec.Status == models.ServerStatusOffline {
			removed[key] = struct{}{}
		}
	}
	for key := range removed {
		delete(r.cache, key)
		delete(r.current, key)
		delete(r.missed, key)
	}
	return len(removed)
}

// Servers returns the current view sorted by identity key.
func (r *Registry) Servers() []models.ServerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// Get returns the cached server with the given identity key.
func (r *Registry) Get(key string) (models.ServerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.cache[key]
	if !ok {
		return models.ServerRecord{}, false
	}
	return rec.Clone(), true
}

// Put stores rec as-is in both the cache and the current view and clears
// its missed-scan counter. It bypasses probe stamping and is used for
// manual servers.
func (r *Registry) Put(rec models.ServerRecord) {
	key := rec.Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = rec.Clone()
	r.current[key] = rec.Clone()
	delete(r.missed, key)
}

// Remove forgets the server with the given key. It reports whether the
// server existed.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, inCache := r.cache[key]
	_, inCurrent := r.current[key]
	delete(r.cache, key)
	delete(r.current, key)
	delete(r.missed, key)
	return inCache || inCurrent
}

// MissedScans returns the missed-scan counter for key.
func (r *Registry) MissedScans(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.missed[key]
}

// Snapshot returns copies of the cache and missed-scan maps for persistence.
func (r *Registry) Snapshot() (map[string]models.ServerRecord, map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	servers := make(map[string]models.ServerRecord, len(r.cache))
	for k, rec := range r.cache {
		servers[k] = rec.Clone()
	}
	missed := make(map[string]int, len(r.missed))
	for k, n := range r.missed {
		missed[k] = n
	}
	return servers, missed
}

func (r *Registry) viewLocked() []models.ServerRecord {
	keys := make([]string, 0, len(r.current))
	for k := range r.current {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]models.ServerRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.current[k].Clone())
	}
	return out
}

// markOnline sets rec online and drops any offline marker.
func markOnline(rec *models.ServerRecord) {
	rec.Status = models.ServerStatusOnline
	rec.OfflineSince = time.Time{}
	rec.Type = strings.TrimSuffix(rec.Type, offlineSuffix)
}
