// Package cache persists the server registry to a per-user JSON file so
// known servers survive application restarts.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/wofinder/pkg/models"
)

// DefaultMaxAge is how long an unconfirmed server survives in the cache
// file across restarts.
const DefaultMaxAge = 24 * time.Hour

// snapshot is the on-disk layout.
type snapshot struct {
	LastUpdated time.Time             `json:"lastUpdated"`
	Servers     []models.ServerRecord `json:"servers"`
	MissedScans map[string]int        `json:"missedScans"`
}

// Store reads and writes the cache file. It holds no server state itself.
type Store struct {
	path   string
	maxAge time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu sync.Mutex // serializes writers
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAge overrides DefaultMaxAge.
func WithMaxAge(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithClock overrides the time source used for expiry and lastUpdated.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store backed by the file at path.
func New(path string, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		path:   path,
		maxAge: DefaultMaxAge,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the cache file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the cache file. A missing file yields empty maps silently; any
// other failure is logged and also yields empty maps. Entries last seen more
// than maxAge ago are dropped, and every kept entry is marked offline until
// a live probe reconfirms it.
func (s *Store) Load() (map[string]models.ServerRecord, map[string]int) {
	servers := make(map[string]models.ServerRecord)
	missed := make(map[string]int)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to read server cache",
				zap.String("path", s.path),
				zap.Error(err),
			)
		}
		return servers, missed
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("server cache is corrupt, starting empty",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return servers, missed
	}

	cutoff := s.now().Add(-s.maxAge)
	var expired int
	for _, rec := range snap.Servers {
		if rec.IP == "" || rec.LastSeenAt.IsZero() || rec.LastSeenAt.Before(cutoff) {
			expired++
			continue
		}
		rec.Status = models.ServerStatusOffline
		key := rec.Key()
		servers[key] = rec
		if n, ok := snap.MissedScans[key]; ok && n > 0 {
			missed[key] = n
		}
	}

	s.logger.Info("server cache loaded",
		zap.String("path", s.path),
		zap.Int("servers", len(servers)),
		zap.Int("expired", expired),
	)
	return servers, missed
}

// Save overwrites the cache file with the given state. The file is written
// to a temporary sibling and renamed into place.
func (s *Store) Save(servers map[string]models.ServerRecord, missed map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(servers))
	for k := range servers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	snap := snapshot{
		LastUpdated: s.now().UTC(),
		Servers:     make([]models.ServerRecord, 0, len(keys)),
		MissedScans: make(map[string]int, len(missed)),
	}
	for _, k := range keys {
		snap.Servers = append(snap.Servers, servers[k])
	}
	for k, n := range missed {
		snap.MissedScans[k] = n
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return s.logSaveErr(fmt.Errorf("encode server cache: %w", err))
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return s.logSaveErr(fmt.Errorf("create cache dir: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".servers-*.json")
	if err != nil {
		return s.logSaveErr(fmt.Errorf("create temp cache file: %w", err))
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return s.logSaveErr(fmt.Errorf("write temp cache file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return s.logSaveErr(fmt.Errorf("close temp cache file: %w", err))
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return s.logSaveErr(fmt.Errorf("replace cache file: %w", err))
	}

	s.logger.Debug("server cache saved",
		zap.String("path", s.path),
		zap.Int("servers", len(snap.Servers)),
	)
	return nil
}

func (s *Store) logSaveErr(err error) error {
	s.logger.Warn("failed to save server cache", zap.String("path", s.path), zap.Error(err))
	return err
}
