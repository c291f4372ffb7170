// Package session keeps the per-vehicle state assembled from Torque
// uploads. Torque sends a handful of parameters per request, so a session
// accumulates the latest value of every field along with the names and
// units the app declared for them.
//
// A [Store] owns every [Record]. Mutation happens one session at a time
// under that session's lock; readers get deep copies via
// [Store.Snapshot] and never observe a half-applied upload.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrMissingSession is returned when an upload has no session identifier.
var ErrMissingSession = errors.New("missing session")

// Pair is one key/value pair from an upload, in the order it was sent.
type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Record is the accumulated state of one session. Maps keyed by field
// code hold only the latest value; no history is retained.
type Record struct {
	Profile     map[string]string `json:"profile"`
	Unit        map[string]string `json:"unit"`
	DefaultUnit map[string]string `json:"default_unit"`
	FullName    map[string]string `json:"full_name"`
	ShortName   map[string]string `json:"short_name"`
	Value       map[string]string `json:"value"`
	Unknown     []Pair            `json:"unknown"`
	Time        string            `json:"time"`
	LastSeen    time.Time         `json:"last_seen"`
}

func newRecord() Record {
	return Record{
		Profile:     make(map[string]string),
		Unit:        make(map[string]string),
		DefaultUnit: make(map[string]string),
		FullName:    make(map[string]string),
		ShortName:   make(map[string]string),
		Value:       make(map[string]string),
		Unknown:     []Pair{},
	}
}

func (r *Record) clone() Record {
	out := Record{
		Profile:     cloneMap(r.Profile),
		Unit:        cloneMap(r.Unit),
		DefaultUnit: cloneMap(r.DefaultUnit),
		FullName:    cloneMap(r.FullName),
		ShortName:   cloneMap(r.ShortName),
		Value:       cloneMap(r.Value),
		Unknown:     make([]Pair, len(r.Unknown)),
		Time:        r.Time,
		LastSeen:    r.LastSeen,
	}
	copy(out.Unknown, r.Unknown)
	return out
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Codes returns the field codes that currently have a value, sorted.
func (r *Record) Codes() []string {
	codes := make([]string, 0, len(r.Value))
	for c := range r.Value {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

type entry struct {
	mu  sync.RWMutex
	rec Record
	// seen holds, per unknown pair, the most times it has appeared in a
	// single upload, so replayed uploads do not grow rec.Unknown.
	seen map[Pair]int
}

// Summary is a short description of a session for diagnostics listings.
type Summary struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Fields   int       `json:"fields"`
	Unknown  int       `json:"unknown"`
	LastSeen time.Time `json:"last_seen"`
}

// Store holds all session records for the lifetime of the process.
// Records are created lazily on first sight and are only removed by an
// explicit [Store.Sweep].
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
	logger  *slog.Logger
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  logger,
	}
}

// update runs fn against the session's entry with the session lock held,
// creating the entry first if needed. The store read lock is held for the
// duration so a concurrent Sweep cannot orphan the entry mid-update.
func (s *Store) update(id string, fn func(e *entry)) {
	for {
		s.mu.RLock()
		e, ok := s.entries[id]
		if ok {
			e.mu.Lock()
			fn(e)
			e.rec.LastSeen = s.now()
			e.mu.Unlock()
			s.mu.RUnlock()
			return
		}
		s.mu.RUnlock()

		s.mu.Lock()
		if _, ok := s.entries[id]; !ok {
			s.entries[id] = &entry{rec: newRecord(), seen: make(map[Pair]int)}
			s.logger.Debug("session created", "session", id)
		}
		s.mu.Unlock()
	}
}

// Snapshot returns a deep copy of the session's record.
func (s *Store) Snapshot(id string) (Record, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rec.clone(), true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// List returns a summary of every session, most recently seen first.
func (s *Store) List() []Summary {
	s.mu.RLock()
	out := make([]Summary, 0, len(s.entries))
	for id, e := range s.entries {
		e.mu.RLock()
		name := e.rec.Profile["Name"]
		out = append(out, Summary{
			ID:       id,
			Name:     name,
			Fields:   len(e.rec.Value),
			Unknown:  len(e.rec.Unknown),
			LastSeen: e.rec.LastSeen,
		})
		e.mu.RUnlock()
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// Sweep removes sessions that have not been updated within idle and
// returns their identifiers. A non-positive idle removes nothing.
func (s *Store) Sweep(idle time.Duration) []string {
	if idle <= 0 {
		return nil
	}
	cutoff := s.now().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, e := range s.entries {
		e.mu.RLock()
		stale := e.rec.LastSeen.Before(cutoff)
		e.mu.RUnlock()
		if stale {
			delete(s.entries, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// RunEviction sweeps idle sessions every interval until ctx is cancelled.
// It returns immediately when idle is not positive, which leaves records
// alive for the lifetime of the process.
func (s *Store) RunEviction(ctx context.Context, idle, interval time.Duration) {
	if idle <= 0 {
		return
	}
	if interval <= 0 {
		interval = max(idle/2, time.Second)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.Sweep(idle); len(evicted) > 0 {
				s.logger.Info("idle sessions evicted",
					"count", len(evicted),
					"idle", idle.String(),
				)
			}
		}
	}
}
