package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/111LegendaryDude111/Ai-Avatar/internal/storage"
)

// Entry records one finished generation keyed by its fingerprint. The
// fingerprint-to-artifact mapping is written once and never mutated;
// LastUsed and Hits are index bookkeeping.
type Entry struct {
	Key       string
	Ref       storage.Ref
	Backend   string
	CreatedAt time.Time
	LastUsed  time.Time
	Hits      int
}

// Policy decides which entries to drop as the index grows. Implementations
// see a snapshot of all entries and return the keys to remove.
type Policy interface {
	Evict(entries []Entry) []string
}

// MaxEntriesPolicy keeps at most Max entries, dropping the least recently
// used first. Max <= 0 keeps everything.
type MaxEntriesPolicy struct {
	Max int
}

// Evict returns the least recently used keys beyond the Max bound.
func (p MaxEntriesPolicy) Evict(entries []Entry) []string {
	if p.Max <= 0 || len(entries) <= p.Max {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastUsed.Equal(entries[j].LastUsed) {
			return entries[i].LastUsed.Before(entries[j].LastUsed)
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].Key < entries[j].Key
	})

	keys := make([]string, 0, len(entries)-p.Max)
	for _, e := range entries[:len(entries)-p.Max] {
		keys = append(keys, e.Key)
	}
	return keys
}

// Index is the in-memory fingerprint index with optional single-flight
// tracking of in-progress builds. Safe for concurrent use.
type Index struct {
	mu      sync.Mutex
	entries map[string]*Entry
	flights map[string]string
	policy  Policy
}

// NewIndex creates an empty index. A nil policy keeps the index unbounded.
func NewIndex(policy Policy) *Index {
	return &Index{
		entries: make(map[string]*Entry),
		flights: make(map[string]string),
		policy:  policy,
	}
}

// Lookup returns the entry for a fingerprint and records the use.
func (idx *Index) Lookup(key string) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.entries[key]
	if !ok {
		return Entry{}, false
	}
	e.LastUsed = time.Now()
	e.Hits++
	return *e, true
}

// Register stores a fingerprint-to-artifact mapping and applies the
// eviction policy. The first registration of a key wins; later calls for
// the same key are ignored.
func (idx *Index) Register(key string, ref storage.Ref, backend string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.entries[key]; ok {
		return
	}

	now := time.Now()
	idx.entries[key] = &Entry{
		Key:       key,
		Ref:       ref,
		Backend:   backend,
		CreatedAt: now,
		LastUsed:  now,
	}

	if idx.policy == nil {
		return
	}
	snapshot := make([]Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		snapshot = append(snapshot, *e)
	}
	for _, k := range idx.policy.Evict(snapshot) {
		delete(idx.entries, k)
	}
}

// Drop removes a fingerprint. Used when a cached artifact turns out to be
// gone from storage, so the next submission regenerates it.
func (idx *Index) Drop(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, key)
}

// Len reports the number of cached fingerprints.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.entries)
}

// BeginFlight marks a fingerprint as being built by jobID. When another
// build for the same fingerprint is already in flight it returns that
// job's ID and false, so callers can join it instead of starting a
// duplicate build.
func (idx *Index) BeginFlight(key, jobID string) (string, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.flights[key]; ok {
		return existing, false
	}
	idx.flights[key] = jobID
	return jobID, true
}

// EndFlight drops the in-flight marker for a fingerprint. Called on every
// terminal outcome, success or failure.
func (idx *Index) EndFlight(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.flights, key)
}
