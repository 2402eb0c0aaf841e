package ransac

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ResultsCacheFile is the default cache file name inside a data directory
const ResultsCacheFile = ".loransac-results.json"

// Entry is a solved problem kept by the store
type Entry struct {
	Problem  *Problem  `json:"problem"`
	Solution *Solution `json:"solution"`
}

// Summary is the short form of a solution used in listings
type Summary struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Inliers     int       `json:"inliers"`
	Total       int       `json:"total"`
	InlierRatio float64   `json:"inlierRatio"`
	RMSE        float64   `json:"rmse"`
	SolvedAt    time.Time `json:"solvedAt"`
}

// Summarize returns the listing form of a solution
func Summarize(s *Solution) Summary {
	return Summary{
		ID:          s.ID,
		Kind:        s.Kind,
		Inliers:     s.Score.Inliers,
		Total:       s.Total,
		InlierRatio: s.InlierRatio(),
		RMSE:        s.RMSE,
		SolvedAt:    s.SolvedAt,
	}
}

// ResultStore keeps the latest solution per problem ID for the HTTP and
// MQTT surfaces
type ResultStore struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	cachePath string     // empty disables persistence
	saveMu    sync.Mutex // orders snapshot and write of the cache file
}

// NewResultStore creates an in-memory store
func NewResultStore() *ResultStore {
	return &ResultStore{entries: make(map[string]*Entry)}
}

// NewResultStoreWithCache creates a store persisted to cachePath. Existing
// entries are loaded when the file is readable.
func NewResultStoreWithCache(cachePath string) *ResultStore {
	rs := NewResultStore()
	rs.cachePath = cachePath
	if cachePath != "" {
		if entries, err := LoadResults(cachePath); err == nil {
			rs.entries = entries
		} else if !os.IsNotExist(err) {
			log.Printf("warning: ignoring results cache: %v", err)
		}
	}
	return rs
}

// Put stores a solution together with its problem. With a cache the
// snapshot and the write happen under one lock, so the file always holds
// every entry stored before it.
func (rs *ResultStore) Put(p *Problem, s *Solution) {
	rs.saveMu.Lock()
	defer rs.saveMu.Unlock()

	rs.mu.Lock()
	rs.entries[s.ID] = &Entry{Problem: p, Solution: s}
	var snapshot map[string]*Entry
	if rs.cachePath != "" {
		snapshot = make(map[string]*Entry, len(rs.entries))
		for k, v := range rs.entries {
			snapshot[k] = v
		}
	}
	rs.mu.Unlock()

	if snapshot != nil {
		if err := SaveResults(snapshot, rs.cachePath); err != nil {
			log.Printf("warning: failed to save results cache: %v", err)
		}
	}
}

// Get returns the entry for an ID
func (rs *ResultStore) Get(id string) (*Entry, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	e, ok := rs.entries[id]
	return e, ok
}

// List returns summaries of all solutions sorted by ID
func (rs *ResultStore) List() []Summary {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]Summary, 0, len(rs.entries))
	for _, e := range rs.entries {
		out = append(out, Summarize(e.Solution))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of stored solutions
func (rs *ResultStore) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.entries)
}

// SaveResults writes entries to disk as JSON. The file is replaced
// atomically through a temporary file in the same directory.
func SaveResults(entries map[string]*Entry, path string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary cache file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write results cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write results cache: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write results cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace results cache: %w", err)
	}
	return nil
}

// LoadResults reads entries written by SaveResults. Entries whose problem
// no longer validates are dropped.
func LoadResults(path string) (map[string]*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries map[string]*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal results cache: %w", err)
	}
	for id, e := range entries {
		if e == nil || e.Problem == nil || e.Solution == nil || e.Problem.Validate() != nil {
			delete(entries, id)
		}
	}
	if entries == nil {
		entries = make(map[string]*Entry)
	}
	return entries, nil
}
