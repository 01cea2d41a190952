package cache

import (
	"os"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const snapshotFilePerm os.FileMode = 0666

// NewMemStore returns an in-memory store. When snapshotPath is not empty
// the entry table is persisted to that file as JSON on every mutation and
// reloaded on startup.
func NewMemStore(snapshotPath string) (*MemStore, error) {
	s := &MemStore{
		snapshotPath: snapshotPath,
		entries:      make(map[string]*Entry),
	}

	if snapshotPath != "" {
		if err := s.ensureSnapshotFile(); err != nil {
			return nil, err
		}
		if err := s.load(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// MemStore keeps the entry table in a mutex guarded map
type MemStore struct {
	snapshotPath string
	mu           sync.Mutex
	entries      map[string]*Entry
}

// Get implements Store
func (s *MemStore) Get(hash string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[hash]
	if !ok {
		return nil, ErrEntryNotFound
	}

	return e.clone(), nil
}

// Upsert implements Store
func (s *MemStore) Upsert(e *Entry) (*Entry, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := e.clone()
	if prev, ok := s.entries[e.URLHash]; ok {
		stored.HitCount = prev.HitCount
		stored.CreatedAt = prev.CreatedAt
		stored.LastAccessedAt = prev.LastAccessedAt
	}
	s.entries[stored.URLHash] = stored

	return stored.clone(), s.save()
}

// Touch implements Store
func (s *MemStore) Touch(hash string, access time.Time, expires time.Time) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[hash]
	if !ok {
		return nil, ErrEntryNotFound
	}

	e.HitCount++
	e.LastAccessedAt = access
	e.UpdatedAt = access
	if !expires.IsZero() {
		e.ExpiresAt = expires
	}

	return e.clone(), s.save()
}

// Delete implements Store
func (s *MemStore) Delete(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[hash]; !ok {
		return ErrEntryNotFound
	}
	delete(s.entries, hash)

	return s.save()
}

// DeleteExpired implements Store
func (s *MemStore) DeleteExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for hash, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, hash)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	return removed, s.save()
}

// EvictOverCap implements Store
func (s *MemStore) EvictOverCap(cap int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	excess := len(s.entries) - cap
	if cap <= 0 || excess <= 0 {
		return 0, nil
	}

	ranked := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		ranked = append(ranked, e)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].HitCount != ranked[j].HitCount {
			return ranked[i].HitCount < ranked[j].HitCount
		}
		return ranked[i].LastAccessedAt.Before(ranked[j].LastAccessedAt)
	})

	for _, e := range ranked[:excess] {
		delete(s.entries, e.URLHash)
	}

	return excess, s.save()
}

// PopularExpired implements Store
func (s *MemStore) PopularExpired(now time.Time, threshold int64) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Entry
	for _, e := range s.entries {
		if e.Expired(now) && e.HitCount >= threshold {
			out = append(out, e.clone())
		}
	}

	return out, nil
}

// List implements Store
func (s *MemStore) List(f ListFilter, now time.Time, threshold int64) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if f.Platform != "" && e.Platform != f.Platform {
			continue
		}
		if f.PopularOnly && e.HitCount < threshold {
			continue
		}
		if f.ExpiredOnly && !e.Expired(now) {
			continue
		}
		out = append(out, e.clone())
	}

	sort.Slice(out, func(i, j int) bool {
		switch f.Sort {
		case "hits":
			return out[i].HitCount > out[j].HitCount
		case "recent":
			return out[i].LastAccessedAt.After(out[j].LastAccessedAt)
		case "expiry":
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		default:
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}

	return out, nil
}

// Clear implements Store
func (s *MemStore) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.entries)
	s.entries = make(map[string]*Entry)

	return removed, s.save()
}

// Count implements Store
func (s *MemStore) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries), nil
}

// Stats implements Store
func (s *MemStore) Stats(now time.Time, threshold int64) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &Stats{
		Total:      len(s.entries),
		ByPlatform: make(map[string]int),
	}

	top := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Expired(now) {
			st.Expired++
		} else {
			st.Valid++
		}
		if e.HitCount >= threshold {
			st.Popular++
		}
		if e.Platform != "" {
			st.ByPlatform[e.Platform]++
		}
		st.TotalHits += e.HitCount
		if len(e.Metadata) > 0 {
			if blob, err := json.Marshal(e.Metadata); err == nil {
				st.MetadataBytes += int64(len(blob))
			}
		}
		if st.OldestCreatedAt.IsZero() || e.CreatedAt.Before(st.OldestCreatedAt) {
			st.OldestCreatedAt = e.CreatedAt
		}
		if e.CreatedAt.After(st.NewestCreatedAt) {
			st.NewestCreatedAt = e.CreatedAt
		}
		top = append(top, e)
	}

	if st.Total > 0 {
		st.AverageHits = float64(st.TotalHits) / float64(st.Total)
	}

	sort.Slice(top, func(i, j int) bool {
		return top[i].HitCount > top[j].HitCount
	})
	if len(top) > topEntryCount {
		top = top[:topEntryCount]
	}
	st.TopEntries = make([]TopEntry, 0, len(top))
	for _, e := range top {
		st.TopEntries = append(st.TopEntries, TopEntry{
			NormalizedURL: e.NormalizedURL,
			HitCount:      e.HitCount,
		})
	}

	return st, nil
}

// Close implements Store
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save()
}

// save writes the entry table to the snapshot file
// Make sure to execute this while the store is locked
func (s *MemStore) save() error {
	if s.snapshotPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.entries, "", "\t")
	if err != nil {
		return errors.Wrap(err, "failed to marshal entries to json")
	}
	err = os.WriteFile(s.snapshotPath, data, snapshotFilePerm)
	if err != nil {
		return errors.Wrap(err, "failed to write snapshot file")
	}

	return nil
}

// load reads the snapshot file into the entry table
func (s *MemStore) load() error {
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return errors.Wrap(err, "failed to read snapshot file")
	}
	if len(data) == 0 {
		return nil
	}
	err = json.Unmarshal(data, &s.entries)
	if err != nil {
		return errors.Wrap(err, "failed to parse snapshot file")
	}

	return nil
}

// ensureSnapshotFile ensures that the snapshot file exists
func (s *MemStore) ensureSnapshotFile() error {
	file, err := os.OpenFile(s.snapshotPath, os.O_RDONLY|os.O_CREATE, snapshotFilePerm)
	if err != nil {
		return errors.Wrap(err, "something went wrong creating/reading snapshot file")
	}

	return file.Close()
}
