package artifact

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type key struct {
	tote    string
	profile string
}

// MemoryStore keeps artifacts in process memory. It is the default backend.
type MemoryStore struct {
	mu   sync.RWMutex
	objs map[key]Artifact
	// high-water marks survive profile removal so a key never reuses a token
	last map[key]Version
	sets map[string][]string
	now  func() time.Time
}

// NewMemoryStore returns an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		objs: make(map[key]Artifact),
		last: make(map[key]Version),
		sets: make(map[string][]string),
		now:  now,
	}
}

// Commit swaps in the tote's new artifact set under the write lock. Byte
// payloads are copied before the lock is taken.
func (s *MemoryStore) Commit(_ context.Context, toteID string, arts []Artifact) ([]Artifact, error) {
	if err := validateSet(toteID, arts); err != nil {
		return nil, fmt.Errorf("commit %s: %w", toteID, err)
	}
	staged := make([]Artifact, len(arts))
	for i, a := range arts {
		a.ToteID = toteID
		a.Data = cloneBytes(a.Data)
		staged[i] = a
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	names := make([]string, 0, len(staged))
	for i := range staged {
		k := key{toteID, staged[i].Profile}
		staged[i].Version = nextVersion(s.last[k], now)
		staged[i].UpdatedAt = now
		s.last[k] = staged[i].Version
		names = append(names, staged[i].Profile)
	}
	for _, old := range s.sets[toteID] {
		delete(s.objs, key{toteID, old})
	}
	for _, a := range staged {
		s.objs[key{toteID, a.Profile}] = a
	}
	s.sets[toteID] = names

	out := make([]Artifact, len(staged))
	for i, a := range staged {
		a.Data = cloneBytes(a.Data)
		out[i] = a
	}
	return out, nil
}

// Get returns a copy of the current artifact.
func (s *MemoryStore) Get(_ context.Context, toteID, profile string) (Artifact, error) {
	s.mu.RLock()
	a, ok := s.objs[key{toteID, profile}]
	s.mu.RUnlock()
	if !ok {
		return Artifact{}, ErrNotFound
	}
	a.Data = cloneBytes(a.Data)
	return a, nil
}

// VersionOf returns the current version of the key.
func (s *MemoryStore) VersionOf(_ context.Context, toteID, profile string) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.objs[key{toteID, profile}]
	if !ok {
		return 0, ErrNotFound
	}
	return a.Version, nil
}

func (s *MemoryStore) Close() error { return nil }
