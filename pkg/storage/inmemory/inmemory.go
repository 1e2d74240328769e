package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/papercomputeco/chatstream/pkg/storage"
)

// Driver implements storage.Driver using an in-memory map.
type Driver struct {
	// mu is a read write sync mutex for locking the mapping of transcripts
	mu sync.RWMutex

	// transcripts is keyed by message ID
	transcripts map[string]*storage.Transcript
}

// NewDriver creates a new in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		transcripts: make(map[string]*storage.Transcript),
	}
}

// Put stores a transcript. Returns true if the transcript was newly inserted,
// false if one with the same ID already existed.
func (s *Driver) Put(_ context.Context, t *storage.Transcript) (bool, error) {
	if t == nil {
		return false, storage.ErrNilTranscript
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transcripts[t.ID]; ok {
		return false, nil
	}

	cp := *t
	s.transcripts[t.ID] = &cp
	return true, nil
}

// Get retrieves a transcript by its ID.
func (s *Driver) Get(_ context.Context, id string) (*storage.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transcripts[id]
	if !ok {
		return nil, storage.NotFoundError{ID: id}
	}

	cp := *t
	return &cp, nil
}

// List returns transcripts, most recently completed first.
func (s *Driver) List(_ context.Context, opts storage.ListOptions) ([]*storage.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.Transcript, 0, len(s.transcripts))
	for _, t := range s.transcripts {
		if opts.Provider != "" && t.Provider != opts.Provider {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CompletedAt.Equal(result[j].CompletedAt) {
			return result[i].CompletedAt.After(result[j].CompletedAt)
		}
		return result[i].ID < result[j].ID
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// Len returns the number of stored transcripts.
func (s *Driver) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transcripts)
}

// Close is a no-op for the in-memory driver.
func (s *Driver) Close() error {
	return nil
}
