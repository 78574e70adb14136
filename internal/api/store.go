package api

import (
	"sync"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultRunCapacity bounds how many stored runs a RunStore keeps.
const DefaultRunCapacity = 64

// RunStore keeps recent forward results in insertion order and evicts the
// oldest once full.
type RunStore struct {
	mu       sync.Mutex
	capacity int
	runs     *orderedmap.OrderedMap[string, ForwardResponse]
}

func NewRunStore(capacity int) *RunStore {
	if capacity <= 0 {
		capacity = DefaultRunCapacity
	}
	return &RunStore{
		capacity: capacity,
		runs:     orderedmap.New[string, ForwardResponse](),
	}
}

// Put stores resp under its ID.
func (s *RunStore) Put(resp ForwardResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs.Set(resp.ID, resp)
	for s.runs.Len() > s.capacity {
		s.runs.Delete(s.runs.Oldest().Key)
	}
}

func (s *RunStore) Get(id string) (ForwardResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs.Get(id)
}

func (s *RunStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs.Delete(id)
	return ok
}

func (s *RunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs.Len()
}

func newRunID() string {
	return "run_" + uuid.NewString()
}
