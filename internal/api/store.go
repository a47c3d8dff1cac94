package api

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/nhrun/internal/runmode"
)

const (
	StatusDispatched = "dispatched"
	StatusFailed     = "failed"
)

// RunRecord describes one dispatch accepted by the server.
type RunRecord struct {
	ID        string          `json:"id"`
	Object    string          `json:"object"`
	CreatedAt int64           `json:"created_at"`
	Mode      string          `json:"mode"`
	Device    string          `json:"device,omitempty"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Request   runmode.Request `json:"request"`
}

// RunStore keeps dispatch records in memory for the lifetime of the server.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]RunRecord
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]RunRecord),
	}
}

func (s *RunStore) Create(req runmode.Request, device string, dispatchErr error, now time.Time) RunRecord {
	rec := RunRecord{
		ID:        newRunID(),
		Object:    "run",
		CreatedAt: now.Unix(),
		Mode:      string(req.Mode),
		Device:    device,
		Status:    StatusDispatched,
		Request:   req,
	}
	if dispatchErr != nil {
		rec.Status = StatusFailed
		rec.Error = dispatchErr.Error()
	}

	s.mu.Lock()
	s.runs[rec.ID] = rec
	s.mu.Unlock()
	return rec
}

func (s *RunStore) Get(id string) (RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[id]
	return rec, ok
}

// List returns all records, oldest first.
func (s *RunStore) List() []RunRecord {
	s.mu.Lock()
	out := make([]RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		out = append(out, rec)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b RunRecord) int {
		return cmp.Or(cmp.Compare(a.CreatedAt, b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return out
}

func (s *RunStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return false
	}
	delete(s.runs, id)
	return true
}

func newRunID() string {
	return "run_" + uuid.NewString()
}
