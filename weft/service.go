// ABOUTME: Run service: the in-memory registry of runs started through the HTTP and MCP surfaces.
// ABOUTME: Tracks live handles, reports status, and hands finished results to an optional archiver.
package weft

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrRunNotFound reports a lookup for a run ID the service has never seen.
var ErrRunNotFound = errors.New("run not found")

// ErrRunActive reports a result request for a run that has not finished.
var ErrRunActive = errors.New("run still active")

// Archiver receives finished run results. The archive package implements
// this over SQLite; the engine itself never persists anything.
type Archiver interface {
	SaveResult(ctx context.Context, result *RunResult) error
}

// RunStatus summarizes one run for list and status queries.
type RunStatus struct {
	ID        string     `json:"id"`
	Workflow  string     `json:"workflow,omitempty"`
	Status    string     `json:"status"`
	Outcome   RunOutcome `json:"outcome,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// managedRun pairs a run handle with its submission metadata.
type managedRun struct {
	run       *Run
	createdAt time.Time
}

// RunService starts runs on a shared engine and keeps their handles until
// the process exits. One service instance backs the HTTP API, the MCP
// server, and the CLI watch mode.
type RunService struct {
	engine   *Engine
	archiver Archiver

	mu   sync.RWMutex
	runs map[string]*managedRun
}

// NewRunService creates a run service over the given engine. archiver may be
// nil, in which case finished results are only kept in memory.
func NewRunService(engine *Engine, archiver Archiver) *RunService {
	return &RunService{
		engine:   engine,
		archiver: archiver,
		runs:     make(map[string]*managedRun),
	}
}

// Engine returns the service's underlying engine.
func (s *RunService) Engine() *Engine {
	return s.engine
}

// Submit starts a run for the graph and registers its handle. The run
// executes in the background, detached from the caller's context; cancel it
// through Cancel or the run handle. When an archiver is configured, the
// finished result is saved as soon as the run settles.
func (s *RunService) Submit(g *Graph) (*Run, error) {
	run, err := s.engine.Start(context.Background(), g)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.runs[run.ID] = &managedRun{run: run, createdAt: time.Now()}
	s.mu.Unlock()

	if s.archiver != nil {
		go func() {
			result, _ := run.Wait()
			if result != nil {
				saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				_ = s.archiver.SaveResult(saveCtx, result)
			}
		}()
	}

	return run, nil
}

// Get returns the handle for a run by ID.
func (s *RunService) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mr, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return mr.run, nil
}

// Status returns the current status summary for a run.
func (s *RunService) Status(id string) (*RunStatus, error) {
	s.mu.RLock()
	mr, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	return statusOf(mr), nil
}

// List returns a status summary for every known run, newest first.
func (s *RunService) List() []*RunStatus {
	s.mu.RLock()
	managed := make([]*managedRun, 0, len(s.runs))
	for _, mr := range s.runs {
		managed = append(managed, mr)
	}
	s.mu.RUnlock()

	sort.Slice(managed, func(i, j int) bool {
		return managed[i].createdAt.After(managed[j].createdAt)
	})
	out := make([]*RunStatus, 0, len(managed))
	for _, mr := range managed {
		out = append(out, statusOf(mr))
	}
	return out
}

// Cancel requests cancellation of a run. Cancelling a finished run is a
// no-op, not an error.
func (s *RunService) Cancel(id string) error {
	s.mu.RLock()
	mr, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return ErrRunNotFound
	}
	mr.run.Cancel()
	return nil
}

// Result returns the final result of a finished run, or ErrRunActive while
// the run is still in flight.
func (s *RunService) Result(id string) (*RunResult, error) {
	s.mu.RLock()
	mr, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	select {
	case <-mr.run.Done():
	default:
		return nil, ErrRunActive
	}
	result, _ := mr.run.Wait()
	return result, nil
}

func statusOf(mr *managedRun) *RunStatus {
	st := &RunStatus{
		ID:        mr.run.ID,
		Workflow:  mr.run.Graph.Name,
		Status:    "running",
		CreatedAt: mr.createdAt,
	}
	select {
	case <-mr.run.Done():
		result, err := mr.run.Wait()
		st.Status = "finished"
		if result != nil {
			st.Outcome = result.Outcome
		}
		if err != nil {
			st.Error = err.Error()
		}
	default:
	}
	return st
}
