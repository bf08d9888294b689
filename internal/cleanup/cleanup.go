// Package cleanup provides a registry of delayed, cancellable cleanup actions.
package cleanup

import (
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"
)

// DefaultDelay is the grace window between scheduling a cleanup and running it,
// so consumers still reading execution artifacts are not pulled out from under.
const DefaultDelay = 300 * time.Second

// Action is an idempotent cleanup callback.
type Action func() error

// Stats is a point-in-time snapshot of scheduler state.
type Stats struct {
	Pending    int
	Completed  int
	PendingIDs []string
}

type pendingCleanup struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler arms delayed cleanup timers keyed by resource ID. Scheduling the
// same ID again replaces the pending timer. Actions that fail are logged and
// dropped, never retried: cleanup targets are idempotent deletions and a leak
// is preferable to blocking request paths.
type Scheduler struct {
	mu        sync.Mutex
	pending   map[string]*pendingCleanup
	completed map[string]struct{}
	gen       uint64
	wg        sync.WaitGroup
	logger    *logging.Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		pending:   make(map[string]*pendingCleanup),
		completed: make(map[string]struct{}),
		logger:    logging.New().WithComponent("cleanup"),
	}
}

// Schedule arms a delayed timer for resourceID, cancelling any prior pending
// timer for the same ID.
func (s *Scheduler) Schedule(resourceID string, action Action, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(resourceID)

	s.gen++
	gen := s.gen
	p := &pendingCleanup{gen: gen}
	s.wg.Add(1)
	p.timer = time.AfterFunc(delay, func() {
		s.fire(resourceID, gen, action)
	})
	s.pending[resourceID] = p

	s.logger.Debug("cleanup scheduled", map[string]interface{}{
		"resource_id": resourceID,
		"delay":       delay.String(),
	})
}

// Cancel removes a pending timer for resourceID if one exists. The race with
// an expiring timer is coarse: if the timer has already fired, the action runs.
func (s *Scheduler) Cancel(resourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(resourceID)
}

func (s *Scheduler) cancelLocked(resourceID string) bool {
	p, ok := s.pending[resourceID]
	if !ok {
		return false
	}
	delete(s.pending, resourceID)
	if p.timer.Stop() {
		s.wg.Done()
	}
	return true
}

// fire runs the action for resourceID unless it was cancelled or replaced
// after the timer was armed.
func (s *Scheduler) fire(resourceID string, gen uint64, action Action) {
	defer s.wg.Done()

	s.mu.Lock()
	p, ok := s.pending[resourceID]
	if !ok || p.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, resourceID)
	s.mu.Unlock()

	if err := action(); err != nil {
		s.logger.Warn("cleanup action failed", map[string]interface{}{
			"resource_id": resourceID,
			"error":       err.Error(),
		})
		return
	}

	s.mu.Lock()
	s.completed[resourceID] = struct{}{}
	s.mu.Unlock()
}

// Shutdown cancels every pending timer and waits for in-flight actions to
// settle before returning.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for id, p := range s.pending {
		delete(s.pending, id)
		if p.timer.Stop() {
			s.wg.Done()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Stats reports pending and completed cleanup counts.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	return Stats{
		Pending:    len(s.pending),
		Completed:  len(s.completed),
		PendingIDs: ids,
	}
}

// IsCompleted reports whether the cleanup for resourceID ran successfully.
func (s *Scheduler) IsCompleted(resourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[resourceID]
	return ok
}
