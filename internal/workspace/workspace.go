// Package workspace acquires and reclaims isolated working directories,
// one per execution.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/praxislabs/agentd/internal/cleanup"
	"github.com/vinayprograms/agentkit/logging"
)

// Lease describes the directories held by one execution.
type Lease struct {
	ExecutionID string
	TempRoot    string
	WorkingDir  string
	AcquiredAt  time.Time
}

// Coordinator hands out per-execution temp roots and schedules their
// deletion through the cleanup scheduler on release. The caller must
// release on every exit path.
type Coordinator struct {
	base      string
	scheduler *cleanup.Scheduler
	delay     time.Duration

	mu       sync.Mutex
	active   map[string]*Lease
	released map[string]*Lease // release scheduled, deletion not yet run

	logger *logging.Logger
}

// NewCoordinator creates a coordinator rooted at base. Releases are delayed
// by delay before the workspace is actually deleted.
func NewCoordinator(base string, scheduler *cleanup.Scheduler, delay time.Duration) *Coordinator {
	if base == "" {
		base = os.TempDir()
	}
	if delay <= 0 {
		delay = cleanup.DefaultDelay
	}
	return &Coordinator{
		base:      base,
		scheduler: scheduler,
		delay:     delay,
		active:    make(map[string]*Lease),
		released:  make(map[string]*Lease),
		logger:    logging.New().WithComponent("workspace"),
	}
}

// Acquire creates a fresh temp root for executionID. If requestedDir names an
// existing directory it becomes the working directory; otherwise a "workspace"
// subdirectory of the temp root is created and used.
func (c *Coordinator) Acquire(executionID, requestedDir string) (*Lease, error) {
	tempRoot := filepath.Join(c.base, "agentd-"+executionID)
	if err := os.MkdirAll(tempRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp root: %w", err)
	}

	workingDir := requestedDir
	if workingDir == "" {
		workingDir = filepath.Join(tempRoot, "workspace")
		if err := os.MkdirAll(workingDir, 0o755); err != nil {
			os.RemoveAll(tempRoot)
			return nil, fmt.Errorf("failed to create workspace dir: %w", err)
		}
	} else {
		info, err := os.Stat(workingDir)
		if err != nil || !info.IsDir() {
			os.RemoveAll(tempRoot)
			return nil, fmt.Errorf("working directory does not exist: %s", workingDir)
		}
	}

	lease := &Lease{
		ExecutionID: executionID,
		TempRoot:    tempRoot,
		WorkingDir:  workingDir,
		AcquiredAt:  time.Now(),
	}

	c.mu.Lock()
	c.active[executionID] = lease
	c.mu.Unlock()

	c.logger.Debug("workspace acquired", map[string]interface{}{
		"execution_id": executionID,
		"temp_root":    tempRoot,
		"working_dir":  workingDir,
	})

	return lease, nil
}

// Release schedules deletion of the execution's temp root and removes it from
// the active registry. Only the temp root is deleted; a caller-supplied
// working directory is never touched.
func (c *Coordinator) Release(executionID string) {
	c.mu.Lock()
	lease, ok := c.active[executionID]
	delete(c.active, executionID)
	if ok {
		c.released[executionID] = lease
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	tempRoot := lease.TempRoot
	c.scheduler.Schedule(executionID, func() error {
		err := os.RemoveAll(tempRoot)
		if err == nil {
			c.mu.Lock()
			delete(c.released, executionID)
			c.mu.Unlock()
		}
		return err
	}, c.delay)

	c.logger.Debug("workspace release scheduled", map[string]interface{}{
		"execution_id": executionID,
		"delay":        c.delay.String(),
	})
}

// EmergencyCleanup bypasses the delay and deletes the execution's temp root
// immediately. Used at service shutdown or when reclamation cannot wait.
func (c *Coordinator) EmergencyCleanup(executionID string) error {
	c.mu.Lock()
	lease, ok := c.active[executionID]
	delete(c.active, executionID)
	if !ok {
		lease, ok = c.released[executionID]
		delete(c.released, executionID)
	}
	c.mu.Unlock()

	c.scheduler.Cancel(executionID)

	if !ok {
		return nil
	}
	if err := os.RemoveAll(lease.TempRoot); err != nil {
		return fmt.Errorf("emergency cleanup failed: %w", err)
	}
	c.logger.Info("workspace emergency cleanup", map[string]interface{}{
		"execution_id": executionID,
	})
	return nil
}

// Shutdown immediately reclaims every workspace, both actively held and
// pending delayed deletion.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.active)+len(c.released))
	for id := range c.active {
		ids = append(ids, id)
	}
	for id := range c.released {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.EmergencyCleanup(id); err != nil {
			c.logger.Warn("shutdown cleanup failed", map[string]interface{}{
				"execution_id": id,
				"error":        err.Error(),
			})
		}
	}
}

// Active returns a snapshot of currently held leases.
func (c *Coordinator) Active() []Lease {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Lease, 0, len(c.active))
	for _, lease := range c.active {
		out = append(out, *lease)
	}
	return out
}

// ActiveIDs returns the execution IDs with live leases.
func (c *Coordinator) ActiveIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	return ids
}
