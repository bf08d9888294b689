package service

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"
)

// Status is the lifecycle state of one execution.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusTimeout      Status = "timeout"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// ExecutionContext tracks one submitted task for the lifetime of its
// execution. It is owned exclusively by the service and discarded after
// telemetry is recorded.
type ExecutionContext struct {
	ExecutionID   string
	CorrelationID string
	TaskHash      string
	Request       Request

	mu        sync.Mutex
	status    Status
	startTime time.Time
	endTime   time.Time
	metrics   map[string]interface{}
	err       error
}

func newExecutionContext(executionID, correlationID string, req Request) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID:   executionID,
		CorrelationID: correlationID,
		TaskHash:      taskHash(req.Task, req.Provider, req.Model),
		Request:       req,
		status:        StatusInitializing,
		startTime:     time.Now(),
		metrics:       make(map[string]interface{}),
	}
}

// SetStatus transitions the execution. Terminal statuses stamp the end time.
func (c *ExecutionContext) SetStatus(status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	if status.Terminal() {
		c.endTime = time.Now()
	}
}

// Status returns the current lifecycle state.
func (c *ExecutionContext) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetError records the terminal error.
func (c *ExecutionContext) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Err returns the terminal error, if any.
func (c *ExecutionContext) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SetMetric stores one entry in the open-ended metric bag.
func (c *ExecutionContext) SetMetric(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics[key] = value
}

// Metrics returns a copy of the metric bag.
func (c *ExecutionContext) Metrics() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]interface{}, len(c.metrics))
	for k, v := range c.metrics {
		out[k] = v
	}
	return out
}

// Elapsed returns the wall-clock duration so far, or total once terminal.
func (c *ExecutionContext) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.endTime.IsZero() {
		return c.endTime.Sub(c.startTime)
	}
	return time.Since(c.startTime)
}

// StartTime returns when the execution was admitted.
func (c *ExecutionContext) StartTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTime
}

// taskHash groups telemetry for identical submissions. Not used for identity
// or security.
func taskHash(task, provider, model string) string {
	sum := md5.Sum([]byte(task + provider + model))
	return hex.EncodeToString(sum[:])[:12]
}
