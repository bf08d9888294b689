// Package telemetry records execution lifecycle events behind a circuit
// breaker so that metric failures never affect task outcomes.
package telemetry

import (
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/telemetry"
)

// Emitter delivers one structured event to a sink.
type Emitter interface {
	Emit(event string, fields map[string]interface{}) error
}

// exporterEmitter adapts the agentkit OTLP exporter. LogEvent does not report
// delivery failures, so the only failure surfaced here is a panic.
type exporterEmitter struct {
	exporter telemetry.Exporter
}

func (e *exporterEmitter) Emit(event string, fields map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("telemetry exporter panic: %v", r)
		}
	}()
	e.exporter.LogEvent(event, fields)
	return nil
}

// Recorder emits phase, error, and completion events for executions. All
// emission is best-effort: errors are counted against the breaker and
// swallowed, never returned to the request path.
type Recorder struct {
	emitters []Emitter
	breaker  *circuitBreaker
	logger   *logging.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithEmitter adds an extra event sink.
func WithEmitter(e Emitter) Option {
	return func(r *Recorder) {
		if e != nil {
			r.emitters = append(r.emitters, e)
		}
	}
}

// WithBreakerConfig overrides the failure threshold and recovery window.
func WithBreakerConfig(threshold int, recovery time.Duration) Option {
	return func(r *Recorder) {
		r.breaker = newCircuitBreaker(threshold, recovery)
	}
}

// NewRecorder wraps an agentkit exporter. Pass telemetry.NewNoopExporter()
// when telemetry is disabled.
func NewRecorder(exporter telemetry.Exporter, opts ...Option) *Recorder {
	r := &Recorder{
		breaker: newCircuitBreaker(defaultFailureThreshold, defaultRecoveryTimeout),
		logger:  logging.New().WithComponent("telemetry"),
	}
	if exporter != nil {
		r.emitters = append(r.emitters, &exporterEmitter{exporter: exporter})
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordPhase emits a phase transition for an execution.
func (r *Recorder) RecordPhase(executionID, correlationID, taskHash, phase string) {
	r.emit("execution_phase", map[string]interface{}{
		"execution_id":   executionID,
		"correlation_id": correlationID,
		"task_hash":      taskHash,
		"phase":          phase,
	})
}

// RecordError emits a typed failure for an execution.
func (r *Recorder) RecordError(executionID, correlationID, taskHash, kind, message string) {
	r.emit("execution_error", map[string]interface{}{
		"execution_id":   executionID,
		"correlation_id": correlationID,
		"task_hash":      taskHash,
		"kind":           kind,
		"message":        message,
	})
}

// RecordCompletion emits the terminal record for an execution.
func (r *Recorder) RecordCompletion(executionID, correlationID, taskHash, status string, duration time.Duration, metrics map[string]interface{}) {
	fields := map[string]interface{}{
		"execution_id":   executionID,
		"correlation_id": correlationID,
		"task_hash":      taskHash,
		"status":         status,
		"duration_ms":    duration.Milliseconds(),
	}
	for k, v := range metrics {
		fields[k] = v
	}
	r.emit("execution_complete", fields)
}

// RecordActiveExecutions emits the current admission gauge.
func (r *Recorder) RecordActiveExecutions(active, max int) {
	r.emit("active_executions", map[string]interface{}{
		"active": active,
		"max":    max,
	})
}

// BreakerState exposes the breaker position for health reporting.
func (r *Recorder) BreakerState() BreakerState {
	return r.breaker.State()
}

func (r *Recorder) emit(event string, fields map[string]interface{}) {
	if !r.breaker.allow() {
		return
	}

	var failed bool
	for _, e := range r.emitters {
		if err := e.Emit(event, fields); err != nil {
			failed = true
			r.logger.Warn("telemetry emission failed", map[string]interface{}{
				"event": event,
				"error": err.Error(),
			})
		}
	}

	if failed {
		r.breaker.failure()
		if r.breaker.State() == BreakerOpen {
			r.logger.Warn("telemetry circuit breaker opened", map[string]interface{}{
				"failures": r.breaker.failureCount(),
			})
		}
		return
	}
	r.breaker.success()
}
