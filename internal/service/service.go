// Package service admits, isolates, and accounts for concurrent agent task
// executions.
package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/praxislabs/agentd/internal/agent"
	"github.com/praxislabs/agentd/internal/cleanup"
	"github.com/praxislabs/agentd/internal/telemetry"
	"github.com/praxislabs/agentd/internal/trajectory"
	"github.com/praxislabs/agentd/internal/workspace"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
)

// Request is one submitted task.
type Request struct {
	Task              string `json:"task,omitempty"`
	TaskFile          string `json:"task_file,omitempty"`
	Provider          string `json:"provider,omitempty"`
	Model             string `json:"model,omitempty"`
	WorkingDir        string `json:"working_dir,omitempty"`
	MaxSteps          int    `json:"max_steps,omitempty"`
	TimeoutSeconds    int    `json:"timeout_seconds,omitempty"`
	ParallelToolCalls *bool  `json:"parallel_tool_calls,omitempty"`
	MustPatch         bool   `json:"must_patch,omitempty"`
}

// Stats summarizes one finished execution.
type Stats struct {
	Steps           int            `json:"steps"`
	InputTokens     int            `json:"input_tokens"`
	OutputTokens    int            `json:"output_tokens"`
	DurationSeconds float64        `json:"duration_seconds"`
	ToolUsage       map[string]int `json:"tool_usage,omitempty"`
	SuccessRate     float64        `json:"success_rate"`
}

// Result is the synchronous response for one execution.
type Result struct {
	Success     bool          `json:"success"`
	Result      string        `json:"result,omitempty"`
	Patches     []string      `json:"patches,omitempty"`
	ExecutionID string        `json:"execution_id"`
	Trajectory  []*agent.Step `json:"trajectory,omitempty"`
	Stats       Stats         `json:"stats"`
	Error       string        `json:"error,omitempty"`
}

// ExecutionSnapshot is a point-in-time view of one active execution.
type ExecutionSnapshot struct {
	ExecutionID    string    `json:"execution_id"`
	CorrelationID  string    `json:"correlation_id"`
	TaskHash       string    `json:"task_hash"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

// Health is the service availability view.
type Health struct {
	ActiveExecutions int                    `json:"active_executions"`
	MaxConcurrency   int                    `json:"max_concurrency"`
	AvailableSlots   int                    `json:"available_slots"`
	Cleanup          cleanup.Stats          `json:"-"`
	PendingCleanups  int                    `json:"pending_cleanups"`
	TelemetryBreaker telemetry.BreakerState `json:"telemetry_breaker"`
}

// Observer receives live progress for one execution.
type Observer struct {
	OnStart    func(executionID string)
	OnStep     func(executionID string, step *agent.Step)
	OnComplete func(executionID string, result *Result)
	OnError    func(executionID string, err error)
}

// ProviderFactory builds the model client for one request.
type ProviderFactory func(req Request) (llm.Provider, error)

// Options configures a Service.
type Options struct {
	MaxConcurrency    int           // Execution ceiling (0 = 4x CPU count)
	DefaultMaxSteps   int           // Step ceiling when the request omits one
	MaxStepsLimit     int           // Hard upper bound on requested ceilings
	DefaultTimeout    time.Duration // When the request omits a deadline
	MinTimeout        time.Duration // Lower clamp bound
	MaxTimeout        time.Duration // Upper clamp bound
	ParallelToolCalls bool          // Dispatch mode default
	SystemPrompt      string

	ProviderFactory ProviderFactory
	ToolRunner      agent.ToolRunner
	ToolDefs        []llm.ToolDef
	Workspaces      *workspace.Coordinator
	Cleanups        *cleanup.Scheduler
	Recorder        *telemetry.Recorder
	Trajectories    *trajectory.Store // optional
}

// Service is the execution admission service: the single public entry point
// for running agent tasks. All registries it owns are instance state, so
// independent services can coexist in one process.
type Service struct {
	opts Options
	sem  chan struct{}

	mu     sync.Mutex
	active map[string]*ExecutionContext

	logger *logging.Logger
}

// New creates a service. The semaphore sized to the concurrency ceiling is
// the sole hard limit on simultaneous executions.
func New(opts Options) *Service {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = runtime.NumCPU() * 4
	}
	if opts.DefaultMaxSteps <= 0 {
		opts.DefaultMaxSteps = 20
	}
	if opts.MaxStepsLimit <= 0 {
		opts.MaxStepsLimit = 200
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 900 * time.Second
	}
	if opts.MinTimeout <= 0 {
		opts.MinTimeout = 30 * time.Second
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = 3600 * time.Second
	}
	if opts.Recorder == nil {
		opts.Recorder = telemetry.NewRecorder(nil)
	}
	return &Service{
		opts:   opts,
		sem:    make(chan struct{}, opts.MaxConcurrency),
		active: make(map[string]*ExecutionContext),
		logger: logging.New().WithComponent("service"),
	}
}

// Execute runs one task to a terminal state and builds its response.
func (s *Service) Execute(ctx context.Context, req Request) (*Result, error) {
	return s.ExecuteObserved(ctx, req, nil)
}

// ExecuteObserved is Execute with live progress callbacks.
func (s *Service) ExecuteObserved(ctx context.Context, req Request, obs *Observer) (*Result, error) {
	executionID := uuid.NewString()
	correlationID := uuid.NewString()

	task, timeout, maxSteps, err := s.validate(executionID, &req)
	if err != nil {
		return nil, err
	}
	req.Task = task

	ec := newExecutionContext(executionID, correlationID, req)

	// Optimistic pre-check for fast rejection. The semaphore below is the
	// actual enforcement point.
	s.mu.Lock()
	activeCount := len(s.active)
	s.mu.Unlock()
	if activeCount >= s.opts.MaxConcurrency {
		return nil, s.reject(ec)
	}

	select {
	case s.sem <- struct{}{}:
	default:
		return nil, s.reject(ec)
	}

	s.mu.Lock()
	s.active[executionID] = ec
	activeCount = len(s.active)
	s.mu.Unlock()

	var lease *workspace.Lease
	var teardownOnce sync.Once
	teardown := func() {
		teardownOnce.Do(func() {
			<-s.sem
			s.mu.Lock()
			delete(s.active, executionID)
			remaining := len(s.active)
			s.mu.Unlock()
			if lease != nil {
				s.opts.Workspaces.Release(executionID)
			}
			s.opts.Recorder.RecordActiveExecutions(remaining, s.opts.MaxConcurrency)
		})
	}
	defer teardown()

	s.opts.Recorder.RecordActiveExecutions(activeCount, s.opts.MaxConcurrency)
	s.opts.Recorder.RecordPhase(executionID, correlationID, ec.TaskHash, "executing")
	s.logger.Info("execution admitted", map[string]interface{}{
		"execution_id":   executionID,
		"correlation_id": correlationID,
		"task_hash":      ec.TaskHash,
		"timeout":        timeout.String(),
		"max_steps":      maxSteps,
	})

	lease, err = s.opts.Workspaces.Acquire(executionID, req.WorkingDir)
	if err != nil {
		return nil, s.fail(ec, WrapError(KindValidation, executionID, err))
	}

	provider, err := s.opts.ProviderFactory(req)
	if err != nil {
		return nil, s.fail(ec, WrapError(KindValidation, executionID, err))
	}

	ec.SetStatus(StatusRunning)
	if obs != nil && obs.OnStart != nil {
		obs.OnStart(executionID)
	}

	runner := s.buildRunner(provider, req, maxSteps)
	writer := s.openTrajectory(executionID, req)
	runner.OnStep = func(step *agent.Step) {
		if writer != nil {
			if err := writer.RecordStep(step); err != nil {
				s.logger.Warn("trajectory write failed", map[string]interface{}{
					"execution_id": executionID,
					"error":        err.Error(),
				})
			}
		}
		if obs != nil && obs.OnStep != nil {
			obs.OnStep(executionID, step)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type runOutcome struct {
		exec *agent.Execution
		err  error
	}
	outcomeCh := make(chan runOutcome, 1)
	go func() {
		exec, runErr := runner.Run(runCtx, task)
		outcomeCh <- runOutcome{exec: exec, err: runErr}
	}()

	var outcome runOutcome
	select {
	case outcome = <-outcomeCh:
	case <-runCtx.Done():
		// Deadline elapsed or caller disconnected while the model client is
		// still blocked. Tear down now; the runner goroutine unwinds when the
		// client observes cancellation.
		outcome = runOutcome{err: runCtx.Err()}
	}

	if outcome.err != nil {
		return nil, s.finishError(ctx, ec, outcome.err, writer, obs)
	}

	exec := outcome.exec
	result := s.buildResult(executionID, exec)

	patches, patchErr := collectPatches(lease.WorkingDir)
	result.Patches = patches
	if req.MustPatch && len(patches) == 0 {
		msg := "patch required but the working tree has no changes"
		if patchErr != nil {
			msg = "patch required but diff collection failed: " + patchErr.Error()
		}
		return nil, s.fail(ec, NewError(KindAgent, executionID, "%s", msg))
	}

	ec.SetStatus(StatusCompleted)
	ec.SetMetric("steps", len(exec.Steps))
	ec.SetMetric("input_tokens", exec.InputTokens)
	ec.SetMetric("output_tokens", exec.OutputTokens)
	s.opts.Recorder.RecordCompletion(executionID, correlationID, ec.TaskHash,
		string(StatusCompleted), ec.Elapsed(), ec.Metrics())

	if writer != nil {
		if err := writer.Finalize(exec.Success, exec.FinalResult); err != nil {
			s.logger.Warn("trajectory finalize failed", map[string]interface{}{
				"execution_id": executionID,
				"error":        err.Error(),
			})
		}
	}
	if obs != nil && obs.OnComplete != nil {
		obs.OnComplete(executionID, result)
	}
	s.logger.Info("execution complete", map[string]interface{}{
		"execution_id": executionID,
		"success":      exec.Success,
		"steps":        len(exec.Steps),
	})
	return result, nil
}

// finishError classifies a failed run, records telemetry, and finalizes the
// trajectory.
func (s *Service) finishError(ctx context.Context, ec *ExecutionContext, runErr error, writer *trajectory.Writer, obs *Observer) error {
	executionID := ec.ExecutionID

	var typed *Error
	switch {
	case errors.Is(runErr, context.DeadlineExceeded) && ctx.Err() == nil:
		ec.SetStatus(StatusTimeout)
		typed = NewError(KindTimeout, executionID,
			"execution exceeded its deadline")
	case errors.Is(runErr, context.Canceled) || ctx.Err() != nil:
		ec.SetStatus(StatusFailed)
		typed = NewError(KindInternal, executionID, "execution cancelled")
	default:
		ec.SetStatus(StatusFailed)
		typed = WrapError(KindAgent, executionID, runErr)
	}
	ec.SetError(typed)

	s.opts.Recorder.RecordError(executionID, ec.CorrelationID, ec.TaskHash,
		string(typed.Kind), typed.Message)
	s.opts.Recorder.RecordCompletion(executionID, ec.CorrelationID, ec.TaskHash,
		string(ec.Status()), ec.Elapsed(), ec.Metrics())

	if writer != nil {
		if err := writer.Finalize(false, typed.Message); err != nil {
			s.logger.Warn("trajectory finalize failed", map[string]interface{}{
				"execution_id": executionID,
				"error":        err.Error(),
			})
		}
	}
	if obs != nil && obs.OnError != nil {
		obs.OnError(executionID, typed)
	}
	s.logger.Warn("execution failed", map[string]interface{}{
		"execution_id": executionID,
		"status":       string(ec.Status()),
		"kind":         string(typed.Kind),
		"error":        typed.Message,
	})
	return typed
}

// reject records and returns a resource-exhausted rejection. No working
// directory is ever created for a rejected execution.
func (s *Service) reject(ec *ExecutionContext) error {
	ec.SetStatus(StatusFailed)
	typed := NewError(KindResourceExhausted, ec.ExecutionID,
		"concurrency ceiling reached (%d executions active), retry later", s.opts.MaxConcurrency)
	s.opts.Recorder.RecordError(ec.ExecutionID, ec.CorrelationID, ec.TaskHash,
		string(typed.Kind), typed.Message)
	s.logger.Warn("execution rejected", map[string]interface{}{
		"execution_id": ec.ExecutionID,
		"max":          s.opts.MaxConcurrency,
	})
	return typed
}

// fail marks the execution failed and records the error.
func (s *Service) fail(ec *ExecutionContext, typed *Error) error {
	ec.SetStatus(StatusFailed)
	ec.SetError(typed)
	s.opts.Recorder.RecordError(ec.ExecutionID, ec.CorrelationID, ec.TaskHash,
		string(typed.Kind), typed.Message)
	s.opts.Recorder.RecordCompletion(ec.ExecutionID, ec.CorrelationID, ec.TaskHash,
		string(ec.Status()), ec.Elapsed(), ec.Metrics())
	return typed
}

// validate resolves the task text and clamps request parameters. Validation
// failures reject before admission.
func (s *Service) validate(executionID string, req *Request) (task string, timeout time.Duration, maxSteps int, err error) {
	task = strings.TrimSpace(req.Task)
	if task == "" && req.TaskFile != "" {
		data, readErr := os.ReadFile(req.TaskFile)
		if readErr != nil {
			return "", 0, 0, NewError(KindValidation, executionID,
				"failed to read task file: %v", readErr)
		}
		task = strings.TrimSpace(string(data))
	}
	if task == "" {
		return "", 0, 0, NewError(KindValidation, executionID, "task text is required")
	}

	if req.WorkingDir != "" {
		if !filepath.IsAbs(req.WorkingDir) {
			return "", 0, 0, NewError(KindValidation, executionID,
				"working_dir must be an absolute path")
		}
		info, statErr := os.Stat(req.WorkingDir)
		if statErr != nil || !info.IsDir() {
			return "", 0, 0, NewError(KindValidation, executionID,
				"working_dir does not exist: %s", req.WorkingDir)
		}
	}

	maxSteps = req.MaxSteps
	if maxSteps == 0 {
		maxSteps = s.opts.DefaultMaxSteps
	}
	if maxSteps < 0 || maxSteps > s.opts.MaxStepsLimit {
		return "", 0, 0, NewError(KindValidation, executionID,
			"max_steps out of range [1, %d]", s.opts.MaxStepsLimit)
	}

	timeout = time.Duration(req.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = s.opts.DefaultTimeout
	}
	if timeout < s.opts.MinTimeout {
		timeout = s.opts.MinTimeout
	}
	if timeout > s.opts.MaxTimeout {
		timeout = s.opts.MaxTimeout
	}

	return task, timeout, maxSteps, nil
}

func (s *Service) buildRunner(provider llm.Provider, req Request, maxSteps int) *agent.Runner {
	parallel := s.opts.ParallelToolCalls
	if req.ParallelToolCalls != nil {
		parallel = *req.ParallelToolCalls
	}
	dispatcher := agent.NewDispatcher(s.opts.ToolRunner, parallel)
	runner := agent.NewRunner(provider, dispatcher, s.opts.ToolDefs, maxSteps)
	runner.SystemPrompt = s.opts.SystemPrompt
	return runner
}

// openTrajectory starts the trajectory file. Recorder failures never fail
// the execution.
func (s *Service) openTrajectory(executionID string, req Request) *trajectory.Writer {
	if s.opts.Trajectories == nil {
		return nil
	}
	writer, err := s.opts.Trajectories.Create(executionID, req.Task, req.Provider, req.Model)
	if err != nil {
		s.logger.Warn("trajectory create failed", map[string]interface{}{
			"execution_id": executionID,
			"error":        err.Error(),
		})
		return nil
	}
	return writer
}

func (s *Service) buildResult(executionID string, exec *agent.Execution) *Result {
	usage := exec.ToolUsage()
	totalCalls := 0
	failedCalls := 0
	for _, step := range exec.Steps {
		for _, result := range step.ToolResults {
			totalCalls++
			if result.Failed() {
				failedCalls++
			}
		}
	}
	successRate := 1.0
	if totalCalls > 0 {
		successRate = float64(totalCalls-failedCalls) / float64(totalCalls)
	}

	return &Result{
		Success:     exec.Success,
		Result:      exec.FinalResult,
		ExecutionID: executionID,
		Trajectory:  exec.Steps,
		Stats: Stats{
			Steps:           len(exec.Steps),
			InputTokens:     exec.InputTokens,
			OutputTokens:    exec.OutputTokens,
			DurationSeconds: exec.Duration.Seconds(),
			ToolUsage:       usage,
			SuccessRate:     successRate,
		},
	}
}

// ResolvedMaxSteps returns the step ceiling that will apply to a request.
func (s *Service) ResolvedMaxSteps(req Request) int {
	if req.MaxSteps > 0 {
		return req.MaxSteps
	}
	return s.opts.DefaultMaxSteps
}

// Active returns snapshots of currently tracked executions.
func (s *Service) Active() []ExecutionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ExecutionSnapshot, 0, len(s.active))
	for _, ec := range s.active {
		out = append(out, ExecutionSnapshot{
			ExecutionID:    ec.ExecutionID,
			CorrelationID:  ec.CorrelationID,
			TaskHash:       ec.TaskHash,
			Status:         ec.Status(),
			StartedAt:      ec.StartTime(),
			ElapsedSeconds: ec.Elapsed().Seconds(),
		})
	}
	return out
}

// ActiveCount returns the number of tracked executions.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Health reports slot availability and collaborator state.
func (s *Service) Health() Health {
	active := s.ActiveCount()
	h := Health{
		ActiveExecutions: active,
		MaxConcurrency:   s.opts.MaxConcurrency,
		AvailableSlots:   s.opts.MaxConcurrency - active,
		TelemetryBreaker: s.opts.Recorder.BreakerState(),
	}
	if s.opts.Cleanups != nil {
		h.Cleanup = s.opts.Cleanups.Stats()
		h.PendingCleanups = h.Cleanup.Pending
	}
	return h
}

// Shutdown reclaims all workspaces immediately and stops the cleanup
// scheduler.
func (s *Service) Shutdown() {
	if s.opts.Workspaces != nil {
		s.opts.Workspaces.Shutdown()
	}
	if s.opts.Cleanups != nil {
		s.opts.Cleanups.Shutdown()
	}
}
