package service

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/praxislabs/agentd/internal/cleanup"
	"github.com/praxislabs/agentd/internal/telemetry"
	"github.com/praxislabs/agentd/internal/trajectory"
	"github.com/praxislabs/agentd/internal/workspace"
	"github.com/vinayprograms/agentkit/llm"
)

type fixture struct {
	svc        *Service
	workspaces *workspace.Coordinator
	cleanups   *cleanup.Scheduler
}

func newFixture(t *testing.T, provider llm.Provider, mutate func(*Options)) *fixture {
	t.Helper()

	cleanups := cleanup.NewScheduler()
	t.Cleanup(cleanups.Shutdown)
	workspaces := workspace.NewCoordinator(t.TempDir(), cleanups, 10*time.Millisecond)

	opts := Options{
		MaxConcurrency: 2,
		DefaultTimeout: 5 * time.Second,
		MinTimeout:     10 * time.Millisecond,
		ProviderFactory: func(Request) (llm.Provider, error) {
			return provider, nil
		},
		Workspaces: workspaces,
		Cleanups:   cleanups,
		Recorder:   telemetry.NewRecorder(nil),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &fixture{svc: New(opts), workspaces: workspaces, cleanups: cleanups}
}

func TestExecuteSuccess(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse("Task completed successfully.")
	f := newFixture(t, provider, nil)

	result, err := f.svc.Execute(context.Background(), Request{Task: "list the files"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if result.ExecutionID == "" {
		t.Error("expected an execution id")
	}
	if result.Stats.Steps != 1 {
		t.Errorf("steps = %d, want 1", result.Stats.Steps)
	}
	if result.Result != "Task completed successfully." {
		t.Errorf("result = %q", result.Result)
	}
	if f.svc.ActiveCount() != 0 {
		t.Errorf("active after completion = %d, want 0", f.svc.ActiveCount())
	}
	if got := len(f.workspaces.Active()); got != 0 {
		t.Errorf("leases after completion = %d, want 0", got)
	}
}

func TestExecuteValidation(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse("done")
	f := newFixture(t, provider, nil)

	cases := []struct {
		name string
		req  Request
	}{
		{"empty task", Request{}},
		{"steps over limit", Request{Task: "t", MaxSteps: 10000}},
		{"relative working dir", Request{Task: "t", WorkingDir: "relative/path"}},
		{"missing working dir", Request{Task: "t", WorkingDir: "/definitely/not/here"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Execute(context.Background(), tc.req)
			if KindOf(err) != KindValidation {
				t.Errorf("kind = %s, want %s (err: %v)", KindOf(err), KindValidation, err)
			}
		})
	}

	if f.svc.ActiveCount() != 0 {
		t.Errorf("validation failures left %d active executions", f.svc.ActiveCount())
	}
}

func TestRejectsAtConcurrencyCeiling(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &llm.ChatResponse{Content: "task completed"}, nil
	}
	f := newFixture(t, provider, func(o *Options) { o.MaxConcurrency = 1 })

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.svc.Execute(context.Background(), Request{Task: "occupy the slot"})
		firstDone <- err
	}()
	<-started

	_, err := f.svc.Execute(context.Background(), Request{Task: "rejected"})
	if KindOf(err) != KindResourceExhausted {
		t.Fatalf("kind = %s, want %s (err: %v)", KindOf(err), KindResourceExhausted, err)
	}
	// Rejection happens before workspace acquisition.
	if got := len(f.workspaces.Active()); got != 1 {
		t.Errorf("leases during rejection = %d, want 1", got)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first execution failed: %v", err)
	}

	// The slot is free again.
	provider.ChatFunc = nil
	provider.SetResponse("task completed")
	if _, err := f.svc.Execute(context.Background(), Request{Task: "after release"}); err != nil {
		t.Fatalf("execution after slot release failed: %v", err)
	}
}

func TestSlotReleasedAfterFailure(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, errors.New("model unavailable")
	}
	f := newFixture(t, provider, func(o *Options) { o.MaxConcurrency = 1 })

	_, err := f.svc.Execute(context.Background(), Request{Task: "will fail"})
	if KindOf(err) != KindAgent {
		t.Fatalf("kind = %s, want %s (err: %v)", KindOf(err), KindAgent, err)
	}
	if f.svc.ActiveCount() != 0 {
		t.Errorf("active after failure = %d, want 0", f.svc.ActiveCount())
	}
	if got := len(f.workspaces.Active()); got != 0 {
		t.Errorf("leases after failure = %d, want 0", got)
	}

	// The single slot must be reusable.
	provider.ChatFunc = nil
	provider.SetResponse("task completed")
	if _, err := f.svc.Execute(context.Background(), Request{Task: "retry"}); err != nil {
		t.Fatalf("execution after failure did not get the slot back: %v", err)
	}
}

func TestDeadlineTerminatesExecution(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f := newFixture(t, provider, func(o *Options) {
		o.MinTimeout = 10 * time.Millisecond
		o.DefaultTimeout = 50 * time.Millisecond
	})

	start := time.Now()
	_, err := f.svc.Execute(context.Background(), Request{Task: "hang forever"})
	elapsed := time.Since(start)

	if KindOf(err) != KindTimeout {
		t.Fatalf("kind = %s, want %s (err: %v)", KindOf(err), KindTimeout, err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("deadline enforcement took %v", elapsed)
	}
	if f.svc.ActiveCount() != 0 {
		t.Errorf("active after timeout = %d, want 0", f.svc.ActiveCount())
	}
}

func TestCallerCancellation(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f := newFixture(t, provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := f.svc.Execute(ctx, Request{Task: "cancelled by caller"})
	if KindOf(err) != KindInternal {
		t.Fatalf("kind = %s, want %s (err: %v)", KindOf(err), KindInternal, err)
	}
}

func TestProviderFactoryFailure(t *testing.T) {
	f := newFixture(t, nil, func(o *Options) {
		o.ProviderFactory = func(Request) (llm.Provider, error) {
			return nil, errors.New("unknown provider: carrier-pigeon")
		}
	})

	_, err := f.svc.Execute(context.Background(), Request{Task: "t"})
	if KindOf(err) != KindValidation {
		t.Fatalf("kind = %s, want %s (err: %v)", KindOf(err), KindValidation, err)
	}
	if f.svc.ActiveCount() != 0 {
		t.Errorf("active after factory failure = %d, want 0", f.svc.ActiveCount())
	}
}

func TestMustPatchWithoutChanges(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse("task completed")
	f := newFixture(t, provider, nil)

	_, err := f.svc.Execute(context.Background(), Request{Task: "t", MustPatch: true})
	if KindOf(err) != KindAgent {
		t.Fatalf("kind = %s, want %s (err: %v)", KindOf(err), KindAgent, err)
	}
}

func TestObserverSequence(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse("task completed")
	f := newFixture(t, provider, nil)

	var events []string
	obs := &Observer{
		OnStart:    func(string) { events = append(events, "start") },
		OnComplete: func(string, *Result) { events = append(events, "complete") },
		OnError:    func(string, error) { events = append(events, "error") },
	}

	result, err := f.svc.ExecuteObserved(context.Background(), Request{Task: "t"}, obs)
	if err != nil {
		t.Fatalf("ExecuteObserved failed: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if len(events) != 2 || events[0] != "start" || events[1] != "complete" {
		t.Errorf("events = %v, want [start complete]", events)
	}
}

func TestTrajectoryWritten(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse("task completed")

	store := trajectory.NewStore(t.TempDir())
	f := newFixture(t, provider, func(o *Options) { o.Trajectories = store })

	result, err := f.svc.Execute(context.Background(), Request{Task: "t"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	records, err := trajectory.Load(store.PathFor(result.ExecutionID))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want header + step + footer", len(records))
	}
	if records[2].Success == nil || !*records[2].Success {
		t.Errorf("footer success = %+v", records[2].Success)
	}
}

func TestHealthReportsSlots(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse("task completed")
	f := newFixture(t, provider, func(o *Options) { o.MaxConcurrency = 3 })

	h := f.svc.Health()
	if h.MaxConcurrency != 3 || h.ActiveExecutions != 0 || h.AvailableSlots != 3 {
		t.Errorf("health = %+v", h)
	}
	if h.TelemetryBreaker != telemetry.BreakerClosed {
		t.Errorf("breaker = %s, want closed", h.TelemetryBreaker)
	}
}

func TestShutdownReclaimsWorkspaces(t *testing.T) {
	started := make(chan struct{})
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f := newFixture(t, provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.Execute(ctx, Request{Task: "long running"})
		close(done)
	}()
	<-started

	leases := f.workspaces.Active()
	if len(leases) != 1 {
		t.Fatalf("leases = %d, want 1", len(leases))
	}
	root := leases[0].TempRoot

	cancel()
	<-done
	f.svc.Shutdown()

	if _, err := os.Stat(root); err == nil {
		t.Errorf("temp root %s still present after shutdown", root)
	}
}
