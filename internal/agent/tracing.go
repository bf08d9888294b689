// Tracing instrumentation for the agent step loop.
package agent

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startRunSpan starts a span covering one full task run.
func (r *Runner) startRunSpan(ctx context.Context) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "agent.run")
	span.SetAttributes(
		attribute.Int("agent.max_steps", r.maxSteps),
		attribute.Bool("agent.parallel_tools", r.dispatcher != nil && r.dispatcher.Parallel),
	)
	return ctx, span
}

// startStepSpan starts a span covering one step of the state machine.
func (r *Runner) startStepSpan(ctx context.Context, number int) (context.Context, trace.Span) {
	ctx, span := telemetry.GetTracer().StartSpan(ctx, "agent.step")
	span.SetAttributes(attribute.Int("agent.step", number))
	return ctx, span
}

// endStepSpan ends a step span with its resolved state.
func (r *Runner) endStepSpan(span trace.Span, step *Step) {
	span.SetAttributes(
		attribute.String("agent.state", string(step.State)),
		attribute.Int("agent.tool_calls", len(step.ToolCalls)),
	)
	span.End()
}

// endRunSpan ends the run span with outcome info.
func (r *Runner) endRunSpan(span trace.Span, exec *Execution, err error) {
	span.SetAttributes(
		attribute.Int("agent.steps", len(exec.Steps)),
		attribute.Bool("agent.success", exec.Success),
		attribute.Int("agent.input_tokens", exec.InputTokens),
		attribute.Int("agent.output_tokens", exec.OutputTokens),
	)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
