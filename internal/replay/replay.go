package replay

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/reflow/wordwrap"
	"github.com/praxislabs/agentd/internal/agent"
	"github.com/praxislabs/agentd/internal/trajectory"
)

// Renderer writes a trajectory timeline to an output stream.
type Renderer struct {
	output  io.Writer
	width   int
	verbose bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithWidth sets the wrap width for content blocks.
func WithWidth(width int) Option {
	return func(r *Renderer) {
		if width > 0 {
			r.width = width
		}
	}
}

// WithVerbose enables full response and tool output blocks.
func WithVerbose(verbose bool) Option {
	return func(r *Renderer) {
		r.verbose = verbose
	}
}

// NewRenderer creates a renderer writing to output.
func NewRenderer(output io.Writer, opts ...Option) *Renderer {
	r := &Renderer{output: output, width: 100}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RenderFile loads and renders a complete trajectory file.
func (r *Renderer) RenderFile(path string) error {
	records, err := trajectory.Load(path)
	if err != nil {
		return err
	}
	return r.Render(records)
}

// Render writes the timeline for a full set of records, statistics included.
func (r *Renderer) Render(records []trajectory.Record) error {
	for _, record := range records {
		if err := r.RenderRecord(record); err != nil {
			return err
		}
	}
	if stats := collectStats(records); stats != nil {
		r.renderStats(stats)
	}
	return nil
}

// RenderRecord writes a single record. Used directly by live following.
func (r *Renderer) RenderRecord(record trajectory.Record) error {
	switch record.RecordType {
	case trajectory.RecordTypeHeader:
		r.renderHeader(record)
	case trajectory.RecordTypeStep:
		if record.Step != nil {
			r.renderStep(record)
		}
	case trajectory.RecordTypeFooter:
		r.renderFooter(record)
	default:
		fmt.Fprintf(r.output, "%s │ %s\n",
			seqStyle.Render(fmt.Sprintf("%d", record.Seq)),
			dimStyle.Render(record.RecordType))
	}
	return nil
}

func (r *Renderer) renderHeader(record trajectory.Record) {
	fmt.Fprintln(r.output, divider)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("EXECUTION:"), valueStyle.Render(record.ExecutionID))
	if record.Model != "" {
		fmt.Fprintf(r.output, "%s %s/%s\n", dimStyle.Render("model:"), record.Provider, record.Model)
	}
	fmt.Fprintf(r.output, "%s %s\n", dimStyle.Render("task:"), truncate(record.Task, 200))
	fmt.Fprintln(r.output, divider)
}

func (r *Renderer) renderStep(record trajectory.Record) {
	step := record.Step
	seq := seqStyle.Render(fmt.Sprintf("%d", step.Number))
	ts := timeStyle.Render(record.Timestamp.Format("15:04:05"))

	switch step.State {
	case agent.StateCompleted:
		fmt.Fprintf(r.output, "%s │ %s │ %s\n", seq, ts, successStyle.Render("COMPLETED"))
	case agent.StateError:
		fmt.Fprintf(r.output, "%s │ %s │ %s %s\n", seq, ts,
			errorStyle.Render("ERROR"), truncate(step.Error, 120))
	case agent.StateCallingTool, agent.StateReflecting:
		fmt.Fprintf(r.output, "%s │ %s │ %s\n", seq, ts, toolStyle.Render("TOOLS"))
		for i, call := range step.ToolCalls {
			status := ""
			if i < len(step.ToolResults) && step.ToolResults[i].Failed() {
				status = " " + errorStyle.Render("failed")
			}
			fmt.Fprintf(r.output, "      │          │   %s%s\n", toolStyle.Render(call.Name), status)
			if r.verbose && i < len(step.ToolResults) {
				r.printContent(step.ToolResults[i].Output)
			}
		}
		if step.State == agent.StateReflecting {
			fmt.Fprintf(r.output, "      │          │   %s %s\n",
				reflectStyle.Render("reflect:"), dimStyle.Render(truncate(step.Reflection, 100)))
		}
	default:
		fmt.Fprintf(r.output, "%s │ %s │ %s\n", seq, ts, thinkingStyle.Render("THINKING"))
		if r.verbose && step.Response != nil {
			r.printContent(step.Response.Content)
		}
	}
}

func (r *Renderer) renderFooter(record trajectory.Record) {
	fmt.Fprintln(r.output, divider)
	outcome := warnStyle.Render("INCOMPLETE")
	if record.Success != nil && *record.Success {
		outcome = successStyle.Render("SUCCESS")
	} else if record.Success != nil {
		outcome = errorStyle.Render("FAILED")
	}
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("OUTCOME:"), outcome)
	if record.Result != "" {
		r.printContent(record.Result)
	}
}

// printContent writes a wrapped, indented content block.
func (r *Renderer) printContent(content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	wrapped := wordwrap.String(content, r.width-4)
	for _, line := range strings.Split(wrapped, "\n") {
		fmt.Fprintf(r.output, "    %s\n", dimStyle.Render(line))
	}
}

func truncate(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
