package replay

import (
	"fmt"
	"sort"
	"time"

	"github.com/praxislabs/agentd/internal/agent"
	"github.com/praxislabs/agentd/internal/trajectory"
)

// Stats holds aggregate statistics for one trajectory.
type Stats struct {
	Steps        int
	InputTokens  int
	OutputTokens int
	Duration     time.Duration

	ToolCalls       int
	ToolFailures    int
	ToolUsage       map[string]int
	ReflectionSteps int
}

// collectStats aggregates statistics across a full record set. Returns nil
// when there are no step records.
func collectStats(records []trajectory.Record) *Stats {
	stats := &Stats{ToolUsage: make(map[string]int)}

	var first, last time.Time
	for _, record := range records {
		if first.IsZero() || record.Timestamp.Before(first) {
			first = record.Timestamp
		}
		if last.IsZero() || record.Timestamp.After(last) {
			last = record.Timestamp
		}

		if record.RecordType != trajectory.RecordTypeStep || record.Step == nil {
			continue
		}
		step := record.Step
		stats.Steps++
		if step.Response != nil {
			stats.InputTokens += step.Response.InputTokens
			stats.OutputTokens += step.Response.OutputTokens
		}
		if step.State == agent.StateReflecting {
			stats.ReflectionSteps++
		}
		for _, call := range step.ToolCalls {
			stats.ToolCalls++
			stats.ToolUsage[call.Name]++
		}
		for _, result := range step.ToolResults {
			if result.Failed() {
				stats.ToolFailures++
			}
		}
	}

	if stats.Steps == 0 {
		return nil
	}
	if !first.IsZero() && !last.IsZero() {
		stats.Duration = last.Sub(first)
	}
	return stats
}

func (r *Renderer) renderStats(stats *Stats) {
	fmt.Fprintln(r.output, divider)
	fmt.Fprintln(r.output, titleStyle.Render("STATISTICS"))

	fmt.Fprintf(r.output, "  %s %d\n", dimStyle.Render("steps:"), stats.Steps)
	fmt.Fprintf(r.output, "  %s %d in / %d out\n", dimStyle.Render("tokens:"), stats.InputTokens, stats.OutputTokens)
	if stats.Duration > 0 {
		fmt.Fprintf(r.output, "  %s %s\n", dimStyle.Render("duration:"), stats.Duration.Round(time.Millisecond))
	}
	if stats.ReflectionSteps > 0 {
		fmt.Fprintf(r.output, "  %s %d\n", dimStyle.Render("reflections:"), stats.ReflectionSteps)
	}

	if stats.ToolCalls > 0 {
		failure := ""
		if stats.ToolFailures > 0 {
			failure = " " + errorStyle.Render(fmt.Sprintf("(%d failed)", stats.ToolFailures))
		}
		fmt.Fprintf(r.output, "  %s %d%s\n", dimStyle.Render("tool calls:"), stats.ToolCalls, failure)

		names := make([]string, 0, len(stats.ToolUsage))
		for name := range stats.ToolUsage {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(r.output, "    %s %d\n", toolStyle.Render(name+":"), stats.ToolUsage[name])
		}
	}
}
