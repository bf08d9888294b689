// Package stream fans live execution progress out to subscribers as a typed,
// sequenced event feed with SSE and NDJSON framings.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/praxislabs/agentd/internal/agent"
)

// EventType discriminates feed entries.
type EventType string

const (
	EventStart          EventType = "start"
	EventStep           EventType = "step"
	EventToolCall       EventType = "tool_call"
	EventLLMInteraction EventType = "llm_interaction"
	EventProgress       EventType = "progress"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"
)

// Terminal reports whether the event type ends the feed.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// Event is one entry in an execution's feed. Seq is strictly increasing
// within a feed; subscribers may use it to detect drops.
type Event struct {
	Type        EventType              `json:"type"`
	ExecutionID string                 `json:"execution_id"`
	Seq         int64                  `json:"seq"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// DefaultBuffer is the subscriber channel capacity.
const DefaultBuffer = 256

// Publisher serializes one execution's events onto a channel. Exactly one
// terminal event is ever delivered; the channel closes after it. When the
// subscriber lags, non-terminal events are dropped rather than blocking the
// execution.
type Publisher struct {
	executionID string

	mu       sync.Mutex
	seq      int64
	terminal bool
	dropped  int64
	ch       chan Event
}

// NewPublisher creates a feed for one execution. buffer <= 0 selects
// DefaultBuffer.
func NewPublisher(executionID string, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Publisher{
		executionID: executionID,
		ch:          make(chan Event, buffer),
	}
}

// Events returns the subscriber channel. It closes after the terminal event.
func (p *Publisher) Events() <-chan Event {
	return p.ch
}

// Bind stamps subsequent events with the execution identifier. Used when the
// identifier is assigned after the feed is opened.
func (p *Publisher) Bind(executionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executionID = executionID
}

// Publish appends one event to the feed. Events after the terminal one are
// silently discarded.
func (p *Publisher) Publish(eventType EventType, data map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminal {
		return
	}

	p.seq++
	event := Event{
		Type:        eventType,
		ExecutionID: p.executionID,
		Seq:         p.seq,
		Timestamp:   time.Now(),
		Data:        data,
	}

	if eventType.Terminal() {
		p.terminal = true
		// The terminal event must arrive: make room by shedding the oldest
		// buffered entries if the subscriber is behind.
		for {
			select {
			case p.ch <- event:
				close(p.ch)
				return
			default:
				select {
				case <-p.ch:
					p.dropped++
				default:
				}
			}
		}
	}

	select {
	case p.ch <- event:
	default:
		p.dropped++
	}
}

// PublishStep expands one state-machine step into its feed events.
func (p *Publisher) PublishStep(step *agent.Step, maxSteps int) {
	if step.Response != nil {
		p.Publish(EventLLMInteraction, map[string]interface{}{
			"step":          step.Number,
			"model":         step.Response.Model,
			"input_tokens":  step.Response.InputTokens,
			"output_tokens": step.Response.OutputTokens,
			"stop_reason":   step.Response.StopReason,
		})
	}
	for i, call := range step.ToolCalls {
		fields := map[string]interface{}{
			"step": step.Number,
			"id":   call.ID,
			"name": call.Name,
		}
		if i < len(step.ToolResults) {
			fields["failed"] = step.ToolResults[i].Failed()
		}
		p.Publish(EventToolCall, fields)
	}
	p.Publish(EventStep, map[string]interface{}{
		"step":  step.Number,
		"state": string(step.State),
		"error": step.Error,
	})
	p.Publish(EventProgress, map[string]interface{}{
		"step":      step.Number,
		"max_steps": maxSteps,
	})
}

// Dropped returns how many events were shed due to subscriber lag.
func (p *Publisher) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// WriteSSE frames one event for a text/event-stream response.
func WriteSSE(w io.Writer, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal stream event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Type, data)
	return err
}

// WriteNDJSON frames one event as a newline-delimited JSON record.
func WriteNDJSON(w io.Writer, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal stream event: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte{'\n'})
	return err
}
