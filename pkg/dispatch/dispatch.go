// Package dispatch drives the LLM for one chat turn, interleaving assembler
// progress events ahead of the provider stream and surfacing text,
// reasoning, and tool events as one typed sequence.
package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/notabene-ai/notabene/pkg/assembler"
	"github.com/notabene-ai/notabene/pkg/llm"
)

// EventType discriminates dispatcher events.
type EventType string

const (
	EventProgress       EventType = "progress"
	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	EventToolCall       EventType = "tool-call"
	EventToolResult     EventType = "tool-result"
	EventError          EventType = "error"
	EventDone           EventType = "done"
)

// Event is one element of the dispatched stream.
type Event struct {
	Type       EventType
	Progress   *assembler.ProgressEvent
	Text       string
	ToolName   string
	ToolInput  string
	ToolOutput string
	Err        error
	Result     *Result
}

// Result carries the completed (or cancelled) turn.
type Result struct {
	Content   string
	Reasoning string
	Usage     llm.Usage
	GenTimeMs int64
	Cancelled bool
}

// BuildFunc assembles the prompt, reporting progress through emit.
type BuildFunc func(emit func(assembler.ProgressEvent)) ([]llm.Message, error)

// Dispatcher resolves providers and runs turns.
type Dispatcher struct {
	registry *llm.Registry
}

// New creates a dispatcher over the provider registry.
func New(registry *llm.Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Stream assembles the prompt via build and streams the completion. The
// returned channel is closed after the final Done or Error event. Assembler
// events are forwarded before any LLM event; cancellation interrupts the
// provider call, and the partial content accumulated so far is surfaced on
// the Done event with Cancelled set (the caller decides whether to persist).
func (d *Dispatcher) Stream(ctx context.Context, providerName, model string, oc *llm.OutputControl, build BuildFunc) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)
		start := time.Now()

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		prompt, err := build(func(pe assembler.ProgressEvent) {
			send(Event{Type: EventProgress, Progress: &pe})
		})
		if err != nil {
			send(Event{Type: EventError, Err: err})
			return
		}

		provider, err := d.registry.Resolve(providerName)
		if err != nil {
			send(Event{Type: EventError, Err: err})
			return
		}

		stream, err := provider.StreamChat(ctx, llm.ChatRequest{
			Model:         model,
			Messages:      prompt,
			OutputControl: oc,
		})
		if err != nil {
			if ctx.Err() != nil {
				send(Event{Type: EventDone, Result: &Result{Cancelled: true, GenTimeMs: time.Since(start).Milliseconds()}})
				return
			}
			send(Event{Type: EventError, Err: err})
			return
		}
		defer stream.Close()

		var content, reasoning strings.Builder
		for {
			if ctx.Err() != nil {
				slog.Debug("Chat stream cancelled", "model", model)
				events <- Event{Type: EventDone, Result: &Result{
					Content:   content.String(),
					Reasoning: reasoning.String(),
					Usage:     stream.Usage(),
					GenTimeMs: time.Since(start).Milliseconds(),
					Cancelled: true,
				}}
				return
			}

			ev, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if errors.Is(err, llm.ErrProviderCancelled) || errors.Is(err, context.Canceled) {
					events <- Event{Type: EventDone, Result: &Result{
						Content:   content.String(),
						Reasoning: reasoning.String(),
						Usage:     stream.Usage(),
						GenTimeMs: time.Since(start).Milliseconds(),
						Cancelled: true,
					}}
					return
				}
				send(Event{Type: EventError, Err: err})
				return
			}

			switch ev.Type {
			case llm.StreamEventTextDelta:
				content.WriteString(ev.Text)
				if !send(Event{Type: EventTextDelta, Text: ev.Text}) {
					continue
				}
			case llm.StreamEventReasoningDelta:
				reasoning.WriteString(ev.Text)
				if !send(Event{Type: EventReasoningDelta, Text: ev.Text}) {
					continue
				}
			case llm.StreamEventToolCall:
				send(Event{Type: EventToolCall, ToolName: ev.ToolName, ToolInput: ev.ToolInput})
			case llm.StreamEventToolResult:
				send(Event{Type: EventToolResult, ToolName: ev.ToolName, ToolInput: ev.ToolInput, ToolOutput: ev.ToolOutput})
			case llm.StreamEventError:
				send(Event{Type: EventError, Err: ev.Err})
				return
			}
		}

		events <- Event{Type: EventDone, Result: &Result{
			Content:   content.String(),
			Reasoning: reasoning.String(),
			Usage:     stream.Usage(),
			GenTimeMs: time.Since(start).Milliseconds(),
		}}
	}()

	return events
}
