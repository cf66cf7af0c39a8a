// Package llmtest provides scripted llm.Provider implementations for tests.
package llmtest

import (
	"context"
	"io"
	"sync"

	"github.com/notabene-ai/notabene/pkg/llm"
)

// Call records one StreamChat invocation.
type Call struct {
	Model    string
	Messages []llm.Message
}

// Provider is a scripted llm.Provider. Each StreamChat call pops the next
// response from Responses (the last one repeats). EmbedFunc, when set,
// overrides the default zero embedding.
type Provider struct {
	Name      string
	Responses []Response
	EmbedFunc func(model, text string) ([]float32, error)
	RerankFn  func(query string, documents []string) ([]llm.RerankScore, error)

	mu    sync.Mutex
	calls []Call
	next  int
}

// Response scripts a single streamed completion.
type Response struct {
	Events []llm.StreamEvent
	Usage  llm.Usage
	Err    error // returned by StreamChat itself
}

var (
	_ llm.Provider          = (*Provider)(nil)
	_ llm.RerankingProvider = (*Provider)(nil)
)

// TextResponse scripts a completion that streams text in a single delta.
func TextResponse(text string) Response {
	return Response{
		Events: []llm.StreamEvent{{Type: llm.StreamEventTextDelta, Text: text}},
		Usage:  llm.Usage{InputTokens: 10, OutputTokens: int64(len(text) / 4)},
	}
}

// ID implements llm.Provider.
func (p *Provider) ID() string {
	if p.Name == "" {
		return "fake"
	}
	return p.Name
}

// Calls returns the recorded StreamChat invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// StreamChat implements llm.Provider.
func (p *Provider) StreamChat(_ context.Context, req llm.ChatRequest) (llm.Stream, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Model: req.Model, Messages: req.Messages})
	var resp Response
	if len(p.Responses) > 0 {
		idx := min(p.next, len(p.Responses)-1)
		resp = p.Responses[idx]
		p.next++
	}
	p.mu.Unlock()

	if resp.Err != nil {
		return nil, resp.Err
	}
	return &stream{events: resp.Events, usage: resp.Usage}, nil
}

// GenerateEmbedding implements llm.Provider.
func (p *Provider) GenerateEmbedding(_ context.Context, model, text string) ([]float32, error) {
	if p.EmbedFunc != nil {
		return p.EmbedFunc(model, text)
	}
	return []float32{0, 0, 0, 0}, nil
}

// Rerank implements llm.RerankingProvider.
func (p *Provider) Rerank(_ context.Context, _, query string, documents []string, _ int) ([]llm.RerankScore, error) {
	if p.RerankFn != nil {
		return p.RerankFn(query, documents)
	}
	scores := make([]llm.RerankScore, len(documents))
	for i := range documents {
		scores[i] = llm.RerankScore{Index: i, Score: 0.5}
	}
	return scores, nil
}

type stream struct {
	events []llm.StreamEvent
	usage  llm.Usage
	pos    int
}

func (s *stream) Recv() (llm.StreamEvent, error) {
	if s.pos >= len(s.events) {
		return llm.StreamEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *stream) Usage() llm.Usage { return s.usage }

func (s *stream) Close() {}
