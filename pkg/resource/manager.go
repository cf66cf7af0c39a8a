package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/notabene-ai/notabene/pkg/identity"
	"github.com/notabene-ai/notabene/pkg/llm"
	"github.com/notabene-ai/notabene/pkg/prompts"
)

// Resource error taxonomy. Failures are recorded in the note rather than
// blocking the caller.
var (
	ErrLoaderFailed            = errors.New("resource loader failed")
	ErrSummaryGenerationFailed = errors.New("resource summary generation failed")
)

// Loader extracts text from a source so it can be summarized. PDF, audio,
// and other format loaders are host collaborators registered per kind.
type Loader interface {
	FetchText(ctx context.Context, source string) (string, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, source string) (string, error)

// FetchText implements Loader.
func (f LoaderFunc) FetchText(ctx context.Context, source string) (string, error) {
	return f(ctx, source)
}

// Manager owns the resource summary notes in one folder.
type Manager struct {
	folder   string
	provider llm.Provider
	model    string
	loaders  map[Kind]Loader
	now      func() int64
}

// NewManager creates a manager writing notes under folder and summarizing
// with the given provider/model. Text files get a default loader; hosts
// register loaders for richer kinds.
func NewManager(folder string, provider llm.Provider, model string) *Manager {
	m := &Manager{
		folder:   folder,
		provider: provider,
		model:    model,
		loaders:  make(map[Kind]Loader),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
	fileLoader := LoaderFunc(func(_ context.Context, source string) (string, error) {
		data, err := os.ReadFile(source)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrLoaderFailed, err)
		}
		return string(data), nil
	})
	m.loaders[KindMarkdown] = fileLoader
	m.loaders[KindAttachment] = fileLoader
	return m
}

// RegisterLoader installs a loader for a kind, replacing any default.
func (m *Manager) RegisterLoader(kind Kind, l Loader) { m.loaders[kind] = l }

// SetClock overrides the manager's clock for tests.
func (m *Manager) SetClock(now func() int64) { m.now = now }

// EnsureResourceSummary guarantees a summary note exists for source and that
// ref is recorded in its mention lists. On generation failure the note is
// still written, with the failure reason and timestamp as its short summary.
func (m *Manager) EnsureResourceSummary(ctx context.Context, source string, ref Ref) (*Meta, error) {
	id := identity.ResourceID(source)

	existing, err := m.ReadResourceSummary(id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.addMention(ref) {
			existing.LastUpdatedTs = m.now()
			if err := m.SaveResourceSummary(*existing); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	meta := Meta{
		ID:            id,
		Source:        source,
		Kind:          KindOf(source),
		LastUpdatedTs: m.now(),
	}
	meta.addMention(ref)

	short, full, err := m.summarize(ctx, meta.Kind, source)
	if err != nil {
		slog.Warn("Resource summarization failed, recording failure in note",
			"resource_id", id,
			"source", source,
			"error", err)
		meta.ShortSummary = fmt.Sprintf("Summary generation failed at %d: %v", m.now(), err)
	} else {
		meta.ShortSummary = short
		meta.FullSummary = full
	}

	if err := m.SaveResourceSummary(meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// summarize produces (short, full) summaries for a source.
func (m *Manager) summarize(ctx context.Context, kind Kind, source string) (string, string, error) {
	if m.provider == nil {
		return "", "", fmt.Errorf("%w: no summarization model configured", ErrSummaryGenerationFailed)
	}

	if kind == KindImage {
		return m.summarizeImage(ctx, source)
	}

	loader, ok := m.loaders[kind]
	if !ok {
		return "", "", fmt.Errorf("%w: no loader for kind %s", ErrLoaderFailed, kind)
	}
	text, err := loader.FetchText(ctx, source)
	if err != nil {
		return "", "", err
	}

	out, err := llm.CompleteText(ctx, m.provider, m.model, []llm.Message{
		llm.TextMessage(llm.RoleUser, prompts.ResourceTextSummary(source, text)),
	}, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrSummaryGenerationFailed, err)
	}
	return splitSummary(out)
}

// summarizeImage runs the vision prompt over the raw image bytes.
func (m *Manager) summarizeImage(ctx context.Context, source string) (string, string, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrLoaderFailed, err)
	}

	out, err := llm.CompleteText(ctx, m.provider, m.model, []llm.Message{
		{Role: llm.RoleUser, Parts: []llm.Part{
			{Type: llm.PartTypeText, Text: prompts.ResourceImageSummary()},
			{Type: llm.PartTypeImage, Data: data, MediaType: MediaType(source)},
		}},
	}, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrSummaryGenerationFailed, err)
	}
	return splitSummary(out)
}

// splitSummary separates the "SHORT: " line from the full body.
func splitSummary(out string) (short, full string, err error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return "", "", fmt.Errorf("%w: empty summary", ErrSummaryGenerationFailed)
	}

	var fullLines []string
	for line := range strings.SplitSeq(out, "\n") {
		if after, ok := strings.CutPrefix(strings.TrimSpace(line), "SHORT: "); ok {
			short = after
			continue
		}
		fullLines = append(fullLines, line)
	}
	full = strings.TrimSpace(strings.Join(fullLines, "\n"))
	if short == "" {
		// Model skipped the marker; fall back to the first sentence.
		short = full
		if idx := strings.IndexAny(full, ".!?"); idx >= 0 && idx < len(full)-1 {
			short = full[:idx+1]
		}
	}
	return short, full, nil
}
