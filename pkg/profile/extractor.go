package profile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/notabene-ai/notabene/pkg/llm"
	"github.com/notabene-ai/notabene/pkg/prompts"
)

// Extractor runs the profile extraction and merge prompts after completed
// assistant turns.
type Extractor struct {
	store    *Store
	provider llm.Provider
	model    string
	enabled  bool
}

// NewExtractor creates an extractor. When enabled is false, Run is a no-op:
// the profile is neither extracted nor updated.
func NewExtractor(store *Store, provider llm.Provider, model string, enabled bool) *Extractor {
	return &Extractor{store: store, provider: provider, model: model, enabled: enabled}
}

// Enabled reports whether profile maintenance is active.
func (e *Extractor) Enabled() bool { return e.enabled }

// Run extracts facts from one exchange and merges the accepted ones into the
// stored profile. The merge prompt dedupes and re-phrases in place; its
// output replaces the file contents.
func (e *Extractor) Run(ctx context.Context, userMessage, assistantReply, contextSummary string) error {
	if !e.enabled {
		return nil
	}

	out, err := llm.CompleteText(ctx, e.provider, e.model, []llm.Message{
		llm.TextMessage(llm.RoleUser, prompts.ProfileExtract(userMessage, assistantReply, contextSummary, Categories)),
	}, nil)
	if err != nil {
		return fmt.Errorf("profile extraction call: %w", err)
	}

	accepted, err := ParseExtraction(out)
	if err != nil {
		return err
	}
	if len(accepted) == 0 {
		slog.Debug("Profile extraction produced no accepted facts")
		return nil
	}

	return e.store.Update(func(current []Fact) ([]Fact, error) {
		existing := make([]string, 0, len(current))
		for _, f := range current {
			existing = append(existing, fmt.Sprintf("- [%s] %s", f.Category, f.Text))
		}
		incoming := make([]string, 0, len(accepted))
		for _, f := range accepted {
			incoming = append(incoming, fmt.Sprintf("- [%s] %s", f.Category, f.Text))
		}

		merged, err := llm.CompleteText(ctx, e.provider, e.model, []llm.Message{
			llm.TextMessage(llm.RoleUser, prompts.MemoryUpdate(existing, incoming)),
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("profile merge call: %w", err)
		}

		facts := ParseBullets(merged)
		if len(facts) == 0 {
			// A merge that drops everything is almost certainly a bad
			// completion; keep what we had plus the new facts.
			slog.Warn("Profile merge returned no facts, appending instead")
			return append(current, accepted...), nil
		}
		slog.Debug("Profile updated", "facts", len(facts))
		return facts, nil
	})
}

// SystemMessage renders the profile injection block, or ok=false when the
// profile is disabled or empty.
func (e *Extractor) SystemMessage() (string, bool) {
	if !e.enabled {
		return "", false
	}
	facts, err := e.store.Load()
	if err != nil {
		slog.Warn("Failed to load user profile", "error", err)
		return "", false
	}
	if len(facts) == 0 {
		return "", false
	}
	return prompts.UserProfile(ByCategory(facts), Categories), true
}
