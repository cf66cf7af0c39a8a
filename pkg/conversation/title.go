package conversation

import (
	"context"
	"strings"

	"github.com/notabene-ai/notabene/pkg/llm"
	"github.com/notabene-ai/notabene/pkg/prompts"
	"github.com/notabene-ai/notabene/pkg/store"
)

const (
	// maxTitleLength bounds generated titles.
	maxTitleLength = 50
	// titleSampleMessages is how many opening messages feed the prompt.
	titleSampleMessages = 5
)

// GenerateTitle produces a conversation title from up to the first five
// messages plus the short summary when available. The result is stripped of
// quotes and whitespace and truncated to 50 characters; empty output means
// generation failed softly.
func GenerateTitle(ctx context.Context, provider llm.Provider, model string, messages []store.ChatMessage, contextSummary string) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	sampled := make([]string, 0, titleSampleMessages)
	for _, msg := range messages {
		if len(sampled) == titleSampleMessages {
			break
		}
		if msg.Content == "" {
			continue
		}
		sampled = append(sampled, msg.Role+": "+msg.Content)
	}
	if len(sampled) == 0 {
		return "", nil
	}

	system, user := prompts.Title(sampled, contextSummary)
	out, err := llm.CompleteText(ctx, provider, model, []llm.Message{
		llm.TextMessage(llm.RoleSystem, system),
		llm.TextMessage(llm.RoleUser, user),
	}, &llm.OutputControl{MaxTokens: 30})
	if err != nil {
		return "", err
	}

	return SanitizeTitle(out), nil
}

// SanitizeTitle normalizes model output into a single-line title.
func SanitizeTitle(title string) string {
	for line := range strings.SplitSeq(title, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, `"'`)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.ReplaceAll(line, "\r", "")
		if len(line) > maxTitleLength {
			line = strings.TrimSpace(line[:maxTitleLength])
		}
		return line
	}
	return ""
}
