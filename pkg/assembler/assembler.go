// Package assembler builds the ordered LLM request sequence for a chat turn:
// system instructions, user profile, context memory, then the recent message
// window, under the model's token budget. Progress is reported through typed
// events as each block is assembled.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/notabene-ai/notabene/pkg/config"
	"github.com/notabene-ai/notabene/pkg/llm"
	"github.com/notabene-ai/notabene/pkg/prompts"
	"github.com/notabene-ai/notabene/pkg/resource"
	"github.com/notabene-ai/notabene/pkg/store"
)

// defaultRecentCount is the size of the recent message window.
const defaultRecentCount = 10

// Stage identifies an assembly step.
type Stage string

const (
	StageBuildContextMessages  Stage = "BUILD_CONTEXT_MESSAGES"
	StageLoadSystemPrompt      Stage = "LOAD_SYSTEM_PROMPT"
	StageLoadUserProfile       Stage = "LOAD_USER_PROFILE"
	StageBuildContextMemory    Stage = "BUILD_CONTEXT_MEMORY"
	StageCollectRecentMessages Stage = "COLLECT_RECENT_MESSAGES"
)

// Phase marks the start or the result of a stage.
type Phase string

const (
	PhaseStart  Phase = "start"
	PhaseResult Phase = "result"
)

// ProgressEvent is one assembly progress notification.
type ProgressEvent struct {
	Stage      Stage
	Phase      Phase
	Count      int
	DurationMs int64
}

// ProfileSource provides the rendered user-profile block.
type ProfileSource interface {
	SystemMessage() (string, bool)
}

// ResourceReader resolves resource ids to their summaries and sources.
type ResourceReader interface {
	ReadResourceSummary(id string) (*resource.Meta, error)
}

// Builder assembles prompts. Construct once and share.
type Builder struct {
	resources         ResourceReader
	profile           ProfileSource
	systemPrompt      string
	attachmentDefault config.AttachmentHandling
}

// New creates a builder. profile may be nil when the profile is disabled.
func New(resources ResourceReader, profile ProfileSource, systemPrompt string, attachmentDefault config.AttachmentHandling) *Builder {
	return &Builder{
		resources:         resources,
		profile:           profile,
		systemPrompt:      systemPrompt,
		attachmentDefault: attachmentDefault,
	}
}

// Input carries everything one build needs.
type Input struct {
	Conversation *store.ChatConversation
	Project      *store.ChatProject
	// Messages is the chronological history including the new user message.
	Messages []store.ChatMessage
	// Model is the resolved model id, consulted for capabilities.
	Model string
	// RecentCount overrides the recent window size; 0 means the default.
	RecentCount int
}

// Build produces the request sequence, emitting progress events through
// emit. emit may be nil.
func (b *Builder) Build(ctx context.Context, in Input, emit func(ProgressEvent)) ([]llm.Message, error) {
	if emit == nil {
		emit = func(ProgressEvent) {}
	}
	start := time.Now()
	emit(ProgressEvent{Stage: StageBuildContextMessages, Phase: PhaseStart})

	var out []llm.Message

	// 1. System instructions, always first when present.
	emit(ProgressEvent{Stage: StageLoadSystemPrompt, Phase: PhaseStart})
	if b.systemPrompt != "" {
		out = append(out, llm.TextMessage(llm.RoleSystem, b.systemPrompt))
	}
	emit(ProgressEvent{Stage: StageLoadSystemPrompt, Phase: PhaseResult, Count: len(out)})

	// 2. User profile.
	emit(ProgressEvent{Stage: StageLoadUserProfile, Phase: PhaseStart})
	if b.profile != nil {
		if msg, ok := b.profile.SystemMessage(); ok {
			out = append(out, llm.TextMessage(llm.RoleSystem, msg))
		}
	}
	emit(ProgressEvent{Stage: StageLoadUserProfile, Phase: PhaseResult, Count: len(out)})

	// 3. Context memory.
	emit(ProgressEvent{Stage: StageBuildContextMemory, Phase: PhaseStart})
	if memory, ok := b.contextMemory(in); ok {
		out = append(out, llm.TextMessage(llm.RoleSystem, memory))
	}
	emit(ProgressEvent{Stage: StageBuildContextMemory, Phase: PhaseResult, Count: len(out)})

	fixedCount := len(out)

	// 4. Recent messages.
	emit(ProgressEvent{Stage: StageCollectRecentMessages, Phase: PhaseStart})
	recent, err := b.collectRecent(ctx, in)
	if err != nil {
		return nil, err
	}
	out = append(out, recent...)
	emit(ProgressEvent{Stage: StageCollectRecentMessages, Phase: PhaseResult, Count: len(recent)})

	// Token budget: drop from the oldest recent message forward, never the
	// system, profile, or memory blocks.
	out = truncateToWindow(out, fixedCount, llm.CapabilitiesFor(in.Model).ContextWindow)

	emit(ProgressEvent{
		Stage:      StageBuildContextMessages,
		Phase:      PhaseResult,
		Count:      len(out),
		DurationMs: time.Since(start).Milliseconds(),
	})
	return out, nil
}

// contextMemory renders the memory block when either side has a summary.
func (b *Builder) contextMemory(in Input) (string, bool) {
	var projectName, projectSummary string
	var projectResources []string
	if in.Project != nil && in.Project.Context != nil {
		projectName = in.Project.Name
		projectSummary = in.Project.Context.ShortSummary
		projectResources = in.Project.Context.ResourceIDs
	}

	var convSummary string
	var convTopics, convResources []string
	if in.Conversation != nil && in.Conversation.Context != nil {
		convSummary = in.Conversation.Context.ShortSummary
		convTopics = in.Conversation.Context.Topics
		convResources = in.Conversation.Context.ResourceIDs
	}

	if projectSummary == "" && convSummary == "" {
		return "", false
	}
	return prompts.ContextMemory(projectName, projectSummary, projectResources, convSummary, convTopics, convResources), true
}

// collectRecent converts the last N history messages into request messages.
func (b *Builder) collectRecent(ctx context.Context, in Input) ([]llm.Message, error) {
	recentCount := in.RecentCount
	if recentCount <= 0 {
		recentCount = defaultRecentCount
	}

	messages := in.Messages
	if len(messages) > recentCount {
		messages = messages[len(messages)-recentCount:]
	}

	handling := b.attachmentDefault
	if in.Conversation != nil && in.Conversation.AttachmentHandling != "" {
		handling = config.AttachmentHandling(in.Conversation.AttachmentHandling)
	}
	caps := llm.CapabilitiesFor(in.Model)

	var out []llm.Message
	for i, msg := range messages {
		if !msg.IsVisible {
			continue
		}
		isLatest := i == len(messages)-1

		var parts []llm.Part
		if msg.Content != "" {
			parts = append(parts, llm.Part{Type: llm.PartTypeText, Text: msg.Content})
		}

		var degraded []string
		for _, resourceID := range msg.Resources {
			part, ok, err := b.resourcePart(ctx, resourceID, isLatest, handling, caps)
			if err != nil {
				return nil, err
			}
			if ok {
				parts = append(parts, part)
			} else {
				degraded = append(degraded, resourceID)
			}
		}
		if len(degraded) > 0 {
			parts = append(parts, llm.Part{Type: llm.PartTypeText, Text: prompts.ResourceReference(degraded)})
		}

		if len(parts) == 0 {
			continue
		}
		out = append(out, llm.Message{Role: llm.Role(msg.Role), Parts: parts})
	}
	return out, nil
}

// resourcePart tries to inline a resource. ok=false means the resource is
// referenced by summary instead.
func (b *Builder) resourcePart(_ context.Context, resourceID string, isLatest bool, handling config.AttachmentHandling, caps llm.Capabilities) (llm.Part, bool, error) {
	if !isLatest || handling != config.AttachmentDirect {
		return llm.Part{}, false, nil
	}

	meta, err := b.resources.ReadResourceSummary(resourceID)
	if err != nil {
		return llm.Part{}, false, err
	}
	if meta == nil {
		return llm.Part{}, false, nil
	}

	switch meta.Kind {
	case resource.KindImage:
		if !caps.Vision {
			return llm.Part{}, false, nil
		}
	case resource.KindPDF:
		if !caps.PDFInput {
			return llm.Part{}, false, nil
		}
	case resource.KindMarkdown, resource.KindAttachment:
		if !caps.FileInput {
			return llm.Part{}, false, nil
		}
	default:
		// URLs, tags, and folders are never attachable.
		return llm.Part{}, false, nil
	}

	data, err := os.ReadFile(meta.Source)
	if err != nil {
		slog.Warn("Failed to read attachment, degrading to summary reference",
			"resource_id", resourceID,
			"source", meta.Source,
			"error", err)
		return llm.Part{}, false, nil
	}

	partType := llm.PartTypeFile
	if meta.Kind == resource.KindImage {
		partType = llm.PartTypeImage
	}
	return llm.Part{
		Type:      partType,
		Data:      data,
		MediaType: resource.MediaType(meta.Source),
		Filename:  meta.Source,
	}, true, nil
}

// EstimateTokens approximates token usage for a message sequence. Four
// characters per token is close enough for budget decisions.
func EstimateTokens(messages []llm.Message) int {
	chars := 0
	for _, m := range messages {
		for _, p := range m.Parts {
			chars += len(p.Text)
			// Binary attachments count via their base64 expansion.
			chars += len(p.Data) * 4 / 3
		}
	}
	return chars / 4
}

// truncateToWindow drops oldest recent messages until the estimate fits.
func truncateToWindow(out []llm.Message, fixedCount, window int) []llm.Message {
	if window <= 0 {
		return out
	}
	dropped := 0
	for EstimateTokens(out) > window && len(out) > fixedCount+1 {
		out = append(out[:fixedCount], out[fixedCount+1:]...)
		dropped++
	}
	if dropped > 0 {
		slog.Debug("Truncated recent messages to fit context window",
			"dropped", dropped,
			"window", window)
	}
	return out
}

// String renders a progress event for logs.
func (e ProgressEvent) String() string {
	return fmt.Sprintf("%s(%s)", e.Stage, e.Phase)
}
