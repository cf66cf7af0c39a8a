// Package updater runs the debounced background maintenance that keeps
// conversation and project summaries, auto-titles, and the user profile
// current as messages arrive. The archiver throttles; this package
// debounces: bursts of MessageSent events within the debounce window
// coalesce into a single run.
package updater

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/notabene-ai/notabene/pkg/bus"
	"github.com/notabene-ai/notabene/pkg/conversation"
	"github.com/notabene-ai/notabene/pkg/llm"
	"github.com/notabene-ai/notabene/pkg/profile"
	"github.com/notabene-ai/notabene/pkg/prompts"
	"github.com/notabene-ai/notabene/pkg/store"
)

const (
	// ConversationSummaryUpdateThreshold is the minimum number of new
	// messages before a conversation summary is rebuilt.
	ConversationSummaryUpdateThreshold = 5
	// ProjectSummaryUpdateThreshold is the minimum total message count
	// before a project summary is built.
	ProjectSummaryUpdateThreshold = 10
	// SummaryUpdateDebounceMs delays work until a quiet interval.
	SummaryUpdateDebounceMs = 3000
	// MinMessagesForTitleGeneration gates auto-titling.
	MinMessagesForTitleGeneration = 3

	// recentWindowSize is how many trailing messages the context window
	// keeps pointers to.
	recentWindowSize = 10
	// fullSummaryMinMessages gates the full-summary render.
	fullSummaryMinMessages = 5
)

// Updater reacts to MessageSent events with per-conversation and
// per-project debounce timers.
type Updater struct {
	store    *store.Store
	svc      *conversation.Service
	profiles *profile.Extractor
	provider llm.Provider
	model    string
	bus      *bus.Bus

	debounce time.Duration

	mu         sync.Mutex
	convTimers map[string]*time.Timer
	projTimers map[string]*time.Timer
}

// New creates an updater. provider/model drive the summary and title
// prompts; profiles may be nil when profile maintenance is disabled.
func New(s *store.Store, svc *conversation.Service, profiles *profile.Extractor, provider llm.Provider, model string, b *bus.Bus) *Updater {
	return &Updater{
		store:      s,
		svc:        svc,
		profiles:   profiles,
		provider:   provider,
		model:      model,
		bus:        b,
		debounce:   SummaryUpdateDebounceMs * time.Millisecond,
		convTimers: make(map[string]*time.Timer),
		projTimers: make(map[string]*time.Timer),
	}
}

// SetDebounce overrides the debounce interval. Tests shrink it.
func (u *Updater) SetDebounce(d time.Duration) { u.debounce = d }

// Start subscribes to the bus and processes events until ctx is done.
func (u *Updater) Start(ctx context.Context) {
	sub := u.bus.Subscribe(bus.TopicMessageSent)

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				u.stopTimers()
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if ms, ok := ev.(bus.MessageSent); ok {
					u.onMessageSent(ctx, ms)
				}
			}
		}
	}()
}

func (u *Updater) stopTimers() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, t := range u.convTimers {
		t.Stop()
	}
	for _, t := range u.projTimers {
		t.Stop()
	}
}

func (u *Updater) onMessageSent(ctx context.Context, ev bus.MessageSent) {
	projectID := ev.ProjectID
	if projectID == "" {
		// Some emitters do not thread the project id; resolve it from the
		// conversation so the project summarizer still fires.
		if conv, err := u.store.GetConversation(ctx, ev.ConversationID); err == nil && conv != nil {
			projectID = conv.ProjectID
		}
	}

	u.scheduleConversation(ctx, ev.ConversationID)
	if projectID != "" {
		u.scheduleProject(ctx, projectID)
	}

	// Profile extraction runs per completed turn, outside the debounce.
	if u.profiles != nil && u.profiles.Enabled() {
		go u.runProfileExtraction(ctx, ev.ConversationID)
	}
}

func (u *Updater) scheduleConversation(ctx context.Context, convID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if t, ok := u.convTimers[convID]; ok {
		t.Stop()
	}
	u.convTimers[convID] = time.AfterFunc(u.debounce, func() {
		u.mu.Lock()
		delete(u.convTimers, convID)
		u.mu.Unlock()
		u.conversationTick(ctx, convID)
	})
}

func (u *Updater) scheduleProject(ctx context.Context, projectID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if t, ok := u.projTimers[projectID]; ok {
		t.Stop()
	}
	u.projTimers[projectID] = time.AfterFunc(u.debounce, func() {
		u.mu.Lock()
		delete(u.projTimers, projectID)
		u.mu.Unlock()
		u.projectTick(ctx, projectID)
	})
}

// conversationTick rebuilds the context window when enough new messages
// accumulated, then considers auto-titling.
func (u *Updater) conversationTick(ctx context.Context, convID string) {
	conv, err := u.store.GetConversation(ctx, convID)
	if err != nil || conv == nil {
		if err != nil {
			slog.Warn("Context update skipped", "conversation_id", convID, "error", err)
		}
		return
	}

	count, err := u.store.CountMessages(ctx, convID)
	if err != nil {
		slog.Warn("Context update skipped", "conversation_id", convID, "error", err)
		return
	}

	shortSummary := ""
	if conv.Context != nil {
		shortSummary = conv.Context.ShortSummary
	}

	if count-conv.ContextLastMessageIndex >= ConversationSummaryUpdateThreshold {
		messages, err := u.store.LoadMessages(ctx, convID)
		if err != nil {
			slog.Warn("Context update failed loading messages", "conversation_id", convID, "error", err)
			return
		}

		window := u.BuildContextWindow(ctx, messages)
		err = u.store.UpdateConversationContext(ctx, convID, window, count, conv.UpdatedAt)
		if errors.Is(err, store.ErrContextStaleConflict) {
			// Someone wrote meanwhile; the next MessageSent reschedules us.
			slog.Warn("Context update conflicted, discarding summary", "conversation_id", convID)
			return
		}
		if err != nil {
			slog.Warn("Context update failed", "conversation_id", convID, "error", err)
			return
		}
		shortSummary = window.ShortSummary
	}

	u.maybeAutoTitle(ctx, conv, count, shortSummary)
}

// maybeAutoTitle regenerates the title once, when it was never manually
// edited nor auto-updated, the summary is meaningful, and enough messages
// exist.
func (u *Updater) maybeAutoTitle(ctx context.Context, conv *store.ChatConversation, count int, shortSummary string) {
	if conv.TitleManuallyEdited || conv.TitleAutoUpdated {
		return
	}
	if !meaningfulSummary(shortSummary) {
		return
	}
	if count < MinMessagesForTitleGeneration {
		return
	}

	messages, err := u.store.LoadMessages(ctx, conv.ID)
	if err != nil {
		slog.Warn("Auto-title failed loading messages", "conversation_id", conv.ID, "error", err)
		return
	}

	title, err := conversation.GenerateTitle(ctx, u.provider, u.model, messages, shortSummary)
	if err != nil || title == "" {
		if err != nil {
			slog.Warn("Auto-title generation failed", "conversation_id", conv.ID, "error", err)
		}
		return
	}
	if strings.EqualFold(title, conv.Title) {
		return
	}

	if err := u.svc.UpdateConversationTitle(ctx, conv.ID, title, false, true); err != nil {
		slog.Warn("Auto-title update failed", "conversation_id", conv.ID, "error", err)
		return
	}
	slog.Info("Conversation auto-titled", "conversation_id", conv.ID, "title", title)
}

func meaningfulSummary(s string) bool {
	return s != "" && s != prompts.DefaultSummary
}

// BuildContextWindow summarizes the conversation and records the recent
// window pointers. On LLM failure it returns the default-summary sentinel
// with the recent window unchanged.
func (u *Updater) BuildContextWindow(ctx context.Context, messages []store.ChatMessage) *store.ConversationContext {
	window := &store.ConversationContext{
		ShortSummary:  prompts.DefaultSummary,
		LastUpdatedTs: time.Now().UnixMilli(),
	}
	if len(messages) == 0 {
		return window
	}

	recent := messages
	if len(recent) > recentWindowSize {
		recent = recent[len(recent)-recentWindowSize:]
	}
	window.RecentWindowStartID = recent[0].ID
	window.RecentWindowEndID = recent[len(recent)-1].ID

	seen := make(map[string]bool)
	for _, m := range messages {
		for _, r := range m.Resources {
			if !seen[r] {
				seen[r] = true
				window.ResourceIDs = append(window.ResourceIDs, r)
			}
		}
	}

	transcript := renderTranscript(messages)

	short, err := llm.CompleteText(ctx, u.provider, u.model, []llm.Message{
		llm.TextMessage(llm.RoleUser, prompts.ConversationSummaryShort(transcript)),
	}, nil)
	if err != nil || strings.TrimSpace(short) == "" {
		slog.Warn("Short summary generation failed, keeping sentinel", "error", err)
		return window
	}
	window.ShortSummary = strings.TrimSpace(short)

	if len(messages) > fullSummaryMinMessages {
		full, err := llm.CompleteText(ctx, u.provider, u.model, []llm.Message{
			llm.TextMessage(llm.RoleUser, prompts.ConversationSummaryFull(transcript)),
		}, nil)
		if err != nil {
			slog.Warn("Full summary generation failed", "error", err)
			return window
		}
		window.FullSummary, window.Topics = splitTopics(full)
	}
	return window
}

// splitTopics separates "TOPIC: " lines from the summary body.
func splitTopics(out string) (summary string, topics []string) {
	var body []string
	for line := range strings.SplitSeq(out, "\n") {
		if after, ok := strings.CutPrefix(strings.TrimSpace(line), "TOPIC: "); ok {
			if after != "" {
				topics = append(topics, after)
			}
			continue
		}
		body = append(body, line)
	}
	return strings.TrimSpace(strings.Join(body, "\n")), topics
}

const transcriptMessageLimit = 2000

func renderTranscript(messages []store.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		if !m.IsVisible || m.Content == "" {
			continue
		}
		content := m.Content
		if len(content) > transcriptMessageLimit {
			content = content[:transcriptMessageLimit]
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String()
}

// projectTick aggregates conversation summaries into the project summary.
func (u *Updater) projectTick(ctx context.Context, projectID string) {
	project, err := u.store.GetProject(ctx, projectID)
	if err != nil || project == nil {
		if err != nil {
			slog.Warn("Project summary skipped", "project_id", projectID, "error", err)
		}
		return
	}

	conversations, err := u.store.ListConversations(ctx, projectID, 0, 0)
	if err != nil {
		slog.Warn("Project summary failed listing conversations", "project_id", projectID, "error", err)
		return
	}

	total := 0
	var summaries []string
	for _, conv := range conversations {
		n, err := u.store.CountMessages(ctx, conv.ID)
		if err == nil {
			total += n
		}
		if conv.Context == nil {
			continue
		}
		if meaningfulSummary(conv.Context.ShortSummary) {
			entry := conv.Title + ": " + conv.Context.ShortSummary
			if conv.Context.FullSummary != "" {
				entry += "\n" + conv.Context.FullSummary
			}
			summaries = append(summaries, entry)
		}
	}

	if total < ProjectSummaryUpdateThreshold || len(summaries) == 0 {
		slog.Debug("Project below summary threshold", "project_id", projectID, "messages", total)
		return
	}

	out, err := llm.CompleteText(ctx, u.provider, u.model, []llm.Message{
		llm.TextMessage(llm.RoleUser, prompts.ProjectSummary(project.Name, summaries)),
	}, nil)
	if err != nil || strings.TrimSpace(out) == "" {
		slog.Warn("Project summary generation failed", "project_id", projectID, "error", err)
		return
	}

	pc := &store.ProjectContext{
		ShortSummary:  strings.TrimSpace(out),
		LastUpdatedTs: time.Now().UnixMilli(),
	}
	if project.Context != nil {
		pc.ResourceIDs = project.Context.ResourceIDs
	}
	if err := u.store.UpdateProjectContext(ctx, projectID, pc); err != nil {
		slog.Warn("Project summary persist failed", "project_id", projectID, "error", err)
	}
}

// runProfileExtraction feeds the last completed exchange to the profile
// worker.
func (u *Updater) runProfileExtraction(ctx context.Context, convID string) {
	messages, err := u.store.LoadMessages(ctx, convID)
	if err != nil || len(messages) < 2 {
		return
	}

	var userMsg, assistantMsg string
	for i := len(messages) - 1; i >= 0; i-- {
		switch messages[i].Role {
		case store.RoleAssistant:
			if assistantMsg == "" {
				assistantMsg = messages[i].Content
			}
		case store.RoleUser:
			if assistantMsg != "" && userMsg == "" {
				userMsg = messages[i].Content
			}
		}
		if userMsg != "" && assistantMsg != "" {
			break
		}
	}
	if userMsg == "" || assistantMsg == "" {
		return
	}

	contextSummary := ""
	if conv, err := u.store.GetConversation(ctx, convID); err == nil && conv != nil && conv.Context != nil {
		contextSummary = conv.Context.ShortSummary
	}

	if err := u.profiles.Run(ctx, userMsg, assistantMsg, contextSummary); err != nil {
		slog.Warn("Profile extraction failed", "conversation_id", convID, "error", err)
	}
}
