// Package conversation implements the conversation lifecycle: creation,
// chat streaming, message persistence, starring, titling, and deletion.
// Concurrent sends to the same conversation are serialized here.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/notabene-ai/notabene/pkg/assembler"
	"github.com/notabene-ai/notabene/pkg/bus"
	"github.com/notabene-ai/notabene/pkg/config"
	"github.com/notabene-ai/notabene/pkg/dispatch"
	"github.com/notabene-ai/notabene/pkg/identity"
	"github.com/notabene-ai/notabene/pkg/llm"
	"github.com/notabene-ai/notabene/pkg/resource"
	"github.com/notabene-ai/notabene/pkg/store"
)

// previewLength bounds the starred-message content preview.
const previewLength = 200

// Service wires the store, assembler, dispatcher, resources, and event bus
// into the user-facing conversation operations.
type Service struct {
	store      *store.Store
	bus        *bus.Bus
	builder    *assembler.Builder
	dispatcher *dispatch.Dispatcher
	resources  *resource.Manager
	registry   *llm.Registry
	cfg        *config.Config

	now func() int64

	// sendMu serializes sends per conversation.
	mu     sync.Mutex
	sendMu map[string]*sync.Mutex
}

// New creates the service.
func New(s *store.Store, b *bus.Bus, builder *assembler.Builder, dispatcher *dispatch.Dispatcher, resources *resource.Manager, registry *llm.Registry, cfg *config.Config) *Service {
	return &Service{
		store:      s,
		bus:        b,
		builder:    builder,
		dispatcher: dispatcher,
		resources:  resources,
		registry:   registry,
		cfg:        cfg,
		now:        func() int64 { return time.Now().UnixMilli() },
		sendMu:     make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the service clock for tests.
func (s *Service) SetClock(now func() int64) { s.now = now }

func (s *Service) conversationLock(convID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mu, ok := s.sendMu[convID]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	s.sendMu[convID] = mu
	return mu
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// fileNameFor renders a conversation note file name: title slug, creation
// timestamp, and id.
func fileNameFor(title string, createdAt int64, id string) string {
	slug := unsafeFileChars.ReplaceAllString(strings.TrimSpace(title), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "chat"
	}
	if len(slug) > 60 {
		slug = slug[:60]
	}
	return fmt.Sprintf("%s-%d-%s.md", slug, createdAt, id)
}

// CreateConversation generates the id, persists metadata and the note file,
// and publishes ConversationCreated.
func (s *Service) CreateConversation(ctx context.Context, title string, project *store.ChatProject, model, provider string) (*store.ChatConversation, error) {
	if title == "" {
		title = "New chat"
	}
	if model == "" {
		model = s.cfg.DefaultModel.ModelID
		provider = s.cfg.DefaultModel.Provider
	}

	now := s.now()
	conv := store.ChatConversation{
		ID:             identity.NewID(),
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
		ActiveModel:    model,
		ActiveProvider: provider,
	}

	rel := fileNameFor(title, now, conv.ID)
	if project != nil {
		conv.ProjectID = project.ID
		rel = project.FolderRelPath + "/" + rel
	}
	conv.FileRelPath = rel

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	s.bus.Publish(bus.ConversationCreated{ConversationID: conv.ID, ProjectID: conv.ProjectID})
	slog.Info("Conversation created", "conversation_id", conv.ID, "project_id", conv.ProjectID)
	return &conv, nil
}

// StreamChat runs one user turn: persists the user message (materializing
// resource references), assembles the prompt, and streams the completion.
// The returned channel closes after the final Done or Error event; the
// assistant message is persisted before the Done event is forwarded.
func (s *Service) StreamChat(ctx context.Context, convID, userContent string, attachments []string) (<-chan dispatch.Event, error) {
	lock := s.conversationLock(convID)
	lock.Lock()

	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if conv == nil {
		lock.Unlock()
		return nil, fmt.Errorf("conversation %s: %w", convID, store.ErrNotFound)
	}

	var project *store.ChatProject
	if conv.ProjectID != "" {
		if project, err = s.store.GetProject(ctx, conv.ProjectID); err != nil {
			lock.Unlock()
			return nil, err
		}
	}

	model, provider := s.resolveModel(conv)
	handling := config.AttachmentHandling(conv.AttachmentHandling)
	if handling == "" {
		handling = s.cfg.AttachmentHandlingDefault
	}
	caps := llm.CapabilitiesFor(model)

	// Materialize resource references; prepare summaries whenever the
	// direct path cannot carry the attachment.
	resourceIDs := make([]string, 0, len(attachments))
	for _, source := range attachments {
		resourceIDs = append(resourceIDs, identity.ResourceID(source))
		if !directUsable(handling, caps, resource.KindOf(source)) {
			if _, err := s.resources.EnsureResourceSummary(ctx, source, resource.Ref{
				ConversationID: convID,
				ProjectID:      conv.ProjectID,
			}); err != nil {
				slog.Warn("Failed to prepare resource summary", "source", source, "error", err)
			}
		}
	}

	userMsg := store.ChatMessage{
		ID:             identity.NewID(),
		ConversationID: convID,
		Role:           store.RoleUser,
		Content:        userContent,
		ContentHash:    identity.ContentHash(userContent),
		CreatedAt:      s.now(),
		Timezone:       time.Now().Format("-0700"),
		IsVisible:      true,
		Resources:      resourceIDs,
	}
	if err := s.store.SaveNewMessage(ctx, convID, userMsg); err != nil {
		lock.Unlock()
		return nil, err
	}

	history, err := s.store.LoadMessages(ctx, convID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	var oc *llm.OutputControl
	if conv.OutputControl != nil {
		oc = &llm.OutputControl{
			Temperature: conv.OutputControl.Temperature,
			TopP:        conv.OutputControl.TopP,
			MaxTokens:   conv.OutputControl.MaxTokens,
		}
	}

	inner := s.dispatcher.Stream(ctx, provider, model, oc, func(emit func(assembler.ProgressEvent)) ([]llm.Message, error) {
		return s.builder.Build(ctx, assembler.Input{
			Conversation: conv,
			Project:      project,
			Messages:     history,
			Model:        model,
		}, emit)
	})

	out := make(chan dispatch.Event)
	go func() {
		defer close(out)
		defer lock.Unlock()

		for ev := range inner {
			if ev.Type == dispatch.EventDone && ev.Result != nil && !ev.Result.Cancelled {
				if err := s.AddMessage(context.WithoutCancel(ctx), convID, ev.Result, model, provider); err != nil {
					slog.Error("Failed to persist assistant message", "conversation_id", convID, "error", err)
					out <- dispatch.Event{Type: dispatch.EventError, Err: err}
					return
				}
			}
			out <- ev
		}
	}()
	return out, nil
}

// directUsable reports whether a resource kind can ride along inline.
func directUsable(handling config.AttachmentHandling, caps llm.Capabilities, kind resource.Kind) bool {
	if handling != config.AttachmentDirect {
		return false
	}
	switch kind {
	case resource.KindImage:
		return caps.Vision
	case resource.KindPDF:
		return caps.PDFInput
	case resource.KindMarkdown, resource.KindAttachment:
		return caps.FileInput
	default:
		return false
	}
}

func (s *Service) resolveModel(conv *store.ChatConversation) (model, provider string) {
	if conv.ActiveModel != "" && conv.ActiveProvider != "" {
		return conv.ActiveModel, conv.ActiveProvider
	}
	return s.cfg.DefaultModel.ModelID, s.cfg.DefaultModel.Provider
}

// AddMessage persists a completed assistant turn, updates the conversation
// meta in one upsert, and publishes MessageSent.
func (s *Service) AddMessage(ctx context.Context, convID string, result *dispatch.Result, model, provider string) error {
	msg := store.ChatMessage{
		ID:             identity.NewID(),
		ConversationID: convID,
		Role:           store.RoleAssistant,
		Content:        result.Content,
		ContentHash:    identity.ContentHash(result.Content),
		CreatedAt:      s.now(),
		Timezone:       time.Now().Format("-0700"),
		Model:          model,
		Provider:       provider,
		IsVisible:      true,
		GenTimeMs:      result.GenTimeMs,
		TokenUsage:     result.Usage.Total(),
		Reasoning:      result.Reasoning,
	}
	if err := s.store.SaveNewMessage(ctx, convID, msg); err != nil {
		return err
	}

	patch := store.NewMetaPatch().
		ModelProvider(model, provider).
		AddTokenUsage(result.Usage.Total())
	if err := s.store.UpsertConversationMeta(ctx, convID, patch); err != nil {
		return err
	}

	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	projectID := ""
	if conv != nil {
		projectID = conv.ProjectID
	}
	s.bus.Publish(bus.MessageSent{ConversationID: convID, ProjectID: projectID})
	return nil
}

// UpdateConversationTitle renames the backing file and updates the meta,
// publishing ConversationUpdated.
func (s *Service) UpdateConversationTitle(ctx context.Context, convID, title string, manuallyEdited, autoUpdated bool) error {
	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %s: %w", convID, store.ErrNotFound)
	}

	rel := fileNameFor(title, conv.CreatedAt, conv.ID)
	if conv.ProjectID != "" {
		if project, err := s.store.GetProject(ctx, conv.ProjectID); err == nil && project != nil {
			rel = project.FolderRelPath + "/" + rel
		}
	}
	if err := s.store.RenameConversationFile(ctx, convID, rel); err != nil {
		return err
	}

	if err := s.store.UpsertConversationMeta(ctx, convID,
		store.NewMetaPatch().Title(title, manuallyEdited, autoUpdated)); err != nil {
		return err
	}

	s.bus.Publish(bus.ConversationUpdated{ConversationID: convID})
	return nil
}

// ToggleStar stars or unstars a message, keeping the projection's preview
// columns consistent with the flag.
func (s *Service) ToggleStar(ctx context.Context, convID, msgID string, starred bool) error {
	if !starred {
		return s.store.UpdateMessageStarred(ctx, msgID, false, "", "")
	}

	msg, err := s.store.GetMessage(ctx, convID, msgID)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}

	preview := contentPreview(msg.Content)
	var labels []string
	for _, id := range msg.Resources {
		label := id
		if meta, err := s.resources.ReadResourceSummary(id); err == nil && meta != nil {
			label = meta.Source
		}
		labels = append(labels, label)
	}
	return s.store.UpdateMessageStarred(ctx, msgID, true, preview, strings.Join(labels, ", "))
}

// contentPreview normalizes whitespace and truncates to the preview length.
func contentPreview(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	if len(normalized) > previewLength {
		normalized = normalized[:previewLength]
	}
	return normalized
}

// DeleteConversation removes everything through the store's transactional
// path and publishes ConversationDeleted exactly once.
func (s *Service) DeleteConversation(ctx context.Context, convID string) error {
	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if conv == nil {
		return nil
	}

	if err := s.store.DeleteConversation(ctx, convID); err != nil {
		return err
	}

	s.bus.Publish(bus.ConversationDeleted{ConversationID: convID, ProjectID: conv.ProjectID})
	slog.Info("Conversation deleted", "conversation_id", convID)
	return nil
}
