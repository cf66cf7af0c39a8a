// Package anthropic implements the llm.Provider boundary on top of the
// official Anthropic Go SDK. Anthropic has no embedding endpoint, so
// GenerateEmbedding always fails; hosts pair this provider with one that
// embeds.
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/notabene-ai/notabene/pkg/llm"
)

// defaultMaxTokens bounds responses when the caller sets no output control.
const defaultMaxTokens = 8192

// Client is an Anthropic-backed llm.Provider.
type Client struct {
	client anthropic.Client
}

var _ llm.Provider = (*Client)(nil)

// New creates a client. baseURL may be empty for the public API.
func New(apiKey, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{client: anthropic.NewClient(opts...)}
}

// ID implements llm.Provider.
func (c *Client) ID() string { return "anthropic" }

// StreamChat implements llm.Provider.
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	slog.Debug("Creating Anthropic message stream",
		"model", req.Model,
		"message_count", len(req.Messages))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: defaultMaxTokens,
	}

	// System messages become system blocks; the rest become turns.
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Text()})
		case llm.RoleUser:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(convertParts(msg.Parts)...))
		case llm.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text())))
		}
	}

	if oc := req.OutputControl; oc != nil {
		if oc.Temperature != nil {
			params.Temperature = anthropic.Float(*oc.Temperature)
		}
		if oc.TopP != nil {
			params.TopP = anthropic.Float(*oc.TopP)
		}
		if oc.MaxTokens > 0 {
			params.MaxTokens = int64(oc.MaxTokens)
		}
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	return &streamAdapter{stream: stream}, nil
}

// GenerateEmbedding implements llm.Provider. Anthropic does not offer one.
func (c *Client) GenerateEmbedding(context.Context, string, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: anthropic has no embedding endpoint", llm.ErrProviderUnavailable)
}

func convertParts(parts []llm.Part) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case llm.PartTypeText:
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		case llm.PartTypeImage:
			blocks = append(blocks, anthropic.NewImageBlock(anthropic.Base64ImageSourceParam{
				Data:      base64.StdEncoding.EncodeToString(part.Data),
				MediaType: anthropic.Base64ImageSourceMediaType(part.MediaType),
			}))
		case llm.PartTypeFile:
			if part.MediaType == "application/pdf" {
				blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{
					Data: base64.StdEncoding.EncodeToString(part.Data),
				}))
				continue
			}
			// Arbitrary files degrade to inline text.
			blocks = append(blocks, anthropic.NewTextBlock(fmt.Sprintf("[attached file %s]\n%s", part.Filename, string(part.Data))))
		}
	}
	return blocks
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", llm.ErrProviderCancelled, err)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", llm.ErrProviderRateLimited, err)
		case apiErr.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %v", llm.ErrProviderUnavailable, err)
		}
	}
	return err
}

// streamAdapter converts Anthropic stream events into llm.StreamEvents.
type streamAdapter struct {
	stream       *ssestream.Stream[anthropic.MessageStreamEventUnion]
	usage        llm.Usage
	currentTool  string
	currentInput string
}

func (a *streamAdapter) Recv() (llm.StreamEvent, error) {
	for a.stream.Next() {
		event := a.stream.Current()

		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			a.usage.InputTokens = ev.Message.Usage.InputTokens

		case anthropic.MessageDeltaEvent:
			a.usage.OutputTokens = ev.Usage.OutputTokens

		case anthropic.ContentBlockStartEvent:
			if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				a.currentTool = block.Name
				a.currentInput = ""
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				return llm.StreamEvent{Type: llm.StreamEventTextDelta, Text: delta.Text}, nil
			case anthropic.ThinkingDelta:
				return llm.StreamEvent{Type: llm.StreamEventReasoningDelta, Text: delta.Thinking}, nil
			case anthropic.InputJSONDelta:
				a.currentInput += delta.PartialJSON
			}

		case anthropic.ContentBlockStopEvent:
			if a.currentTool != "" {
				out := llm.StreamEvent{
					Type:      llm.StreamEventToolCall,
					ToolName:  a.currentTool,
					ToolInput: a.currentInput,
				}
				a.currentTool = ""
				a.currentInput = ""
				return out, nil
			}
		}
	}

	if err := a.stream.Err(); err != nil {
		return llm.StreamEvent{}, classifyError(err)
	}
	return llm.StreamEvent{}, io.EOF
}

func (a *streamAdapter) Usage() llm.Usage { return a.usage }

func (a *streamAdapter) Close() { _ = a.stream.Close() }
