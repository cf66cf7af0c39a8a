// Package openai implements the llm.Provider boundary on top of the official
// OpenAI Go SDK.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/notabene-ai/notabene/pkg/llm"
)

// Client is an OpenAI-backed llm.Provider.
type Client struct {
	client openai.Client
}

var (
	_ llm.Provider          = (*Client)(nil)
	_ llm.RerankingProvider = (*Client)(nil)
)

// New creates a client. baseURL may be empty for the public API.
func New(apiKey, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{client: openai.NewClient(opts...)}
}

// ID implements llm.Provider.
func (c *Client) ID() string { return "openai" }

// StreamChat implements llm.Provider.
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	slog.Debug("Creating OpenAI chat completion stream",
		"model", req.Model,
		"message_count", len(req.Messages))

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: convertMessages(req.Messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	applyOutputControl(&params, req.OutputControl)

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	return &streamAdapter{stream: stream}, nil
}

// GenerateEmbedding implements llm.Provider.
func (c *Client) GenerateEmbedding(ctx context.Context, model, text string) ([]float32, error) {
	slog.Debug("Creating OpenAI embedding", "model", model, "text_length", len(text))

	response, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
		Model: model,
	})
	if err != nil {
		return nil, classifyError(err)
	}
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", llm.ErrProviderMalformedResponse)
	}

	raw := response.Data[0].Embedding
	embedding := make([]float32, len(raw))
	for i, v := range raw {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

const rerankSystemPrompt = "You are a search relevance scorer. Given a query and a numbered list of documents, score each document's relevance to the query from 0.0 to 1.0. Respond with ONLY a JSON object of the form {\"scores\": [..]} containing one score per document, in input order."

// Rerank implements llm.RerankingProvider using a one-shot JSON completion.
func (c *Client) Rerank(ctx context.Context, model, query string, documents []string, topK int) ([]llm.RerankScore, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nDocuments:\n", query)
	for i, doc := range documents {
		fmt.Fprintf(&b, "%d. %s\n", i+1, doc)
	}

	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(rerankSystemPrompt),
			openai.UserMessage(b.String()),
		},
		Temperature: openai.Float(0.0),
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty rerank completion", llm.ErrProviderMalformedResponse)
	}

	scores, err := parseRerankScores(completion.Choices[0].Message.Content, len(documents))
	if err != nil {
		return nil, err
	}

	results := make([]llm.RerankScore, 0, len(scores))
	for i, s := range scores {
		results = append(results, llm.RerankScore{Index: i, Score: s})
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// parseRerankScores extracts the scores array from the model output,
// tolerating markdown code fences around the JSON.
func parseRerankScores(raw string, expected int) ([]float64, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var payload struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: parsing rerank scores: %v", llm.ErrProviderMalformedResponse, err)
	}
	if len(payload.Scores) != expected {
		return nil, fmt.Errorf("%w: got %d rerank scores for %d documents", llm.ErrProviderMalformedResponse, len(payload.Scores), expected)
	}
	return payload.Scores, nil
}

func applyOutputControl(params *openai.ChatCompletionNewParams, oc *llm.OutputControl) {
	if oc == nil {
		return
	}
	if oc.Temperature != nil {
		params.Temperature = openai.Float(*oc.Temperature)
	}
	if oc.TopP != nil {
		params.TopP = openai.Float(*oc.TopP)
	}
	if oc.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(oc.MaxTokens))
	}
}

func convertMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			converted = append(converted, openai.SystemMessage(msg.Text()))
		case llm.RoleAssistant:
			converted = append(converted, openai.AssistantMessage(msg.Text()))
		case llm.RoleUser:
			converted = append(converted, openai.UserMessage(convertParts(msg.Parts)))
		}
	}
	return converted
}

func convertParts(parts []llm.Part) []openai.ChatCompletionContentPartUnionParam {
	converted := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case llm.PartTypeText:
			converted = append(converted, openai.TextContentPart(part.Text))
		case llm.PartTypeImage:
			dataURL := fmt.Sprintf("data:%s;base64,%s", part.MediaType, base64.StdEncoding.EncodeToString(part.Data))
			converted = append(converted, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL,
			}))
		case llm.PartTypeFile:
			dataURL := fmt.Sprintf("data:%s;base64,%s", part.MediaType, base64.StdEncoding.EncodeToString(part.Data))
			converted = append(converted, openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
				FileData: param.NewOpt(dataURL),
				Filename: param.NewOpt(part.Filename),
			}))
		}
	}
	return converted
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", llm.ErrProviderCancelled, err)
	}
	var apiErr *openai.Error
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

// streamAdapter converts the SSE stream into llm.StreamEvents.
type streamAdapter struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	usage  llm.Usage
}

func (a *streamAdapter) Recv() (llm.StreamEvent, error) {
	for a.stream.Next() {
		chunk := a.stream.Current()

		if chunk.Usage.TotalTokens > 0 {
			a.usage = llm.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if len(delta.ToolCalls) > 0 {
			tc := delta.ToolCalls[0]
			return llm.StreamEvent{
				Type:      llm.StreamEventToolCall,
				ToolName:  tc.Function.Name,
				ToolInput: tc.Function.Arguments,
			}, nil
		}
		if delta.Content != "" {
			return llm.StreamEvent{Type: llm.StreamEventTextDelta, Text: delta.Content}, nil
		}
	}

	if err := a.stream.Err(); err != nil {
		return llm.StreamEvent{}, classifyError(err)
	}
	return llm.StreamEvent{}, io.EOF
}

func (a *streamAdapter) Usage() llm.Usage { return a.usage }

func (a *streamAdapter) Close() { _ = a.stream.Close() }
