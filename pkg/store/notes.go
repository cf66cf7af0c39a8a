package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"
)

// noteFrontmatter is the YAML header of a conversation note file.
type noteFrontmatter struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	Project   string `yaml:"project,omitempty"`
	CreatedAt int64  `yaml:"createdAt"`
	UpdatedAt int64  `yaml:"updatedAt"`
	Model     string `yaml:"model,omitempty"`
	Provider  string `yaml:"provider,omitempty"`
}

// messageHeaderPrefix starts each rendered message section. The id suffix
// ties the section back to its database row.
const messageHeaderPrefix = "###### "

// noteBody is a parsed message section.
type noteBody struct {
	Content   string
	Reasoning string
}

// writeConversationNote renders the conversation and its messages to the
// backing note file atomically.
func (s *Store) writeConversationNote(_ context.Context, conv *ChatConversation, messages []ChatMessage) error {
	front := noteFrontmatter{
		ID:        conv.ID,
		Title:     conv.Title,
		Project:   conv.ProjectID,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Model:     conv.ActiveModel,
		Provider:  conv.ActiveProvider,
	}
	frontRaw, err := yaml.Marshal(front)
	if err != nil {
		return fmt.Errorf("marshaling note frontmatter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(frontRaw)
	b.WriteString("---\n")

	for _, msg := range messages {
		fmt.Fprintf(&b, "\n%s%s | id:%s | at:%d\n\n", messageHeaderPrefix, msg.Role, msg.ID, msg.CreatedAt)
		if msg.Reasoning != "" {
			b.WriteString("```reasoning\n")
			b.WriteString(strings.TrimRight(msg.Reasoning, "\n"))
			b.WriteString("\n```\n\n")
		}
		b.WriteString(strings.TrimRight(msg.Content, "\n"))
		b.WriteString("\n")
	}

	path := filepath.Join(s.root, conv.FileRelPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating folder for note %s: %w", conv.FileRelPath, err)
	}
	if err := atomic.WriteFile(path, &b); err != nil {
		return fmt.Errorf("writing note %s: %w", conv.FileRelPath, err)
	}
	return nil
}

// readConversationBodies parses the note file into per-message bodies keyed
// by message id. A missing file yields an empty map.
func (s *Store) readConversationBodies(conv *ChatConversation) (map[string]noteBody, error) {
	path := filepath.Join(s.root, conv.FileRelPath)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]noteBody{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading note %s: %w", conv.FileRelPath, err)
	}
	return parseNoteBodies(string(data)), nil
}

// parseNoteBodies extracts message sections from rendered note content.
func parseNoteBodies(content string) map[string]noteBody {
	bodies := make(map[string]noteBody)

	// Skip frontmatter.
	rest := content
	if strings.HasPrefix(rest, "---\n") {
		if end := strings.Index(rest[4:], "\n---\n"); end >= 0 {
			rest = rest[4+end+5:]
		}
	}

	sections := strings.Split(rest, "\n"+messageHeaderPrefix)
	for i, section := range sections {
		if i == 0 {
			// Leading text before the first header is not a message.
			continue
		}
		newline := strings.IndexByte(section, '\n')
		if newline < 0 {
			continue
		}
		header := section[:newline]
		body := strings.TrimLeft(section[newline+1:], "\n")

		id := ""
		for _, field := range strings.Split(header, "|") {
			field = strings.TrimSpace(field)
			if after, ok := strings.CutPrefix(field, "id:"); ok {
				id = after
			}
		}
		if id == "" {
			continue
		}

		var parsed noteBody
		if after, ok := strings.CutPrefix(body, "```reasoning\n"); ok {
			if end := strings.Index(after, "\n```"); end >= 0 {
				parsed.Reasoning = after[:end]
				body = strings.TrimLeft(after[end+4:], "\n")
			}
		}
		parsed.Content = strings.TrimRight(body, "\n")
		bodies[id] = parsed
	}
	return bodies
}
