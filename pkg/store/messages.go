package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveNewMessage appends the message to the message table and rewrites the
// conversation's note file. The note file is the canonical rendered form;
// the database is the index.
func (s *Store) SaveNewMessage(ctx context.Context, convID string, msg ChatMessage) error {
	conv, err := s.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %s: %w", convID, ErrNotFound)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_message (id, conversation_id, role, content_hash, created_at, timezone,
				model, provider, starred, is_error, is_visible, gen_time_ms, token_usage)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, convID, msg.Role, msg.ContentHash, msg.CreatedAt, msg.Timezone,
			nullIfEmpty(msg.Model), nullIfEmpty(msg.Provider), msg.Starred, msg.IsError, msg.IsVisible,
			msg.GenTimeMs, msg.TokenUsage)
		if err != nil {
			return fmt.Errorf("inserting message %s: %w", msg.ID, err)
		}

		for _, resourceID := range msg.Resources {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO message_resource (message_id, resource_id) VALUES (?, ?)",
				msg.ID, resourceID); err != nil {
				return fmt.Errorf("linking resource %s: %w", resourceID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	existing, err := s.LoadMessages(ctx, convID)
	if err != nil {
		return err
	}
	// The freshly inserted row has no body in the old file yet; carry it
	// over from the caller's message before rendering.
	for i := range existing {
		if existing[i].ID == msg.ID {
			existing[i].Content = msg.Content
			existing[i].Reasoning = msg.Reasoning
		}
	}
	return s.writeConversationNote(ctx, conv, existing)
}

// LoadMessages returns the conversation's messages in chronological order,
// with bodies re-hydrated from the note file.
func (s *Store) LoadMessages(ctx context.Context, convID string) ([]ChatMessage, error) {
	conv, err := s.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content_hash, created_at, timezone,
			model, provider, starred, is_error, is_visible, gen_time_ms, token_usage
		FROM chat_message WHERE conversation_id = ? ORDER BY created_at, id`, convID)
	if err != nil {
		return nil, fmt.Errorf("listing messages for %s: %w", convID, err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var model, provider sql.NullString
		var genTime, tokenUsage sql.NullInt64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.ContentHash, &m.CreatedAt, &m.Timezone,
			&model, &provider, &m.Starred, &m.IsError, &m.IsVisible, &genTime, &tokenUsage); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Model = model.String
		m.Provider = provider.String
		m.GenTimeMs = genTime.Int64
		m.TokenUsage = tokenUsage.Int64
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Attach resource links.
	for i := range messages {
		resources, err := s.messageResources(ctx, messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].Resources = resources
	}

	// Re-hydrate bodies from the note file.
	bodies, err := s.readConversationBodies(conv)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if body, ok := bodies[messages[i].ID]; ok {
			messages[i].Content = body.Content
			messages[i].Reasoning = body.Reasoning
		}
	}
	return messages, nil
}

// CountMessages returns the conversation's message count.
func (s *Store) CountMessages(ctx context.Context, convID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chat_message WHERE conversation_id = ?", convID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages for %s: %w", convID, err)
	}
	return n, nil
}

// GetMessage returns one message row with its body, or nil when absent.
func (s *Store) GetMessage(ctx context.Context, convID, msgID string) (*ChatMessage, error) {
	messages, err := s.LoadMessages(ctx, convID)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if messages[i].ID == msgID {
			return &messages[i], nil
		}
	}
	return nil, nil
}

// UpdateMessageStarred sets the starred flag and keeps the starred_message
// projection consistent: preview columns are populated iff starred.
func (s *Store) UpdateMessageStarred(ctx context.Context, msgID string, starred bool, preview, attachmentSummary string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var convID string
		err := tx.QueryRowContext(ctx, "SELECT conversation_id FROM chat_message WHERE id = ?", msgID).Scan(&convID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("resolving message %s: %w", msgID, err)
		}

		if _, err := tx.ExecContext(ctx, "UPDATE chat_message SET starred = ? WHERE id = ?", starred, msgID); err != nil {
			return fmt.Errorf("updating starred flag: %w", err)
		}

		if !starred {
			if _, err := tx.ExecContext(ctx, "DELETE FROM starred_message WHERE source_message_id = ?", msgID); err != nil {
				return fmt.Errorf("removing starred projection: %w", err)
			}
			return nil
		}

		var projectID sql.NullString
		if err := tx.QueryRowContext(ctx,
			"SELECT project_id FROM chat_conversation WHERE id = ?", convID).Scan(&projectID); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("resolving project for %s: %w", convID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO starred_message (source_message_id, conversation_id, project_id, active, content_preview, attachment_summary)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT(source_message_id) DO UPDATE SET
				active = 1,
				content_preview = excluded.content_preview,
				attachment_summary = excluded.attachment_summary`,
			msgID, convID, projectID, preview, nullIfEmpty(attachmentSummary)); err != nil {
			return fmt.Errorf("writing starred projection: %w", err)
		}
		return nil
	})
}

// ListStarredMessages returns the starred projection, optionally filtered by
// project.
func (s *Store) ListStarredMessages(ctx context.Context, projectID string) ([]StarredMessage, error) {
	query := "SELECT source_message_id, conversation_id, project_id, active, content_preview, attachment_summary FROM starred_message WHERE active = 1"
	var args []any
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing starred messages: %w", err)
	}
	defer rows.Close()

	var starred []StarredMessage
	for rows.Next() {
		var sm StarredMessage
		var project, preview, attachments sql.NullString
		if err := rows.Scan(&sm.SourceMessageID, &sm.ConversationID, &project, &sm.Active, &preview, &attachments); err != nil {
			return nil, fmt.Errorf("scanning starred message: %w", err)
		}
		sm.ProjectID = project.String
		sm.ContentPreview = preview.String
		sm.AttachmentSummary = attachments.String
		starred = append(starred, sm)
	}
	return starred, rows.Err()
}

func (s *Store) messageResources(ctx context.Context, msgID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT resource_id FROM message_resource WHERE message_id = ?", msgID)
	if err != nil {
		return nil, fmt.Errorf("listing resources for message %s: %w", msgID, err)
	}
	defer rows.Close()

	var resources []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

// CountMessagesForConversations returns per-conversation counts for the ids.
func (s *Store) CountMessagesForConversations(ctx context.Context, convIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(convIDs))
	for _, id := range convIDs {
		n, err := s.CountMessages(ctx, id)
		if err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, nil
}
