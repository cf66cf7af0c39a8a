package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound is returned when a referenced row does not exist and the
	// operation cannot proceed without it.
	ErrNotFound = errors.New("not found")

	// ErrContextStaleConflict reports that the conversation changed between
	// building a context window and persisting it.
	ErrContextStaleConflict = errors.New("conversation changed since context was built")
)

const conversationColumns = `id, title, project_id, created_at, updated_at, active_model, active_provider,
	token_usage_total, title_manually_edited, title_auto_updated, attachment_handling, output_control,
	context_last_updated_ts, context_last_message_index, file_rel_path, context, archived`

// CreateConversation persists a new conversation row and writes its empty
// note file.
func (s *Store) CreateConversation(ctx context.Context, conv ChatConversation) error {
	if conv.ID == "" {
		return errors.New("conversation requires an id")
	}
	if conv.FileRelPath == "" {
		return errors.New("conversation requires a file path")
	}

	outputControl, err := marshalNullable(conv.OutputControl)
	if err != nil {
		return err
	}
	contextJSON, err := marshalNullable(conv.Context)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_conversation (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, nullIfEmpty(conv.ProjectID), conv.CreatedAt, conv.UpdatedAt,
		conv.ActiveModel, conv.ActiveProvider, conv.TokenUsageTotal,
		conv.TitleManuallyEdited, conv.TitleAutoUpdated, conv.AttachmentHandling, outputControl,
		conv.ContextLastUpdatedTs, conv.ContextLastMessageIndex, conv.FileRelPath, contextJSON, conv.Archived)
	if err != nil {
		return fmt.Errorf("inserting conversation %s: %w", conv.ID, err)
	}

	return s.writeConversationNote(ctx, &conv, nil)
}

// GetConversation returns the conversation with the given id, or nil when
// absent.
func (s *Store) GetConversation(ctx context.Context, id string) (*ChatConversation, error) {
	return scanConversation(s.db.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM chat_conversation WHERE id = ?", id))
}

// ListConversations returns conversations ordered by updated_at descending,
// excluding archived ones. projectID filters to one project; empty lists
// root conversations (no project). limit <= 0 means no limit.
func (s *Store) ListConversations(ctx context.Context, projectID string, limit, offset int) ([]ChatConversation, error) {
	query := "SELECT " + conversationColumns + " FROM chat_conversation WHERE archived = 0"
	var args []any
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	} else {
		query += " AND project_id IS NULL"
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var conversations []ChatConversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *conv)
	}
	return conversations, rows.Err()
}

// UpsertConversationMeta applies a partial update and bumps updated_at.
// A missing conversation is a no-op.
func (s *Store) UpsertConversationMeta(ctx context.Context, convID string, patch *MetaPatch) error {
	if patch.err != nil {
		return patch.err
	}

	sets := append(append([]string{}, patch.sets...), "updated_at = ?")
	args := append(append([]any{}, patch.args...), s.now(), convID)

	query := "UPDATE chat_conversation SET " + joinClauses(sets) + " WHERE id = ?"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating conversation %s: %w", convID, err)
	}
	return nil
}

// UpdateConversationContext persists a freshly built context window using
// expectedUpdatedAt as an optimistic version token. When the stored
// updated_at no longer matches, ErrContextStaleConflict is returned and
// nothing is written.
func (s *Store) UpdateConversationContext(ctx context.Context, convID string, context *ConversationContext, messageIndex int, expectedUpdatedAt int64) error {
	raw, err := marshalNullable(context)
	if err != nil {
		return err
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_conversation
		SET context = ?, context_last_updated_ts = ?, context_last_message_index = ?, updated_at = ?
		WHERE id = ? AND updated_at = ?`,
		raw, now, messageIndex, now, convID, expectedUpdatedAt)
	if err != nil {
		return fmt.Errorf("updating context for conversation %s: %w", convID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrContextStaleConflict
	}
	return nil
}

// RenameConversationFile moves the backing note file and records the new
// path. The move and the column update happen before any caller-visible
// return, so readers never observe a dangling path.
func (s *Store) RenameConversationFile(ctx context.Context, convID, newRelPath string) error {
	conv, err := s.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %s: %w", convID, ErrNotFound)
	}

	oldPath := filepath.Join(s.root, conv.FileRelPath)
	newPath := filepath.Join(s.root, newRelPath)
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return fmt.Errorf("creating folder for %s: %w", newRelPath, err)
	}
	if err := os.Rename(oldPath, newPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("moving conversation file: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE chat_conversation SET file_rel_path = ?, updated_at = ? WHERE id = ?",
		newRelPath, s.now(), convID); err != nil {
		return fmt.Errorf("recording new file path for %s: %w", convID, err)
	}
	return nil
}

// DeleteConversation removes the message rows, message-resource links,
// starred projections, and the conversation row in one transaction, then
// deletes the backing note file.
func (s *Store) DeleteConversation(ctx context.Context, convID string) error {
	conv, err := s.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if conv == nil {
		return nil
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM message_resource WHERE message_id IN (SELECT id FROM chat_message WHERE conversation_id = ?)", convID); err != nil {
			return fmt.Errorf("deleting message resources: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM starred_message WHERE conversation_id = ?", convID); err != nil {
			return fmt.Errorf("deleting starred projections: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chat_message WHERE conversation_id = ?", convID); err != nil {
			return fmt.Errorf("deleting messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chat_conversation WHERE id = ?", convID); err != nil {
			return fmt.Errorf("deleting conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	notePath := filepath.Join(s.root, conv.FileRelPath)
	if err := os.Remove(notePath); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove conversation note file", "path", notePath, "error", err)
	}
	return nil
}

func scanConversation(row interface{ Scan(dest ...any) error }) (*ChatConversation, error) {
	var conv ChatConversation
	var projectID, outputControl, contextJSON sql.NullString
	err := row.Scan(&conv.ID, &conv.Title, &projectID, &conv.CreatedAt, &conv.UpdatedAt,
		&conv.ActiveModel, &conv.ActiveProvider, &conv.TokenUsageTotal,
		&conv.TitleManuallyEdited, &conv.TitleAutoUpdated, &conv.AttachmentHandling, &outputControl,
		&conv.ContextLastUpdatedTs, &conv.ContextLastMessageIndex, &conv.FileRelPath, &contextJSON, &conv.Archived)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	conv.ProjectID = projectID.String

	if outputControl.Valid && outputControl.String != "" {
		conv.OutputControl = &OutputControlOverride{}
		if err := json.Unmarshal([]byte(outputControl.String), conv.OutputControl); err != nil {
			return nil, fmt.Errorf("parsing output control for %s: %w", conv.ID, err)
		}
	}
	if contextJSON.Valid && contextJSON.String != "" {
		conv.Context = &ConversationContext{}
		if err := json.Unmarshal([]byte(contextJSON.String), conv.Context); err != nil {
			return nil, fmt.Errorf("parsing context for %s: %w", conv.ID, err)
		}
	}
	return &conv, nil
}

func marshalNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typed := v.(type) {
	case *OutputControlOverride:
		if typed == nil {
			return nil, nil
		}
	case *ConversationContext:
		if typed == nil {
			return nil, nil
		}
	case *ProjectContext:
		if typed == nil {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling: %w", err)
	}
	return string(raw), nil
}

func joinClauses(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
