package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// CreateProject persists a new project row.
func (s *Store) CreateProject(ctx context.Context, p ChatProject) error {
	if p.ID == "" {
		return errors.New("project requires an id")
	}
	contextJSON, err := marshalNullable(p.Context)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_project (id, name, folder_rel_path, created_at, updated_at, context)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.FolderRelPath, p.CreatedAt, p.UpdatedAt, contextJSON)
	if err != nil {
		return fmt.Errorf("inserting project %s: %w", p.ID, err)
	}
	return nil
}

// GetProject returns the project with the given id, or nil when absent.
func (s *Store) GetProject(ctx context.Context, id string) (*ChatProject, error) {
	return scanProject(s.db.QueryRowContext(ctx,
		"SELECT id, name, folder_rel_path, created_at, updated_at, context FROM chat_project WHERE id = ?", id))
}

// ListProjects returns all projects ordered by updated_at descending.
func (s *Store) ListProjects(ctx context.Context) ([]ChatProject, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, folder_rel_path, created_at, updated_at, context FROM chat_project ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []ChatProject
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// UpdateProjectContext persists the project's summary context and bumps
// updated_at.
func (s *Store) UpdateProjectContext(ctx context.Context, projectID string, pc *ProjectContext) error {
	raw, err := marshalNullable(pc)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE chat_project SET context = ?, updated_at = ? WHERE id = ?",
		raw, s.now(), projectID); err != nil {
		return fmt.Errorf("updating project context %s: %w", projectID, err)
	}
	return nil
}

// UpdateProjectFolder records a project's new folder path.
func (s *Store) UpdateProjectFolder(ctx context.Context, projectID, folderRelPath string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE chat_project SET folder_rel_path = ?, updated_at = ? WHERE id = ?",
		folderRelPath, s.now(), projectID); err != nil {
		return fmt.Errorf("updating project folder %s: %w", projectID, err)
	}
	return nil
}

// DeleteProject removes the project and cascades to its conversations.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM chat_conversation WHERE project_id = ?", projectID)
	if err != nil {
		return fmt.Errorf("listing conversations of project %s: %w", projectID, err)
	}
	defer rows.Close()
	var convIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scanning conversation id: %w", err)
		}
		convIDs = append(convIDs, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range convIDs {
		if err := s.DeleteConversation(ctx, id); err != nil {
			return err
		}
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chat_project WHERE id = ?", projectID); err != nil {
		return fmt.Errorf("deleting project %s: %w", projectID, err)
	}
	return nil
}

func scanProject(row interface{ Scan(dest ...any) error }) (*ChatProject, error) {
	var p ChatProject
	var contextJSON sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.FolderRelPath, &p.CreatedAt, &p.UpdatedAt, &contextJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning project: %w", err)
	}
	if contextJSON.Valid && contextJSON.String != "" {
		p.Context = &ProjectContext{}
		if err := json.Unmarshal([]byte(contextJSON.String), p.Context); err != nil {
			return nil, fmt.Errorf("parsing context for project %s: %w", p.ID, err)
		}
	}
	return &p, nil
}
