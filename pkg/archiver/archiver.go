// Package archiver moves stale conversations and projects into year/month
// archive buckets. Runs are throttled to at most one per interval, enforced
// both in memory and through a persisted index-state entry so restarts do
// not reset the clock.
package archiver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/notabene-ai/notabene/pkg/store"
)

const (
	// ThrottleInterval bounds how often a run may execute.
	ThrottleInterval = 10 * time.Minute

	// ConversationMaxAge ages out root conversations.
	ConversationMaxAge = 90 * 24 * time.Hour
	// MaxRootConversations forces the oldest surplus eligible.
	MaxRootConversations = 50

	// ProjectMaxAge ages out projects.
	ProjectMaxAge = 180 * 24 * time.Hour
	// MaxProjects forces the oldest surplus eligible.
	MaxProjects = 20

	// lastRunKey is the persisted throttle timestamp.
	lastRunKey = "archiver.last_run_ms"

	// archiveFolder is the bucket root under the vault root.
	archiveFolder = "Archive"
)

// Archiver runs the throttled archive pass.
type Archiver struct {
	store *store.Store

	mu        sync.Mutex
	lastRunMs int64

	now func() int64
}

// New creates an archiver over the store.
func New(s *store.Store) *Archiver {
	return &Archiver{
		store: s,
		now:   func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the archiver clock for tests.
func (a *Archiver) SetClock(now func() int64) { a.now = now }

// Run executes one archive pass unless throttled. It returns the number of
// items moved. Per-item failures are logged and skipped; the pass continues.
func (a *Archiver) Run(ctx context.Context) (moved int, err error) {
	now := a.now()

	a.mu.Lock()
	if a.lastRunMs != 0 && now-a.lastRunMs < ThrottleInterval.Milliseconds() {
		a.mu.Unlock()
		slog.Debug("Archiver throttled (memory)", "since_ms", now-a.lastRunMs)
		return 0, nil
	}
	a.mu.Unlock()

	if persisted, err := a.store.GetIndexState(ctx, lastRunKey); err == nil && persisted != "" {
		if lastMs, perr := strconv.ParseInt(persisted, 10, 64); perr == nil && now-lastMs < ThrottleInterval.Milliseconds() {
			slog.Debug("Archiver throttled (persisted)", "since_ms", now-lastMs)
			return 0, nil
		}
	}

	a.mu.Lock()
	a.lastRunMs = now
	a.mu.Unlock()
	if err := a.store.SetIndexState(ctx, lastRunKey, strconv.FormatInt(now, 10)); err != nil {
		return 0, fmt.Errorf("recording archiver run: %w", err)
	}

	movedConvs := a.archiveRootConversations(ctx, now)
	movedProjects := a.archiveProjects(ctx, now)
	moved = movedConvs + movedProjects

	if moved > 0 {
		slog.Info("Archive pass complete", "conversations", movedConvs, "projects", movedProjects)
	}
	return moved, nil
}

// bucket renders the Archive/YYYY/MM prefix for a timestamp.
func bucket(nowMs int64) string {
	t := time.UnixMilli(nowMs).UTC()
	return filepath.Join(archiveFolder, fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", int(t.Month())))
}

func (a *Archiver) archiveRootConversations(ctx context.Context, now int64) int {
	conversations, err := a.store.ListConversations(ctx, "", 0, 0)
	if err != nil {
		slog.Warn("Archiver failed listing conversations", "error", err)
		return 0
	}

	cutoff := now - ConversationMaxAge.Milliseconds()
	eligible := make(map[string]bool)
	for _, conv := range conversations {
		if conv.UpdatedAt < cutoff {
			eligible[conv.ID] = true
		}
	}

	// Oldest surplus beyond the cap is forced eligible. ListConversations
	// orders newest first.
	if len(conversations) > MaxRootConversations {
		for _, conv := range conversations[MaxRootConversations:] {
			eligible[conv.ID] = true
		}
	}

	moved := 0
	for _, conv := range conversations {
		if !eligible[conv.ID] {
			continue
		}
		newRel := filepath.Join(bucket(now), filepath.Base(conv.FileRelPath))
		if err := a.store.RenameConversationFile(ctx, conv.ID, newRel); err != nil {
			slog.Warn("Failed to archive conversation", "conversation_id", conv.ID, "error", err)
			continue
		}
		if err := a.store.UpsertConversationMeta(ctx, conv.ID, store.NewMetaPatch().Archived(true)); err != nil {
			slog.Warn("Failed to flag archived conversation", "conversation_id", conv.ID, "error", err)
			continue
		}
		moved++
	}
	return moved
}

func (a *Archiver) archiveProjects(ctx context.Context, now int64) int {
	projects, err := a.store.ListProjects(ctx)
	if err != nil {
		slog.Warn("Archiver failed listing projects", "error", err)
		return 0
	}

	cutoff := now - ProjectMaxAge.Milliseconds()
	eligible := make(map[string]bool)
	for _, p := range projects {
		if p.UpdatedAt < cutoff {
			eligible[p.ID] = true
		}
	}
	if len(projects) > MaxProjects {
		for _, p := range projects[MaxProjects:] {
			eligible[p.ID] = true
		}
	}

	moved := 0
	for _, p := range projects {
		if !eligible[p.ID] {
			continue
		}
		if err := a.archiveProject(ctx, p, now); err != nil {
			slog.Warn("Failed to archive project", "project_id", p.ID, "error", err)
			continue
		}
		moved++
	}
	return moved
}

// archiveProject moves the project folder into the bucket and updates every
// contained conversation's path.
func (a *Archiver) archiveProject(ctx context.Context, p store.ChatProject, now int64) error {
	newFolder := filepath.Join(bucket(now), filepath.Base(p.FolderRelPath))

	oldAbs := filepath.Join(a.store.Root(), p.FolderRelPath)
	newAbs := filepath.Join(a.store.Root(), newFolder)
	if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
		return fmt.Errorf("creating archive bucket: %w", err)
	}
	if err := os.Rename(oldAbs, newAbs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("moving project folder: %w", err)
	}

	if err := a.store.UpdateProjectFolder(ctx, p.ID, newFolder); err != nil {
		return err
	}

	// Cascade the path change to the project's conversations. Their files
	// moved with the folder, so only the columns need updating.
	conversations, err := a.store.ListConversations(ctx, p.ID, 0, 0)
	if err != nil {
		return err
	}
	for _, conv := range conversations {
		newRel := filepath.Join(newFolder, filepath.Base(conv.FileRelPath))
		patch := store.NewMetaPatch().FilePath(newRel).Archived(true)
		if err := a.store.UpsertConversationMeta(ctx, conv.ID, patch); err != nil {
			slog.Warn("Failed to update archived conversation path",
				"conversation_id", conv.ID, "error", err)
		}
	}
	return nil
}
