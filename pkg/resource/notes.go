package resource

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"
)

// notePrefix names resource files: Resource-<8-hex>.md.
const notePrefix = "Resource-"

// noteMeta is the fenced meta block inside a resource note.
type noteMeta struct {
	ID            string `yaml:"id"`
	Kind          string `yaml:"kind"`
	Source        string `yaml:"source"`
	Title         string `yaml:"title,omitempty"`
	LastUpdatedTs int64  `yaml:"last_updated_ts"`
}

func (m *Manager) notePath(id string) string {
	return filepath.Join(m.folder, notePrefix+id+".md")
}

// SaveResourceSummary writes or updates the note for meta.
func (m *Manager) SaveResourceSummary(meta Meta) error {
	if meta.ID == "" {
		return fmt.Errorf("resource meta requires an id")
	}
	if err := os.MkdirAll(m.folder, 0o755); err != nil {
		return fmt.Errorf("creating resources folder: %w", err)
	}

	metaRaw, err := yaml.Marshal(noteMeta{
		ID:            meta.ID,
		Kind:          string(meta.Kind),
		Source:        meta.Source,
		Title:         meta.Title,
		LastUpdatedTs: meta.LastUpdatedTs,
	})
	if err != nil {
		return fmt.Errorf("marshaling resource meta: %w", err)
	}

	var b bytes.Buffer
	b.WriteString(referenceLink(meta))
	b.WriteString("\n\n```meta\n")
	b.Write(metaRaw)
	b.WriteString("```\n")

	if meta.ShortSummary != "" {
		b.WriteString("\n## Summary\n\n")
		b.WriteString(strings.TrimSpace(meta.ShortSummary))
		b.WriteString("\n")
	}
	if meta.FullSummary != "" {
		b.WriteString("\n## Full Summary\n\n")
		b.WriteString(strings.TrimSpace(meta.FullSummary))
		b.WriteString("\n")
	}

	b.WriteString("\n## Referenced In\n")
	writeMentions(&b, "Conversations", meta.Conversations)
	writeMentions(&b, "Projects", meta.Projects)
	writeMentions(&b, "Files", meta.Files)

	if err := atomic.WriteFile(m.notePath(meta.ID), &b); err != nil {
		return fmt.Errorf("writing resource note %s: %w", meta.ID, err)
	}
	return nil
}

// referenceLink renders the link back to the original source. URLs get a
// plain markdown link, vault files a wikilink.
func referenceLink(meta Meta) string {
	title := meta.Title
	if title == "" {
		title = meta.Source
	}
	switch meta.Kind {
	case KindURL:
		return fmt.Sprintf("[%s](%s)", title, meta.Source)
	case KindTag:
		return meta.Source
	default:
		return fmt.Sprintf("[[%s]]", meta.Source)
	}
}

func writeMentions(b *bytes.Buffer, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// ReadResourceSummary parses the note for id. Missing notes return nil.
func (m *Manager) ReadResourceSummary(id string) (*Meta, error) {
	data, err := os.ReadFile(m.notePath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading resource note %s: %w", id, err)
	}
	return parseNote(string(data))
}

// ListResourceSummaries enumerates every resource note in the folder.
func (m *Manager) ListResourceSummaries() ([]Meta, error) {
	entries, err := os.ReadDir(m.folder)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing resources folder: %w", err)
	}

	var metas []Meta
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, notePrefix) || !strings.HasSuffix(name, ".md") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, notePrefix), ".md")
		meta, err := m.ReadResourceSummary(id)
		if err != nil {
			return nil, err
		}
		if meta != nil {
			metas = append(metas, *meta)
		}
	}
	return metas, nil
}

func parseNote(content string) (*Meta, error) {
	meta := &Meta{}

	metaStart := strings.Index(content, "```meta\n")
	if metaStart < 0 {
		return nil, fmt.Errorf("resource note has no meta block")
	}
	rest := content[metaStart+len("```meta\n"):]
	metaEnd := strings.Index(rest, "```")
	if metaEnd < 0 {
		return nil, fmt.Errorf("resource note meta block not terminated")
	}

	var nm noteMeta
	if err := yaml.Unmarshal([]byte(rest[:metaEnd]), &nm); err != nil {
		return nil, fmt.Errorf("parsing resource meta block: %w", err)
	}
	meta.ID = nm.ID
	meta.Kind = Kind(nm.Kind)
	meta.Source = nm.Source
	meta.Title = nm.Title
	meta.LastUpdatedTs = nm.LastUpdatedTs

	meta.ShortSummary = sectionBody(content, "## Summary")
	meta.FullSummary = sectionBody(content, "## Full Summary")
	meta.Conversations = mentionList(content, "### Conversations")
	meta.Projects = mentionList(content, "### Projects")
	meta.Files = mentionList(content, "### Files")

	return meta, nil
}

// sectionBody returns the text between heading and the next heading.
func sectionBody(content, heading string) string {
	idx := strings.Index(content, "\n"+heading+"\n")
	if idx < 0 {
		return ""
	}
	body := content[idx+len(heading)+2:]
	if next := strings.Index(body, "\n#"); next >= 0 {
		body = body[:next]
	}
	return strings.TrimSpace(body)
}

func mentionList(content, heading string) []string {
	body := sectionBody(content, heading)
	if body == "" {
		return nil
	}
	var items []string
	for line := range strings.SplitSeq(body, "\n") {
		if after, ok := strings.CutPrefix(strings.TrimSpace(line), "- "); ok {
			items = append(items, after)
		}
	}
	return items
}
