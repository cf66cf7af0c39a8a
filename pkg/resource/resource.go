// Package resource maintains content-addressed resource summary notes with
// bidirectional mention links. Summaries are generated lazily the first time
// a conversation references a resource that cannot be attached directly.
package resource

import (
	"path/filepath"
	"slices"
	"strings"
)

// Kind tags what a resource source points at.
type Kind string

const (
	KindMarkdown   Kind = "markdown"
	KindImage      Kind = "image"
	KindPDF        Kind = "pdf"
	KindURL        Kind = "url"
	KindTag        Kind = "tag"
	KindFolder     Kind = "folder"
	KindAttachment Kind = "attachment"
	KindOther      Kind = "other"
)

// KindOf classifies a source string.
func KindOf(source string) Kind {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return KindURL
	case strings.HasPrefix(source, "#"):
		return KindTag
	case strings.HasSuffix(source, "/"):
		return KindFolder
	}

	switch strings.ToLower(filepath.Ext(source)) {
	case ".md", ".markdown":
		return KindMarkdown
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return KindImage
	case ".pdf":
		return KindPDF
	case "":
		return KindOther
	default:
		return KindAttachment
	}
}

// MediaType returns the MIME type for image sources.
func MediaType(source string) string {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// Meta is the parsed form of one resource summary note. Identical sources
// always map to the same 8-hex ID.
type Meta struct {
	ID            string
	Source        string
	Kind          Kind
	Title         string
	ShortSummary  string
	FullSummary   string
	LastUpdatedTs int64

	// Mention lists.
	Conversations []string
	Projects      []string
	Files         []string
}

// Ref names where a resource was mentioned.
type Ref struct {
	ConversationID string
	ProjectID      string
	FilePath       string
}

// addMention merges ref into the mention lists; returns true when something
// changed.
func (m *Meta) addMention(ref Ref) bool {
	changed := false
	appendUnique := func(list *[]string, v string) {
		if v == "" || slices.Contains(*list, v) {
			return
		}
		*list = append(*list, v)
		changed = true
	}
	appendUnique(&m.Conversations, ref.ConversationID)
	appendUnique(&m.Projects, ref.ProjectID)
	appendUnique(&m.Files, ref.FilePath)
	return changed
}
