package store

import (
	"encoding/json"
	"fmt"
)

// MetaPatch is a typed builder for partial conversation-meta updates, one
// method per column group. Applying an empty patch still bumps updated_at.
type MetaPatch struct {
	sets []string
	args []any
	err  error
}

// NewMetaPatch creates an empty patch.
func NewMetaPatch() *MetaPatch {
	return &MetaPatch{}
}

// Title sets the title columns.
func (p *MetaPatch) Title(title string, manuallyEdited, autoUpdated bool) *MetaPatch {
	p.set("title = ?", title)
	p.set("title_manually_edited = ?", manuallyEdited)
	p.set("title_auto_updated = ?", autoUpdated)
	return p
}

// ModelProvider sets the active model pair.
func (p *MetaPatch) ModelProvider(model, provider string) *MetaPatch {
	p.set("active_model = ?", model)
	p.set("active_provider = ?", provider)
	return p
}

// AddTokenUsage adds delta to the conversation's total token usage.
func (p *MetaPatch) AddTokenUsage(delta int64) *MetaPatch {
	p.sets = append(p.sets, "token_usage_total = token_usage_total + ?")
	p.args = append(p.args, delta)
	return p
}

// Overrides sets the attachment-handling and output-control overrides.
// A nil output control clears the column.
func (p *MetaPatch) Overrides(attachmentHandling string, oc *OutputControlOverride) *MetaPatch {
	p.set("attachment_handling = ?", attachmentHandling)
	if oc == nil {
		p.set("output_control = ?", nil)
		return p
	}
	raw, err := json.Marshal(oc)
	if err != nil {
		p.err = fmt.Errorf("marshaling output control: %w", err)
		return p
	}
	p.set("output_control = ?", string(raw))
	return p
}

// ContextPointers sets the context bookkeeping columns.
func (p *MetaPatch) ContextPointers(lastUpdatedTs int64, lastMessageIndex int) *MetaPatch {
	p.set("context_last_updated_ts = ?", lastUpdatedTs)
	p.set("context_last_message_index = ?", lastMessageIndex)
	return p
}

// Context sets the persisted conversation context JSON.
func (p *MetaPatch) Context(c *ConversationContext) *MetaPatch {
	if c == nil {
		p.set("context = ?", nil)
		return p
	}
	raw, err := json.Marshal(c)
	if err != nil {
		p.err = fmt.Errorf("marshaling conversation context: %w", err)
		return p
	}
	p.set("context = ?", string(raw))
	return p
}

// FilePath sets the backing note file path, relative to the root.
func (p *MetaPatch) FilePath(rel string) *MetaPatch {
	p.set("file_rel_path = ?", rel)
	return p
}

// Archived sets the archived flag.
func (p *MetaPatch) Archived(archived bool) *MetaPatch {
	p.set("archived = ?", archived)
	return p
}

func (p *MetaPatch) set(clause string, arg any) {
	p.sets = append(p.sets, clause)
	p.args = append(p.args, arg)
}
