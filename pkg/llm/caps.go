package llm

import "strings"

// Capabilities describes what a model can consume. The assembler consults
// this table when deciding whether an attachment may be sent inline.
type Capabilities struct {
	Vision        bool
	PDFInput      bool
	FileInput     bool
	ContextWindow int
}

// defaultContextWindow is assumed when a model is not in the table.
const defaultContextWindow = 128_000

// capabilityTable maps model-id prefixes to capabilities. Longest matching
// prefix wins.
var capabilityTable = map[string]Capabilities{
	"gpt-4o":          {Vision: true, PDFInput: true, FileInput: true, ContextWindow: 128_000},
	"gpt-4.1":         {Vision: true, PDFInput: true, FileInput: true, ContextWindow: 1_000_000},
	"gpt-5":           {Vision: true, PDFInput: true, FileInput: true, ContextWindow: 400_000},
	"o3":              {Vision: true, PDFInput: false, FileInput: false, ContextWindow: 200_000},
	"claude-3-5":      {Vision: true, PDFInput: true, FileInput: false, ContextWindow: 200_000},
	"claude-sonnet-4": {Vision: true, PDFInput: true, FileInput: true, ContextWindow: 200_000},
	"claude-opus-4":   {Vision: true, PDFInput: true, FileInput: true, ContextWindow: 200_000},
	"claude-haiku-4":  {Vision: true, PDFInput: true, FileInput: true, ContextWindow: 200_000},
	"text-embedding":  {},
}

// CapabilitiesFor returns the capabilities for a model id. Unknown models get
// a text-only default so attachments degrade to summaries instead of failing
// at the provider.
func CapabilitiesFor(modelID string) Capabilities {
	best := ""
	for prefix := range capabilityTable {
		if strings.HasPrefix(modelID, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return Capabilities{ContextWindow: defaultContextWindow}
	}
	caps := capabilityTable[best]
	if caps.ContextWindow == 0 {
		caps.ContextWindow = defaultContextWindow
	}
	return caps
}
