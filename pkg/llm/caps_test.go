package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model  string
		vision bool
		pdf    bool
	}{
		{"gpt-4o-2024-08-06", true, true},
		{"claude-sonnet-4-5", true, true},
		{"o3-mini", true, false},
		{"text-embedding-3-small", false, false},
		{"totally-unknown-model", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			caps := CapabilitiesFor(tt.model)
			assert.Equal(t, tt.vision, caps.Vision)
			assert.Equal(t, tt.pdf, caps.PDFInput)
			assert.Positive(t, caps.ContextWindow)
		})
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Resolve("openai")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}
