package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
defaultModel:
  provider: openai
  modelId: gpt-4o-mini
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Chats", cfg.RootFolder)
	assert.Equal(t, "Resources", cfg.ResourcesSummaryFolder)
	assert.Equal(t, AttachmentDirect, cfg.AttachmentHandlingDefault)
	assert.Equal(t, "User-Profile.md", cfg.ProfileFilePath)
	assert.NotEmpty(t, cfg.DatabasePath)
	assert.NotEmpty(t, cfg.KeywordIndexPath)
}

func TestLoadRejectsMissingModel(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `rootFolder: Vault`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defaultModel")
}

func TestLoadRejectsBadAttachmentHandling(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
defaultModel:
  provider: openai
  modelId: gpt-4o-mini
attachmentHandlingDefault: sometimes
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attachmentHandlingDefault")
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
rootFolder: Vault/Chats
attachmentHandlingDefault: degrade_to_text
profileEnabled: true
defaultModel:
  provider: anthropic
  modelId: claude-sonnet-4-5
embeddingModel:
  provider: openai
  modelId: text-embedding-3-small
llmProviderConfigs:
  openai:
    apiKey: sk-test
  anthropic:
    apiKey: sk-ant-test
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Vault/Chats", cfg.RootFolder)
	assert.Equal(t, AttachmentDegradeToText, cfg.AttachmentHandlingDefault)
	assert.True(t, cfg.ProfileEnabled)
	assert.Equal(t, "anthropic", cfg.DefaultModel.Provider)
	assert.Len(t, cfg.LLMProviderConfigs, 2)
}
