// Package config loads the engine configuration from a YAML file and applies
// defaults for everything the host does not set.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// AttachmentHandling controls how message attachments reach the model.
type AttachmentHandling string

const (
	// AttachmentDirect encodes the file inline when the model supports it.
	AttachmentDirect AttachmentHandling = "direct"
	// AttachmentDegradeToText references the resource summary instead.
	AttachmentDegradeToText AttachmentHandling = "degrade_to_text"
)

// ModelRef names a provider/model pair.
type ModelRef struct {
	Provider string `yaml:"provider"`
	ModelID  string `yaml:"modelId"`
}

// OutputControl holds sampling parameters passed through to the provider.
type OutputControl struct {
	Temperature *float64 `yaml:"temperature,omitempty"`
	TopP        *float64 `yaml:"topP,omitempty"`
	MaxTokens   int      `yaml:"maxTokens,omitempty"`
}

// ProviderConfig configures one LLM provider.
type ProviderConfig struct {
	APIKey        string   `yaml:"apiKey"`
	BaseURL       string   `yaml:"baseUrl,omitempty"`
	EnabledModels []string `yaml:"enabledModels,omitempty"`
}

// Config is the full engine configuration.
type Config struct {
	// RootFolder is the root for conversation and project storage.
	RootFolder string `yaml:"rootFolder"`

	// ResourcesSummaryFolder is the subfolder for resource summary notes.
	ResourcesSummaryFolder string `yaml:"resourcesSummaryFolder"`

	// UploadFolder receives user-uploaded attachments.
	UploadFolder string `yaml:"uploadFolder"`

	// DatabasePath locates the SQLite file. Supplied by the host.
	DatabasePath string `yaml:"databasePath"`

	// KeywordIndexPath locates the on-disk keyword (bleve) index.
	KeywordIndexPath string `yaml:"keywordIndexPath"`

	DefaultModel         ModelRef      `yaml:"defaultModel"`
	EmbeddingModel       ModelRef      `yaml:"embeddingModel"`
	RerankModel          *ModelRef     `yaml:"rerankModel,omitempty"`
	DefaultOutputControl OutputControl `yaml:"defaultOutputControl"`

	AttachmentHandlingDefault AttachmentHandling `yaml:"attachmentHandlingDefault"`

	// ProfileEnabled is the master switch for user-profile extraction and
	// injection.
	ProfileEnabled  bool   `yaml:"profileEnabled"`
	ProfileFilePath string `yaml:"profileFilePath"`

	LLMProviderConfigs map[string]ProviderConfig `yaml:"llmProviderConfigs"`
}

// Load reads the configuration from path and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.RootFolder == "" {
		c.RootFolder = "Chats"
	}
	if c.ResourcesSummaryFolder == "" {
		c.ResourcesSummaryFolder = "Resources"
	}
	if c.UploadFolder == "" {
		c.UploadFolder = "Uploads"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.RootFolder, ".notabene", "engine.db")
	}
	if c.KeywordIndexPath == "" {
		c.KeywordIndexPath = filepath.Join(c.RootFolder, ".notabene", "keyword.bleve")
	}
	if c.AttachmentHandlingDefault == "" {
		c.AttachmentHandlingDefault = AttachmentDirect
	}
	if c.ProfileFilePath == "" {
		c.ProfileFilePath = "User-Profile.md"
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.AttachmentHandlingDefault {
	case AttachmentDirect, AttachmentDegradeToText:
	default:
		return fmt.Errorf("invalid attachmentHandlingDefault %q", c.AttachmentHandlingDefault)
	}
	if c.DefaultModel.Provider == "" || c.DefaultModel.ModelID == "" {
		return fmt.Errorf("defaultModel requires both provider and modelId")
	}
	return nil
}
