// Package engine is the composition root: it constructs the store, the
// provider registry, and every runtime component from one configuration and
// hands them out as explicit dependencies. Nothing here is process-global;
// a host binding instantiates one Engine and passes it around.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/notabene-ai/notabene/pkg/archiver"
	"github.com/notabene-ai/notabene/pkg/assembler"
	"github.com/notabene-ai/notabene/pkg/bus"
	"github.com/notabene-ai/notabene/pkg/config"
	"github.com/notabene-ai/notabene/pkg/conversation"
	"github.com/notabene-ai/notabene/pkg/dispatch"
	"github.com/notabene-ai/notabene/pkg/llm"
	llmanthropic "github.com/notabene-ai/notabene/pkg/llm/anthropic"
	llmopenai "github.com/notabene-ai/notabene/pkg/llm/openai"
	"github.com/notabene-ai/notabene/pkg/profile"
	"github.com/notabene-ai/notabene/pkg/resource"
	"github.com/notabene-ai/notabene/pkg/search"
	"github.com/notabene-ai/notabene/pkg/search/rerank"
	"github.com/notabene-ai/notabene/pkg/store"
	"github.com/notabene-ai/notabene/pkg/updater"
)

// systemPrompt is the default assistant instruction block.
const systemPrompt = "You are an assistant embedded in the user's personal note vault. Answer from the provided context when possible and say so when the notes do not cover the question."

// Engine bundles the constructed components.
type Engine struct {
	Config       *config.Config
	Store        *store.Store
	Bus          *bus.Bus
	Registry     *llm.Registry
	Search       *search.Engine
	Reranker     *rerank.Reranker
	Resources    *resource.Manager
	Profile      *profile.Extractor
	Conversation *conversation.Service
	Updater      *updater.Updater
	Archiver     *archiver.Archiver
}

// New builds an engine from configuration.
func New(cfg *config.Config) (*Engine, error) {
	s, err := store.Open(store.Options{
		DatabasePath:     cfg.DatabasePath,
		KeywordIndexPath: cfg.KeywordIndexPath,
		Root:             cfg.RootFolder,
	})
	if err != nil {
		return nil, err
	}

	var providers []llm.Provider
	for name, pc := range cfg.LLMProviderConfigs {
		switch name {
		case "openai":
			providers = append(providers, llmopenai.New(pc.APIKey, pc.BaseURL))
		case "anthropic":
			providers = append(providers, llmanthropic.New(pc.APIKey, pc.BaseURL))
		default:
			slog.Warn("Unknown LLM provider in config, skipping", "provider", name)
		}
	}
	registry := llm.NewRegistry(providers...)

	defaultProvider, err := registry.Resolve(cfg.DefaultModel.Provider)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("default model provider: %w", err)
	}

	embedProvider := defaultProvider
	embedModel := cfg.EmbeddingModel.ModelID
	if cfg.EmbeddingModel.Provider != "" {
		if embedProvider, err = registry.Resolve(cfg.EmbeddingModel.Provider); err != nil {
			s.Close()
			return nil, fmt.Errorf("embedding model provider: %w", err)
		}
	}

	b := bus.New()

	resourcesFolder := filepath.Join(cfg.RootFolder, cfg.ResourcesSummaryFolder)
	resources := resource.NewManager(resourcesFolder, defaultProvider, cfg.DefaultModel.ModelID)

	profileStore := profile.NewStore(cfg.ProfileFilePath)
	profiles := profile.NewExtractor(profileStore, defaultProvider, cfg.DefaultModel.ModelID, cfg.ProfileEnabled)

	builder := assembler.New(resources, profiles, systemPrompt, cfg.AttachmentHandlingDefault)
	dispatcher := dispatch.New(registry)
	svc := conversation.New(s, b, builder, dispatcher, resources, registry, cfg)

	var reranking llm.RerankingProvider
	rerankModel := ""
	if cfg.RerankModel != nil {
		if p, err := registry.Resolve(cfg.RerankModel.Provider); err == nil {
			if rp, ok := p.(llm.RerankingProvider); ok {
				reranking = rp
				rerankModel = cfg.RerankModel.ModelID
			} else {
				slog.Warn("Configured rerank provider cannot rerank", "provider", cfg.RerankModel.Provider)
			}
		}
	}

	return &Engine{
		Config:       cfg,
		Store:        s,
		Bus:          b,
		Registry:     registry,
		Search:       search.NewEngine(s, embedProviderAdapter{embedProvider}, embedModel),
		Reranker:     rerank.New(s, reranking, rerankModel),
		Resources:    resources,
		Profile:      profiles,
		Conversation: svc,
		Updater:      updater.New(s, svc, profiles, defaultProvider, cfg.DefaultModel.ModelID, b),
		Archiver:     archiver.New(s),
	}, nil
}

// Start launches the background maintainers.
func (e *Engine) Start(ctx context.Context) {
	e.Updater.Start(ctx)
}

// Close releases everything.
func (e *Engine) Close() error {
	e.Bus.Close()
	return e.Store.Close()
}

// embedProviderAdapter narrows a Provider to the search.Embedder interface.
type embedProviderAdapter struct {
	provider llm.Provider
}

func (a embedProviderAdapter) GenerateEmbedding(ctx context.Context, model, text string) ([]float32, error) {
	return a.provider.GenerateEmbedding(ctx, model, text)
}
