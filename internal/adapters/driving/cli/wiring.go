package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/custodia-labs/planaudit/internal/adapters/driven/ai"
	"github.com/custodia-labs/planaudit/internal/adapters/driven/catalog"
	"github.com/custodia-labs/planaudit/internal/adapters/driven/config/file"
	"github.com/custodia-labs/planaudit/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/planaudit/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/planaudit/internal/adapters/driven/vector/flat"
	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
	"github.com/custodia-labs/planaudit/internal/core/ports/driving"
	"github.com/custodia-labs/planaudit/internal/core/services"
	"github.com/custodia-labs/planaudit/internal/logger"
	"github.com/custodia-labs/planaudit/internal/normalisers"
	"github.com/custodia-labs/planaudit/internal/postprocessors/chunker"
)

// serviceSet holds the wired plan and audit services and how to release them.
type serviceSet struct {
	plans driving.PlanService
	audit driving.AuditService
	types []string
	close func()
}

// resolveConfigDir returns dir, or ~/.planaudit when dir is empty.
func resolveConfigDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".planaudit"), nil
}

func newSettingsService(dir string) (driving.SettingsService, error) {
	dir, err := resolveConfigDir(dir)
	if err != nil {
		return nil, err
	}
	var store driven.ConfigStore
	store, err = file.NewConfigStore(dir)
	if err != nil {
		logger.Warn("config directory %s unusable (%v), settings will not be saved", dir, err)
		store = memory.NewConfigStore()
	}
	return services.NewSettingsService(store, ai.NewConfigValidator()), nil
}

// loadCatalog loads the configured catalog, or the built-in one when the file is absent.
func loadCatalog(settings *domain.AppSettings, dir string) (*domain.Catalog, error) {
	path := settings.CatalogPath
	if path == "" {
		dir, err := resolveConfigDir(dir)
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "catalog.jsonl")
	}

	cat, builtIn, err := catalog.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if builtIn {
		logger.Debug("catalog %s not found, using the built-in catalog", path)
	} else {
		logger.Debug("loaded catalog %s (%d rules)", path, cat.Len())
	}
	return cat, nil
}

// newServices wires the audit pipeline from settings.
func newServices(ctx context.Context, settings *domain.AppSettings, dir string) (*serviceSet, error) {
	defer logger.Timed("wire services")()

	dir, err := resolveConfigDir(dir)
	if err != nil {
		return nil, err
	}

	cat, err := loadCatalog(settings, dir)
	if err != nil {
		return nil, err
	}

	providers, err := ai.Init(ctx, settings)
	if err != nil {
		return nil, err
	}

	cacheDir := settings.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(dir, "data")
	}
	store, err := sqlite.NewStore(cacheDir)
	if err != nil {
		providers.Close()
		return nil, err
	}
	closeAll := func() {
		providers.Close()
		if err := store.Close(); err != nil {
			logger.Warn("closing store: %v", err)
		}
	}

	prompts, err := file.NewPromptStore(filepath.Join(dir, "prompts"))
	if err != nil {
		closeAll()
		return nil, err
	}

	retry := services.NewRetryPolicy(settings.Retry)
	judge, err := services.NewJudge(settings.Judge, providers.LLM, prompts, retry)
	if err != nil {
		closeAll()
		return nil, err
	}

	embedder := services.NewCachedEmbedder(providers.Embedding, store.EmbeddingCache(),
		services.WithThrottle(providers.Throttle),
		services.WithRetryPolicy(retry),
		services.WithBatchSize(settings.Embedding.BatchSize),
	)
	extractor := normalisers.Default()
	sessions := memory.NewSessionStore()

	plans := services.NewPlanService(
		extractor,
		chunker.New(chunker.WithChunkSize(settings.Chunker.Size), chunker.WithOverlap(settings.Chunker.Overlap)),
		embedder,
		flat.Builder{},
		sessions,
		services.WithPlanStore(store.PlanStore()),
		services.WithStatusInfo(cat, judge.Name()),
		services.WithAnswerer(providers.LLM, prompts, retry, settings.Judge.Timeout),
	)
	audit := services.NewAuditor(sessions, embedder, judge, cat,
		services.WithWorkers(settings.Audit.Workers),
		services.WithDefaultTopK(settings.Audit.TopK),
	)

	return &serviceSet{
		plans: plans,
		audit: audit,
		types: extractor.SupportedTypes(),
		close: closeAll,
	}, nil
}
