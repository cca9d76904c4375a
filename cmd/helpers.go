package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/lmeira/docsqueeze/internal/extract"
	"github.com/lmeira/docsqueeze/internal/merge"
	"github.com/lmeira/docsqueeze/internal/process"
	"github.com/lmeira/docsqueeze/internal/store"
	"github.com/lmeira/docsqueeze/internal/template"
	anthropicpkg "github.com/lmeira/docsqueeze/pkg/anthropic"
	"github.com/lmeira/docsqueeze/pkg/archive"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "docsqueeze.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		var poolCfg *store.PoolConfig
		if cfg.Store.MaxConns > 0 || cfg.Store.MinConns > 0 {
			poolCfg = &store.PoolConfig{
				MaxConns: cfg.Store.MaxConns,
				MinConns: cfg.Store.MinConns,
			}
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, poolCfg)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initArchive() (archive.Client, error) {
	if cfg.Archive.URL == "" {
		return nil, eris.New("archive URL is required (DOCSQUEEZE_ARCHIVE_URL)")
	}
	if cfg.Archive.Token == "" {
		return nil, eris.New("archive token is required (DOCSQUEEZE_ARCHIVE_TOKEN)")
	}
	return archive.NewClient(cfg.Archive.URL, cfg.Archive.Token,
		archive.WithRateLimit(cfg.Archive.RateLimit, cfg.Archive.Burst),
	), nil
}

func initTemplates() (*template.Config, error) {
	tc, err := template.Load(cfg.Templates.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "load templates from %s", cfg.Templates.Path)
	}
	return tc, nil
}

// initProcessor wires the full pipeline. The returned store must be closed
// by the caller; it is nil when withRuns is false.
func initProcessor(ctx context.Context, withRuns bool) (*process.Processor, store.Store, error) {
	if cfg.Anthropic.Key == "" {
		return nil, nil, eris.New("anthropic API key is required (DOCSQUEEZE_ANTHROPIC_KEY)")
	}

	archiveClient, err := initArchive()
	if err != nil {
		return nil, nil, err
	}

	templates, err := initTemplates()
	if err != nil {
		return nil, nil, err
	}

	extractor := extract.NewService(
		anthropicpkg.NewClient(cfg.Anthropic.Key),
		templates,
		extract.Options{
			GatekeeperModel:  cfg.Anthropic.GatekeeperModel,
			SpecialistModel:  cfg.Anthropic.SpecialistModel,
			MaxTokens:        cfg.Anthropic.MaxTokens,
			MaxContentLength: cfg.Processing.MaxContentLength,
		},
	)

	merger := merge.NewStrategy()
	if cfg.Processing.AutoApplyThreshold > 0 {
		merger.AutoApplyThreshold = cfg.Processing.AutoApplyThreshold
	}
	if cfg.Processing.SuggestionThreshold > 0 {
		merger.SuggestionThreshold = cfg.Processing.SuggestionThreshold
	}

	var runs store.Store
	if withRuns {
		runs, err = initStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		if err := runs.Migrate(ctx); err != nil {
			runs.Close()
			return nil, nil, eris.Wrap(err, "migrate store")
		}
	}

	proc := process.New(archiveClient, extractor, templates, process.Options{
		Merger:      merger,
		Tags:        cfg.Tags,
		Concurrency: cfg.Processing.Concurrency,
		Runs:        runs,
	})
	return proc, runs, nil
}
