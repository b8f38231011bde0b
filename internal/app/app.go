// Package app wires configuration into the collector, storage and pipeline shared by
// the worker service and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/kurihiro0119/github-issue-worker/internal/collector"
	"github.com/kurihiro0119/github-issue-worker/internal/config"
	"github.com/kurihiro0119/github-issue-worker/internal/domain"
	"github.com/kurihiro0119/github-issue-worker/internal/identity"
	"github.com/kurihiro0119/github-issue-worker/internal/keys"
	"github.com/kurihiro0119/github-issue-worker/internal/pipeline"
	"github.com/kurihiro0119/github-issue-worker/internal/storage"
	"github.com/kurihiro0119/github-issue-worker/internal/storage/memory"
	"github.com/kurihiro0119/github-issue-worker/internal/storage/postgres"
	"github.com/kurihiro0119/github-issue-worker/internal/storage/sqlite"
)

// OpenStorage opens the configured store. SQL schemas are created if missing.
func OpenStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	case "memory":
		return memory.New(), nil
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

// Provenance returns the tool and data source stamped on every row
func Provenance(cfg *config.Config) domain.Provenance {
	return domain.Provenance{
		ToolSource:  cfg.ToolSource,
		ToolVersion: cfg.ToolVersion,
		DataSource:  cfg.DataSource,
	}
}

// Ingestion bundles a pipeline with the collector it reads from
type Ingestion struct {
	Pipeline  *pipeline.Pipeline
	Collector *collector.GitHubCollector
	Keys      *keys.Allocator
}

// NewIngestion seeds the key counters from the store and builds a pipeline over the
// GitHub API. notifier may be nil.
func NewIngestion(ctx context.Context, cfg *config.Config, store storage.Storage, notifier pipeline.Notifier) (*Ingestion, error) {
	seeds, err := store.GetMaxIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current max ids: %w", err)
	}
	alloc := keys.NewAllocator(*seeds, cfg.KeySeed)

	coll := collector.NewGitHubCollector(cfg.GitHubToken, collector.WithRequestInterval(cfg.RequestInterval))
	prov := Provenance(cfg)

	p := pipeline.New(pipeline.Config{
		Collector:  coll,
		Store:      store,
		Resolver:   identity.NewResolver(store, coll, alloc, prov),
		Keys:       alloc,
		Notifier:   notifier,
		Provenance: prov,
	})

	return &Ingestion{Pipeline: p, Collector: coll, Keys: alloc}, nil
}
