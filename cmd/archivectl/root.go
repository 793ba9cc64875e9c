package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/saviobatista/sbs-archive/internal/archive"
	"github.com/saviobatista/sbs-archive/internal/config"
	"github.com/saviobatista/sbs-archive/internal/db"
	"github.com/saviobatista/sbs-archive/internal/redis"
)

// configEditor is a config store operators can change from the CLI
type configEditor interface {
	archive.ConfigStore
	Set(ctx context.Context, key, value string) error
}

// backend bundles the stores the commands talk to. cache, leaser and
// editor may be nil.
type backend struct {
	store     archive.Store
	configs   archive.ConfigStore
	editor    configEditor
	cache     archive.TrackCache
	leaser    archive.Leaser
	cacheTTL  time.Duration
	exportDir string
	batchSize int
	close     func() error
}

type openFunc func(ctx context.Context, cfg *config.Config) (*backend, error)

// openBackend connects to Postgres and, when reachable, Redis
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	client, err := db.New(cfg.DBConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create database client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	b := &backend{
		store:     client,
		cacheTTL:  cfg.TrackCacheTTL,
		exportDir: cfg.ExportDir,
		batchSize: cfg.BatchSize,
	}
	if cfg.ArchiveConfigFile != "" {
		b.configs = config.NewFileStore(cfg.ArchiveConfigFile)
	} else {
		store := db.NewConfigStore(client)
		b.configs = store
		b.editor = store
	}

	closers := []func() error{client.Close}
	if redisClient, err := redis.New(cfg.RedisAddr); err != nil {
		log.Printf("Warning: Redis unavailable, running without cache and leases: %v", err)
	} else {
		b.cache = redisClient
		b.leaser = redisClient
		closers = append(closers, redisClient.Close)
	}

	b.close = func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	return b, nil
}

type commandContext struct {
	open openFunc

	once    sync.Once
	backend *backend
	err     error
}

func newCommandContext(open openFunc) *commandContext {
	return &commandContext{open: open}
}

func (c *commandContext) ensureBackend(ctx context.Context) (*backend, error) {
	c.once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.err = err
			return
		}
		c.backend, c.err = c.open(ctx, cfg)
	})
	return c.backend, c.err
}

func (c *commandContext) shutdown() error {
	if c.backend == nil || c.backend.close == nil {
		return nil
	}
	return c.backend.close()
}

func newRootCommand(open openFunc) *cobra.Command {
	ctx := newCommandContext(open)

	rootCmd := &cobra.Command{
		Use:           "archivectl",
		Short:         "Query and operate the trajectory archive",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.shutdown()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newTrackCommand(ctx))
	rootCmd.AddCommand(newStatsCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newGapsCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
