package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/saviobatista/sbs-archive/internal/archive"
	"github.com/saviobatista/sbs-archive/internal/config"
	"github.com/saviobatista/sbs-archive/internal/db"
	"github.com/saviobatista/sbs-archive/internal/nats"
	"github.com/saviobatista/sbs-archive/internal/stats"
	"github.com/saviobatista/sbs-archive/internal/types"
)

const (
	ingestTimeout      = 10 * time.Second
	statsLogInterval   = time.Minute
	statsPersistPeriod = 5 * time.Minute
	configReloadPeriod = time.Minute
)

// SnapshotSource delivers decoded telemetry snapshots. A handler error asks
// for redelivery.
type SnapshotSource interface {
	SubscribeSnapshots(handler func(*types.Snapshot) error) (*natsgo.Subscription, error)
}

// Ingestor feeds snapshots from the bus into the hot tier
type Ingestor struct {
	writer  *archive.IngestWriter
	timeout time.Duration
}

// NewIngestor creates an ingestor writing through writer
func NewIngestor(writer *archive.IngestWriter) *Ingestor {
	return &Ingestor{writer: writer, timeout: ingestTimeout}
}

// Handle stores one snapshot. It returns an error only when the store could
// not take the snapshot and a later delivery may succeed; rejected records
// and statement errors are logged and dropped.
func (i *Ingestor) Handle(snap *types.Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()

	err := i.writer.Ingest(ctx, *snap)
	if err == nil {
		return nil
	}
	var verr *archive.ValidationError
	if errors.As(err, &verr) {
		log.Printf("Dropped snapshot: %v", err)
		return nil
	}
	if retryable(err) {
		log.Printf("Store unavailable for %s, snapshot will be redelivered: %v", snap.Callsign, err)
		return err
	}
	log.Printf("Failed to ingest snapshot for %s: %v", snap.Callsign, err)
	return nil
}

func retryable(err error) bool {
	return archive.IsFatal(err) || errors.Is(err, context.DeadlineExceeded)
}

// Subscribe attaches the ingestor to source
func (i *Ingestor) Subscribe(source SnapshotSource) (*natsgo.Subscription, error) {
	sub, err := source.SubscribeSnapshots(i.Handle)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to snapshots: %w", err)
	}
	return sub, nil
}

// configStore reads thresholds from the YAML file when one is configured,
// otherwise from the archive_config table
func configStore(cfg *config.Config, client *db.Client) archive.ConfigStore {
	if cfg.ArchiveConfigFile != "" {
		return config.NewFileStore(cfg.ArchiveConfigFile)
	}
	return db.NewConfigStore(client)
}

// setupIngestor builds the writer with the configured inactivity threshold
func setupIngestor(ctx context.Context, configs archive.ConfigStore, store archive.IngestStore, st *stats.Stats) (*Ingestor, error) {
	archiveCfg, err := configs.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive config: %w", err)
	}
	log.Printf("Starting ingest with inactivity threshold %s", archiveCfg.InactivityThreshold)
	return NewIngestor(archive.NewIngestWriter(store, archiveCfg.InactivityThreshold, st)), nil
}

// reloadConfig picks up a changed inactivity threshold so ingest splits
// sessions at the same point the migrator archives them
func (i *Ingestor) reloadConfig(ctx context.Context, configs archive.ConfigStore) error {
	archiveCfg, err := configs.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload archive config: %w", err)
	}
	if current := i.writer.Inactivity(); current != archiveCfg.InactivityThreshold {
		log.Printf("Inactivity threshold changed from %s to %s", current, archiveCfg.InactivityThreshold)
		i.writer.SetInactivity(archiveCfg.InactivityThreshold)
	}
	return nil
}

// watchConfig reloads the archive config every interval until ctx is done.
// A failed reload keeps the previous threshold.
func (i *Ingestor) watchConfig(ctx context.Context, configs archive.ConfigStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := i.reloadConfig(ctx, configs); err != nil {
				log.Printf("Warning: %v", err)
			}
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	dbClient, err := db.New(cfg.DBConnStr)
	if err != nil {
		return fmt.Errorf("failed to create database client: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing dbClient: %v\n", err)
		}
	}()

	natsClient, err := nats.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}
	defer natsClient.Close()

	st := stats.New()
	st.SetSink(dbClient)

	configs := configStore(cfg, dbClient)
	ingestor, err := setupIngestor(ctx, configs, dbClient, st)
	if err != nil {
		return err
	}

	sub, err := ingestor.Subscribe(natsClient)
	if err != nil {
		return err
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("Warning: failed to unsubscribe: %v", err)
		}
	}()

	go st.StartLogging(ctx, statsLogInterval)
	go ingestor.watchConfig(ctx, configs, configReloadPeriod)
	persisted := make(chan struct{})
	go func() {
		st.StartPersistence(ctx, statsPersistPeriod)
		close(persisted)
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	<-persisted
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Printf("Ingest failed: %v", err)
		os.Exit(1)
	}
}
