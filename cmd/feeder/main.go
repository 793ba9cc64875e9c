package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/saviobatista/sbs-archive/internal/capture"
	"github.com/saviobatista/sbs-archive/internal/config"
	"github.com/saviobatista/sbs-archive/internal/feed"
	"github.com/saviobatista/sbs-archive/internal/nats"
	"github.com/saviobatista/sbs-archive/internal/parser"
	"github.com/saviobatista/sbs-archive/internal/types"
)

const (
	// minSnapshotInterval caps the per-aircraft snapshot rate
	minSnapshotInterval = time.Second
	// staleAfter drops aircraft that stopped transmitting
	staleAfter    = 5 * time.Minute
	pruneInterval = time.Minute
)

// Publisher sends assembled snapshots to the bus
type Publisher interface {
	PublishSnapshot(snap *types.Snapshot) error
}

// Feeder turns BaseStation lines into telemetry snapshots
type Feeder struct {
	assembler *feed.Assembler
	publisher Publisher

	lines     uint64
	malformed uint64
	published uint64
	failed    uint64
}

// NewFeeder creates a feeder publishing through publisher
func NewFeeder(publisher Publisher) *Feeder {
	return &Feeder{
		assembler: feed.NewAssembler(minSnapshotInterval),
		publisher: publisher,
	}
}

// HandleLine parses one line and publishes the snapshot it completes, if any
func (f *Feeder) HandleLine(line capture.Line) {
	atomic.AddUint64(&f.lines, 1)

	msg, err := parser.ParseMessage(line.Text)
	if err != nil {
		atomic.AddUint64(&f.malformed, 1)
		return
	}
	if msg == nil {
		return
	}

	snap, ok := f.assembler.Update(msg, line.Timestamp)
	if !ok {
		return
	}
	if err := f.publisher.PublishSnapshot(snap); err != nil {
		atomic.AddUint64(&f.failed, 1)
		log.Printf("Failed to publish snapshot for %s: %v", snap.Callsign, err)
		return
	}
	atomic.AddUint64(&f.published, 1)
}

// Run consumes lines until the channel closes or ctx is done
func (f *Feeder) Run(ctx context.Context, lines <-chan capture.Line) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			f.HandleLine(line)
		case now := <-ticker.C:
			dropped := f.assembler.Prune(now.Add(-staleAfter))
			log.Printf("Feed: %s, %d aircraft tracked, %d dropped as stale", f, f.assembler.Tracked(), dropped)
		}
	}
}

func (f *Feeder) String() string {
	return fmt.Sprintf("%d lines, %d malformed, %d snapshots published, %d failed",
		atomic.LoadUint64(&f.lines),
		atomic.LoadUint64(&f.malformed),
		atomic.LoadUint64(&f.published),
		atomic.LoadUint64(&f.failed))
}

func run(ctx context.Context, cfg *config.Config) error {
	if len(cfg.FeedSources) == 0 {
		return fmt.Errorf("SBS_SOURCES environment variable is required")
	}

	natsClient, err := nats.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}
	defer natsClient.Close()

	c := capture.New(cfg.FeedSources)
	c.Start(ctx)

	feeder := NewFeeder(natsClient)
	feeder.Run(ctx, c.Lines())

	log.Println("Shutting down...")
	c.Wait()
	log.Printf("Feed totals: %s", feeder)
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
		log.Printf("Feeder failed: %v", err)
		os.Exit(1)
	}
}
