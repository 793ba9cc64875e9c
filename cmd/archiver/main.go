package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/saviobatista/sbs-archive/internal/archive"
	"github.com/saviobatista/sbs-archive/internal/config"
	"github.com/saviobatista/sbs-archive/internal/db"
	"github.com/saviobatista/sbs-archive/internal/export"
	"github.com/saviobatista/sbs-archive/internal/nats"
	"github.com/saviobatista/sbs-archive/internal/redis"
	"github.com/saviobatista/sbs-archive/internal/storage"
	"github.com/saviobatista/sbs-archive/internal/types"
)

// leaseTTL bounds how long a crashed worker can block a stage
const leaseTTL = 30 * time.Minute

type options struct {
	once     bool
	stage    string
	interval time.Duration
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("archiver", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.BoolVar(&opts.once, "once", false, "run the pipeline once and exit")
	fs.StringVar(&opts.stage, "stage", "", "run a single stage and exit")
	fs.DurationVar(&opts.interval, "interval", 0, "fixed pause between runs, overrides the peak/off-peak schedule")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.interval < 0 {
		return opts, fmt.Errorf("interval must not be negative")
	}
	return opts, nil
}

// recorders forwards job log entries to every recorder
type recorders []archive.JobRecorder

func (r recorders) RecordJobRun(ctx context.Context, entry types.ArchiveLogEntry) error {
	var errs []error
	for _, rec := range r {
		if err := rec.RecordJobRun(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dailyExporter exports the previous UTC day after the first successful
// run of each day
type dailyExporter struct {
	exporter *export.Exporter
	now      func() time.Time
	lastDay  time.Time
}

func newDailyExporter(exporter *export.Exporter) *dailyExporter {
	return &dailyExporter{exporter: exporter, now: time.Now}
}

func (d *dailyExporter) afterRun(ctx context.Context, summary archive.RunSummary) {
	y, m, day := d.now().UTC().Date()
	yesterday := time.Date(y, m, day-1, 0, 0, 0, 0, time.UTC)
	if yesterday.Equal(d.lastDay) {
		return
	}

	res, err := d.exporter.ExportDay(ctx, yesterday, false)
	if err != nil {
		log.Printf("Daily export of %s failed: %v", yesterday.Format("2006-01-02"), err)
		return
	}
	d.lastDay = yesterday
	if res.Skipped {
		log.Printf("Export of %s already present, skipped", yesterday.Format("2006-01-02"))
	}
}

// acquireHostLock takes the exclusive lock that keeps one archiver per host
func acquireHostLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("another archiver holds %s", path)
	}
	return lock, nil
}

// configStore reads thresholds from the YAML file when one is configured,
// otherwise from the archive_config table
func configStore(cfg *config.Config, client *db.Client) archive.ConfigStore {
	if cfg.ArchiveConfigFile != "" {
		return config.NewFileStore(cfg.ArchiveConfigFile)
	}
	return db.NewConfigStore(client)
}

func newOrchestrator(store archive.Store, configs archive.ConfigStore, leaser archive.Leaser, recorder archive.JobRecorder, interval time.Duration) *archive.Orchestrator {
	orch := archive.NewOrchestrator(store, configs)
	if leaser != nil {
		orch.SetLeaser(leaser, leaseTTL)
	}
	if recorder != nil {
		orch.SetRecorder(recorder)
	}
	schedule := archive.DefaultSchedule()
	schedule.Override = interval
	orch.SetSchedule(schedule)
	return orch
}

// execute runs one stage, one pass, or the scheduled loop
func execute(ctx context.Context, orch *archive.Orchestrator, opts options, afterRun func(context.Context, archive.RunSummary)) error {
	switch {
	case opts.stage != "":
		result, err := orch.RunStage(ctx, opts.stage)
		if err != nil {
			return fmt.Errorf("stage %s failed: %w", opts.stage, err)
		}
		log.Printf("Stage %s finished with status %s", opts.stage, result.Status())
		return nil
	case opts.once:
		summary, err := orch.RunOnce(ctx)
		if err != nil {
			return err
		}
		if afterRun != nil {
			afterRun(ctx, summary)
		}
		return nil
	default:
		err := orch.Run(ctx, afterRun)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

// optionalServices connects the lease and event backends. Either may be
// missing; the archiver then runs without it.
func optionalServices(cfg *config.Config) (*redis.Client, *nats.Client) {
	redisClient, err := redis.New(cfg.RedisAddr)
	if err != nil {
		log.Printf("Warning: running without stage leases: %v", err)
		redisClient = nil
	}
	natsClient, err := nats.New(cfg.NATSURL)
	if err != nil {
		log.Printf("Warning: job runs will not be published: %v", err)
		natsClient = nil
	}
	return redisClient, natsClient
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	lock, err := acquireHostLock(cfg.LockFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Printf("Warning: failed to release %s: %v", cfg.LockFile, err)
		}
	}()

	dbClient, err := db.New(cfg.DBConnStr)
	if err != nil {
		return fmt.Errorf("failed to create database client: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing dbClient: %v\n", err)
		}
	}()
	if err := dbClient.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	var leaser archive.Leaser
	var recs recorders
	redisClient, natsClient := optionalServices(cfg)
	if redisClient != nil {
		defer redisClient.Close()
		leaser = redisClient
	}
	if natsClient != nil {
		defer natsClient.Close()
		recs = append(recs, natsClient)
	}
	if cfg.JournalDir != "" {
		journal := storage.New(cfg.JournalDir)
		if err := journal.Start(); err != nil {
			return fmt.Errorf("failed to start job journal: %w", err)
		}
		defer func() {
			if err := journal.Stop(); err != nil {
				log.Printf("Warning: failed to close job journal: %v", err)
			}
		}()
		recs = append(recs, journal)
	}

	interval := cfg.Interval
	if opts.interval > 0 {
		interval = opts.interval
	}
	var recorder archive.JobRecorder
	if len(recs) > 0 {
		recorder = recs
	}
	orch := newOrchestrator(dbClient, configStore(cfg, dbClient), leaser, recorder, interval)

	var afterRun func(context.Context, archive.RunSummary)
	if cfg.ExportDir != "" {
		afterRun = newDailyExporter(export.New(dbClient, cfg.ExportDir, cfg.BatchSize)).afterRun
	}

	return execute(ctx, orch, opts, afterRun)
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		log.Printf("Archiver failed: %v", err)
		os.Exit(1)
	}
}
