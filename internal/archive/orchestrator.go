package archive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/saviobatista/sbs-archive/internal/config"
	"github.com/saviobatista/sbs-archive/internal/types"
)

// Schedule picks the pause between pipeline runs. Off-peak hours are
// [OffPeakStartHour, OffPeakEndHour) UTC. Override, when set, wins.
type Schedule struct {
	PeakInterval     time.Duration
	OffPeakInterval  time.Duration
	OffPeakStartHour int
	OffPeakEndHour   int
	Override         time.Duration
}

// DefaultSchedule runs hourly between 04:00 and 10:00 UTC and every four hours otherwise
func DefaultSchedule() Schedule {
	return Schedule{
		PeakInterval:     4 * time.Hour,
		OffPeakInterval:  time.Hour,
		OffPeakStartHour: 4,
		OffPeakEndHour:   10,
	}
}

// Next returns the wait before the run following one at now
func (s Schedule) Next(now time.Time) time.Duration {
	if s.Override > 0 {
		return s.Override
	}
	hour := now.UTC().Hour()
	if hour >= s.OffPeakStartHour && hour < s.OffPeakEndHour {
		return s.OffPeakInterval
	}
	return s.PeakInterval
}

// RunSummary collects the stage results of one pipeline run
type RunSummary struct {
	StartedAt time.Time
	Duration  time.Duration
	Results   []JobResult
}

// Rows totals rows written across stages
func (s RunSummary) Rows() int64 {
	var n int64
	for _, r := range s.Results {
		n += r.Rows
	}
	return n
}

type stageFunc func(ctx context.Context, cfg config.ArchiveConfig) (JobResult, error)

// Orchestrator runs the archive pipeline in its fixed stage order
type Orchestrator struct {
	configs   ConfigStore
	logs      LogStore
	migrator  *TierMigrator
	compactor *TrajectoryCompactor
	purger    *RetentionPurger

	leaser   Leaser
	leaseTTL time.Duration
	recorder JobRecorder

	schedule Schedule
	now      func() time.Time
}

// NewOrchestrator wires the pipeline stages over store
func NewOrchestrator(store Store, configs ConfigStore) *Orchestrator {
	return &Orchestrator{
		configs:   configs,
		logs:      store,
		migrator:  NewTierMigrator(store),
		compactor: NewTrajectoryCompactor(store),
		purger:    NewRetentionPurger(store),
		schedule:  DefaultSchedule(),
		now:       time.Now,
	}
}

// SetLeaser requires each stage to hold a lease for ttl before running
func (o *Orchestrator) SetLeaser(leaser Leaser, ttl time.Duration) {
	o.leaser = leaser
	o.leaseTTL = ttl
}

// SetRecorder forwards every job log entry to recorder
func (o *Orchestrator) SetRecorder(recorder JobRecorder) {
	o.recorder = recorder
}

// SetSchedule replaces the run schedule
func (o *Orchestrator) SetSchedule(s Schedule) {
	o.schedule = s
}

// SetClock overrides the time source of every stage
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
	o.migrator.SetClock(now)
	o.compactor.SetClock(now)
	o.purger.SetClock(now)
}

func (o *Orchestrator) stage(name string) (stageFunc, bool) {
	switch name {
	case StageArchive:
		return o.migrator.ArchiveCompletedFlights, true
	case StageWarm:
		return o.compactor.MoveToWarm, true
	case StageCold:
		return o.compactor.DownsampleToCold, true
	case StagePurge:
		return o.purger.PurgeOldData, true
	default:
		return nil, false
	}
}

// RunOnce loads the config and runs every stage in order. A fatal stage
// error aborts the run before later stages start.
func (o *Orchestrator) RunOnce(ctx context.Context) (RunSummary, error) {
	summary := RunSummary{StartedAt: o.now().UTC()}

	cfg, err := o.configs.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load archive config: %w", err)
	}

	for _, name := range Stages {
		result, err := o.runStage(ctx, name, cfg)
		summary.Results = append(summary.Results, result)
		if err != nil {
			summary.Duration = o.now().Sub(summary.StartedAt)
			return summary, fmt.Errorf("stage %s aborted: %w", name, err)
		}
	}

	summary.Duration = o.now().Sub(summary.StartedAt)
	log.Printf("Archive run complete: %s rows across %d stages in %s",
		humanize.Comma(summary.Rows()), len(summary.Results), summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// RunStage runs a single stage on demand with freshly loaded config
func (o *Orchestrator) RunStage(ctx context.Context, name string) (JobResult, error) {
	if _, ok := o.stage(name); !ok {
		return JobResult{Stage: name}, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	cfg, err := o.configs.Load(ctx)
	if err != nil {
		return JobResult{Stage: name}, fmt.Errorf("failed to load archive config: %w", err)
	}
	return o.runStage(ctx, name, cfg)
}

func (o *Orchestrator) runStage(ctx context.Context, name string, cfg config.ArchiveConfig) (JobResult, error) {
	fn, ok := o.stage(name)
	if !ok {
		return JobResult{Stage: name}, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	start := o.now().UTC()

	if o.leaser != nil {
		release, err := o.leaser.Acquire(ctx, "archive:"+name, o.leaseTTL)
		if errors.Is(err, ErrLeaseHeld) {
			result := JobResult{Stage: name, Held: true}
			log.Printf("Stage %s skipped: lease held by another worker", name)
			o.record(ctx, types.ArchiveLogEntry{
				JobName: name, RunTime: start, Status: result.Status(), Detail: result.Detail(),
			})
			return result, nil
		}
		if err != nil {
			return JobResult{Stage: name}, fmt.Errorf("failed to acquire lease: %w", err)
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				log.Printf("Warning: Failed to release lease for %s: %v", name, err)
			}
		}()
	}

	result, err := fn(ctx, cfg)
	result.Stage = name
	result.Duration = o.now().UTC().Sub(start)

	entry := types.ArchiveLogEntry{
		JobName:      name,
		RunTime:      start,
		RowsAffected: result.Rows,
		Status:       result.Status(),
		Detail:       result.Detail(),
	}
	if err != nil {
		entry.Status = types.StatusFailed
		entry.Detail = fmt.Sprintf("aborted: %v; %s", err, entry.Detail)
		log.Printf("Stage %s aborted after %d chunks: %v", name, result.Processed, err)
	} else {
		log.Printf("Stage %s %s: %s rows, %d/%d chunks, %d failed",
			name, entry.Status, humanize.Comma(result.Rows), result.Processed, result.Selected, result.Failed)
	}
	o.record(ctx, entry)

	return result, err
}

// record appends entry to archive_log and forwards it; failures are only logged
func (o *Orchestrator) record(ctx context.Context, entry types.ArchiveLogEntry) {
	if err := o.logs.AppendLog(ctx, entry); err != nil {
		log.Printf("Warning: Failed to write archive log for %s: %v", entry.JobName, err)
	}
	if o.recorder != nil {
		if err := o.recorder.RecordJobRun(ctx, entry); err != nil {
			log.Printf("Warning: Failed to record job run for %s: %v", entry.JobName, err)
		}
	}
}

// Run executes the pipeline on the schedule until ctx is done. afterRun, if
// not nil, is called after every run that completed without a fatal error.
func (o *Orchestrator) Run(ctx context.Context, afterRun func(context.Context, RunSummary)) error {
	for {
		summary, err := o.RunOnce(ctx)
		if err != nil {
			log.Printf("Archive run failed: %v", err)
		} else if afterRun != nil {
			afterRun(ctx, summary)
		}

		wait := o.schedule.Next(o.now())
		log.Printf("Next archive run in %s at %s UTC", wait, o.now().UTC().Add(wait).Format("2006-01-02 15:04:05"))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
