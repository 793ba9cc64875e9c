package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saviobatista/sbs-archive/internal/archive"
	"github.com/saviobatista/sbs-archive/internal/config"
	"github.com/saviobatista/sbs-archive/internal/db"
	"github.com/saviobatista/sbs-archive/internal/memstore"
	"github.com/saviobatista/sbs-archive/internal/nats"
	"github.com/saviobatista/sbs-archive/internal/stats"
	"github.com/saviobatista/sbs-archive/internal/testutils"
	"github.com/saviobatista/sbs-archive/internal/types"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type mockSource struct {
	handler func(*types.Snapshot) error
	err     error
}

func (m *mockSource) SubscribeSnapshots(handler func(*types.Snapshot) error) (*natsgo.Subscription, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.handler = handler
	return &natsgo.Subscription{}, nil
}

// flakyStore fails AppendPoint with err for the first failures calls
type flakyStore struct {
	*memstore.Store

	mu       sync.Mutex
	failures int
	err      error
}

func (f *flakyStore) AppendPoint(ctx context.Context, point types.TrajectoryPoint) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return f.err
	}
	f.mu.Unlock()
	return f.Store.AppendPoint(ctx, point)
}

type failingConfigs struct{}

func (failingConfigs) Load(ctx context.Context) (config.ArchiveConfig, error) {
	return config.ArchiveConfig{}, errors.New("config table missing")
}

func newTestIngestor(t *testing.T, store archive.IngestStore) (*Ingestor, *stats.Stats) {
	t.Helper()
	st := stats.New()
	ingestor, err := setupIngestor(context.Background(), config.StaticStore{Config: config.DefaultArchiveConfig()}, store, st)
	if err != nil {
		t.Fatalf("setupIngestor() failed: %v", err)
	}
	return ingestor, st
}

func TestIngestor_Handle(t *testing.T) {
	tests := []struct {
		name         string
		snapshots    []types.Snapshot
		wantCores    int
		wantPoints   int
		wantRejected uint64
	}{
		{
			name:       "single flight",
			snapshots:  testutils.MockTrack("UAL123", t0, 10*time.Second, 5),
			wantCores:  1,
			wantPoints: 5,
		},
		{
			name: "missing callsign dropped",
			snapshots: []types.Snapshot{
				testutils.MockSnapshot("", t0),
				testutils.MockSnapshot("DAL42", t0),
			},
			wantCores:    1,
			wantPoints:   1,
			wantRejected: 1,
		},
		{
			name: "missing timestamp dropped",
			snapshots: []types.Snapshot{
				testutils.MockSnapshot("DAL42", time.Time{}),
			},
			wantRejected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			ingestor, st := newTestIngestor(t, store)

			for i := range tt.snapshots {
				if err := ingestor.Handle(&tt.snapshots[i]); err != nil {
					t.Fatalf("Handle() returned %v, expected rejected records to be dropped", err)
				}
			}

			if got := store.CoreCount(); got != tt.wantCores {
				t.Errorf("Expected %d flight cores, got %d", tt.wantCores, got)
			}
			points := 0
			for _, uid := range flightUIDs(t, store, tt.snapshots) {
				points += store.PointCount(types.TierHot, uid)
			}
			if points != tt.wantPoints {
				t.Errorf("Expected %d hot points, got %d", tt.wantPoints, points)
			}
			if st.RejectedSnapshots != tt.wantRejected {
				t.Errorf("Expected %d rejected snapshots, got %d", tt.wantRejected, st.RejectedSnapshots)
			}
		})
	}
}

// flightUIDs resolves the session of every distinct callsign in snaps
func flightUIDs(t *testing.T, store *memstore.Store, snaps []types.Snapshot) []string {
	t.Helper()
	seen := make(map[string]bool)
	var uids []string
	for _, s := range snaps {
		if s.Callsign == "" || seen[s.Callsign] {
			continue
		}
		seen[s.Callsign] = true
		ref, err := store.ResolveCallsign(context.Background(), s.Callsign)
		if err != nil {
			t.Fatalf("ResolveCallsign() failed: %v", err)
		}
		if ref != nil {
			uids = append(uids, ref.FlightUID)
		}
	}
	return uids
}

func TestIngestor_Subscribe(t *testing.T) {
	store := memstore.New()
	ingestor, _ := newTestIngestor(t, store)

	source := &mockSource{}
	if _, err := ingestor.Subscribe(source); err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	if source.handler == nil {
		t.Fatal("Expected handler to be registered")
	}

	snap := testutils.MockSnapshot("UAL123", t0)
	if err := source.handler(&snap); err != nil {
		t.Fatalf("handler returned %v", err)
	}
	if store.CoreCount() != 1 {
		t.Errorf("Expected snapshot delivered through the subscription to be stored")
	}

	failing := &mockSource{err: errors.New("no responders")}
	if _, err := ingestor.Subscribe(failing); err == nil {
		t.Error("Expected subscribe error")
	}
}

func TestIngestor_Handle_StoreFailures(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		expectRetry bool
	}{
		{
			name:        "unavailable store asks for redelivery",
			err:         fmt.Errorf("failed to append point: %w", archive.ErrStoreUnavailable),
			expectRetry: true,
		},
		{
			name:        "timeout asks for redelivery",
			err:         fmt.Errorf("failed to append point: %w", context.DeadlineExceeded),
			expectRetry: true,
		},
		{
			name: "statement error is dropped",
			err:  errors.New("value out of range"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &flakyStore{Store: memstore.New(), failures: 1, err: tt.err}
			ingestor, _ := newTestIngestor(t, store)

			snap := testutils.MockSnapshot("UAL123", t0)
			err := ingestor.Handle(&snap)
			if tt.expectRetry && err == nil {
				t.Fatal("Expected an error so the snapshot is redelivered")
			}
			if !tt.expectRetry && err != nil {
				t.Fatalf("Expected the snapshot to be dropped, got %v", err)
			}

			// the redelivered snapshot lands once the store recovers
			if err := ingestor.Handle(&snap); err != nil {
				t.Fatalf("Handle() after recovery failed: %v", err)
			}
			ref, err := store.ResolveCallsign(context.Background(), "UAL123")
			if err != nil || ref == nil {
				t.Fatalf("Expected flight to resolve, got %v, %v", ref, err)
			}
			if got := store.PointCount(types.TierHot, ref.FlightUID); got != 1 {
				t.Errorf("Expected 1 hot point, got %d", got)
			}
		})
	}
}

func TestIngestor_ReloadConfig(t *testing.T) {
	ingestor, _ := newTestIngestor(t, memstore.New())

	changed := config.DefaultArchiveConfig()
	changed.InactivityThreshold = 2 * time.Hour
	if err := ingestor.reloadConfig(context.Background(), config.StaticStore{Config: changed}); err != nil {
		t.Fatalf("reloadConfig() failed: %v", err)
	}
	if got := ingestor.writer.Inactivity(); got != 2*time.Hour {
		t.Errorf("Expected inactivity 2h, got %s", got)
	}

	if err := ingestor.reloadConfig(context.Background(), failingConfigs{}); err == nil {
		t.Error("Expected reload error")
	}
	if got := ingestor.writer.Inactivity(); got != 2*time.Hour {
		t.Errorf("Expected a failed reload to keep 2h, got %s", got)
	}
}

func TestIngestor_WatchConfigStopsOnCancel(t *testing.T) {
	ingestor, _ := newTestIngestor(t, memstore.New())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		ingestor.watchConfig(ctx, failingConfigs{}, time.Millisecond)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watchConfig did not stop after cancel")
	}
}

func TestSetupIngestor_ConfigError(t *testing.T) {
	_, err := setupIngestor(context.Background(), failingConfigs{}, memstore.New(), stats.New())
	if err == nil {
		t.Fatal("Expected error when the archive config cannot load")
	}
}

func TestConfigStore(t *testing.T) {
	client := db.NewWithDB(nil)

	if _, ok := configStore(&config.Config{ArchiveConfigFile: "/etc/archive.yaml"}, client).(*config.FileStore); !ok {
		t.Error("Expected a file store when ARCHIVE_CONFIG_FILE is set")
	}
	if _, ok := configStore(&config.Config{}, client).(*db.ConfigStore); !ok {
		t.Error("Expected the database store by default")
	}
}

func TestIngest_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, err := natscontainer.Run(ctx, "nats:2.9-alpine",
		testcontainers.WithWaitStrategy(wait.ForLog("Server is ready")),
	)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	defer func() {
		if err := natsContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate NATS container: %v", err)
		}
	}()

	natsURL, err := natsContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get NATS connection string: %v", err)
	}
	client, err := nats.New(natsURL)
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	defer client.Close()

	// the first writes fail as during a database outage
	store := &flakyStore{
		Store:    memstore.New(),
		failures: 3,
		err:      fmt.Errorf("failed to append point: %w", archive.ErrStoreUnavailable),
	}
	ingestor, _ := newTestIngestor(t, store)
	sub, err := ingestor.Subscribe(client)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Unsubscribe()

	for _, snap := range testutils.MockTrack("UAL123", t0, 10*time.Second, 20) {
		snap := snap
		if err := client.PublishSnapshot(&snap); err != nil {
			t.Fatalf("PublishSnapshot() failed: %v", err)
		}
	}

	err = testutils.WaitForCondition(func() bool {
		ref, err := store.ResolveCallsign(ctx, "UAL123")
		return err == nil && ref != nil && store.PointCount(types.TierHot, ref.FlightUID) == 20
	}, 30*time.Second)
	if err != nil {
		t.Fatalf("Snapshots were not ingested after redelivery: %v", err)
	}
}
