package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/saviobatista/sbs-archive/internal/types"
)

const (
	// SubjectSnapshot carries live telemetry snapshots into ingest
	SubjectSnapshot = "telemetry.snapshot"
	// SubjectJobRuns carries a copy of every archive_log entry
	SubjectJobRuns = "archive.jobs"

	StreamTelemetry = "TELEMETRY"
	StreamJobRuns   = "ARCHIVE_JOBS"

	// ingestDurable lets a restarted ingest resume where it stopped
	ingestDurable = "archive-ingest"

	defaultRedeliveryDelay = 5 * time.Second
)

// Client represents a NATS client
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext

	redeliveryDelay time.Duration
}

// New creates a new NATS client and makes sure both streams exist
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	streams := []*nats.StreamConfig{
		{
			Name:     StreamTelemetry,
			Subjects: []string{SubjectSnapshot},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
		},
		{
			Name:     StreamJobRuns,
			Subjects: []string{SubjectJobRuns},
			Storage:  nats.FileStorage,
			MaxAge:   7 * 24 * time.Hour,
		},
	}
	for _, cfg := range streams {
		if err := ensureStream(js, cfg); err != nil {
			nc.Close()
			return nil, err
		}
	}

	return &Client{
		conn:            nc,
		js:              js,
		redeliveryDelay: defaultRedeliveryDelay,
	}, nil
}

func ensureStream(js nats.JetStreamContext, cfg *nats.StreamConfig) error {
	_, err := js.AddStream(cfg)
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
	}
	return nil
}

func (c *Client) publish(subject string, v interface{}) error {
	if c.js == nil {
		return fmt.Errorf("NATS client is not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := c.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishSnapshot publishes a telemetry snapshot
func (c *Client) PublishSnapshot(snap *types.Snapshot) error {
	return c.publish(SubjectSnapshot, snap)
}

// SubscribeSnapshots delivers snapshots to handler on a durable consumer.
// A message is acked once handler returns nil and redelivered after a delay
// when it returns an error. Messages that do not decode are terminated.
func (c *Client) SubscribeSnapshots(handler func(*types.Snapshot) error) (*nats.Subscription, error) {
	if c.js == nil {
		return nil, fmt.Errorf("NATS client is not connected")
	}
	sub, err := c.js.Subscribe(SubjectSnapshot, func(msg *nats.Msg) {
		var snap types.Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			log.Printf("Error unmarshaling snapshot: %v", err)
			if terr := msg.Term(); terr != nil {
				log.Printf("Warning: failed to terminate snapshot: %v", terr)
			}
			return
		}
		if err := handler(&snap); err != nil {
			if nerr := msg.NakWithDelay(c.redeliveryDelay); nerr != nil {
				log.Printf("Warning: failed to nak snapshot: %v", nerr)
			}
			return
		}
		if err := msg.Ack(); err != nil {
			log.Printf("Warning: failed to ack snapshot: %v", err)
		}
	}, nats.Durable(ingestDurable), nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return sub, nil
}

// RecordJobRun publishes a job log entry
func (c *Client) RecordJobRun(ctx context.Context, entry types.ArchiveLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.publish(SubjectJobRuns, entry)
}

// SubscribeJobRuns delivers job log entries published from now on
func (c *Client) SubscribeJobRuns(handler func(*types.ArchiveLogEntry)) (*nats.Subscription, error) {
	if c.js == nil {
		return nil, fmt.Errorf("NATS client is not connected")
	}
	sub, err := c.js.Subscribe(SubjectJobRuns, func(msg *nats.Msg) {
		var entry types.ArchiveLogEntry
		if err := json.Unmarshal(msg.Data, &entry); err != nil {
			log.Printf("Error unmarshaling job run: %v", err)
			return
		}
		handler(&entry)
	}, nats.DeliverNew())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return sub, nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
