package db

import (
	"context"
	"fmt"

	"github.com/saviobatista/sbs-archive/internal/config"
)

// ConfigStore reads and writes archive thresholds in the archive_config table
type ConfigStore struct {
	c *Client
}

// NewConfigStore creates a config store on the client's connection
func NewConfigStore(c *Client) *ConfigStore {
	return &ConfigStore{c: c}
}

// Values returns the raw key/value rows
func (s *ConfigStore) Values(ctx context.Context) (map[string]string, error) {
	rows, err := s.c.db.QueryContext(ctx, `SELECT key, value FROM archive_config`)
	if err != nil {
		return nil, storeErr("read archive config", err)
	}
	defer closeRows(rows)

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, storeErr("scan archive config", err)
		}
		values[k] = v
	}
	return values, storeErr("read archive config", rows.Err())
}

// Load overlays the stored values on the defaults and validates the result
func (s *ConfigStore) Load(ctx context.Context) (config.ArchiveConfig, error) {
	values, err := s.Values(ctx)
	if err != nil {
		return config.ArchiveConfig{}, err
	}
	return config.FromValues(values)
}

// Set stores one key after checking the resulting config is still valid
func (s *ConfigStore) Set(ctx context.Context, key, value string) error {
	values, err := s.Values(ctx)
	if err != nil {
		return err
	}
	values[key] = value
	if _, err := config.FromValues(values); err != nil {
		return fmt.Errorf("rejected %s=%s: %w", key, value, err)
	}

	_, err = s.c.db.ExecContext(ctx, `
		INSERT INTO archive_config (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	return storeErr("update archive config", err)
}
