package redis

import (
	"context"
	"time"

	"github.com/saviobatista/sbs-archive/internal/types"
)

const trackPrefix = "track:"

// StoreTrack caches a track result for ttl
func (c *Client) StoreTrack(ctx context.Context, key string, result *types.TrackResult, ttl time.Duration) error {
	return c.setData(ctx, trackPrefix+key, result, ttl, "track")
}

// GetTrack returns a cached track result, or nil on a miss
func (c *Client) GetTrack(ctx context.Context, key string) (*types.TrackResult, error) {
	var result types.TrackResult
	found, err := c.getData(ctx, trackPrefix+key, &result, "track")
	if err != nil || !found {
		return nil, err
	}
	return &result, nil
}
