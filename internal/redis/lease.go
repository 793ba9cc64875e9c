package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saviobatista/sbs-archive/internal/archive"
)

const leasePrefix = "lease:"

// releaseScript deletes the lease only if it still belongs to the caller,
// so an expired lease re-acquired by another worker is left alone
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

func newOwnerID() string {
	return uuid.NewString()
}

// Acquire takes the named lease for ttl. It returns archive.ErrLeaseHeld
// when another worker holds it.
func (c *Client) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := leasePrefix + name
	owner := c.newID()

	ok, err := c.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("lease %s: %w", name, archive.ErrLeaseHeld)
	}

	release := func(ctx context.Context) error {
		if err := c.client.Eval(ctx, releaseScript, []string{key}, owner).Err(); err != nil {
			return fmt.Errorf("failed to release lease %s: %w", name, err)
		}
		return nil
	}
	return release, nil
}
