package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cursorKey = "catalog:cursor"

// ChangeCursor tracks the instant of the last catalog mutation in Redis so
// clients can detect staleness without re-fetching full listings.
type ChangeCursor struct {
	client *redis.Client
	logger *slog.Logger
}

// NewChangeCursor constructs a ChangeCursor.
func NewChangeCursor(client *redis.Client, logger *slog.Logger) *ChangeCursor {
	return &ChangeCursor{client: client, logger: logger}
}

// Touch records t as the latest mutation instant. Best effort: failures are
// logged and swallowed so a Redis outage never blocks a commit.
func (c *ChangeCursor) Touch(ctx context.Context, t time.Time) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Set(ctx, cursorKey, t.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		c.logger.Warn("catalog cursor touch", slog.Any("error", err))
	}
}

// Current returns the last mutation instant, or the zero time when no
// mutation has been recorded yet.
func (c *ChangeCursor) Current(ctx context.Context) (time.Time, error) {
	if c == nil || c.client == nil {
		return time.Time{}, nil
	}
	raw, err := c.client.Get(ctx, cursorKey).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}
