package redis

import (
	"context"
	"fmt"
)

// PortfolioCache invalidates cached per-user portfolio snapshots after a
// trade mutates the underlying position rows. Snapshot rendering itself
// lives outside this service; only the invalidation hook is needed here.
type PortfolioCache struct {
	c *Client
}

// NewPortfolioCache creates a PortfolioCache backed by the given Client.
func NewPortfolioCache(c *Client) *PortfolioCache {
	return &PortfolioCache{c: c}
}

func portfolioKey(userID string) string {
	return "portfolio:" + userID
}

// Invalidate drops the user's cached portfolio snapshot, if any.
func (pc *PortfolioCache) Invalidate(ctx context.Context, userID string) error {
	if err := pc.c.Underlying().Del(ctx, portfolioKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate portfolio %s: %w", userID, err)
	}
	return nil
}
