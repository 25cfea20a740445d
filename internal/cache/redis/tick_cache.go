package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solscope/papertrade/internal/domain"
)

// setIfNewerLua stores a JSON tick only when its observedAtMs is greater
// than the currently cached tick's, so reordered writes never regress the
// cache. Returns 1 when the write happened.
const setIfNewerLua = `
local cur = redis.call('GET', KEYS[1])
if cur then
    local curTs = cjson.decode(cur)['observedAtMs']
    local newTs = cjson.decode(ARGV[1])['observedAtMs']
    if newTs <= curTs then
        return 0
    end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`

// TickCache implements domain.TickCache on Redis. Each asset's latest tick
// is stored as JSON at key "price:<assetID>" with a short TTL; the JSON is
// the same payload published on the prices channel.
type TickCache struct {
	rdb        *redis.Client
	ttl        time.Duration
	setIfNewer *redis.Script
}

// NewTickCache creates a TickCache backed by the given Client with the
// given key TTL.
func NewTickCache(c *Client, ttl time.Duration) *TickCache {
	return &TickCache{
		rdb:        c.Underlying(),
		ttl:        ttl,
		setIfNewer: redis.NewScript(setIfNewerLua),
	}
}

func tickKey(assetID string) string {
	return "price:" + assetID
}

// Get retrieves the cached tick for an asset. It returns domain.ErrNotFound
// when the key does not exist or has expired.
func (tc *TickCache) Get(ctx context.Context, assetID string) (domain.PriceTick, error) {
	raw, err := tc.rdb.Get(ctx, tickKey(assetID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PriceTick{}, domain.ErrNotFound
		}
		return domain.PriceTick{}, fmt.Errorf("redis: get tick %s: %w", assetID, err)
	}

	var tick domain.PriceTick
	if err := json.Unmarshal(raw, &tick); err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: decode tick %s: %w", assetID, err)
	}
	return tick, nil
}

// Set stores the tick unless a newer one is already cached. It reports
// whether the tick was accepted.
func (tc *TickCache) Set(ctx context.Context, tick domain.PriceTick) (bool, error) {
	payload, err := json.Marshal(tick)
	if err != nil {
		return false, fmt.Errorf("redis: encode tick %s: %w", tick.AssetID, err)
	}

	n, err := tc.setIfNewer.Run(ctx, tc.rdb,
		[]string{tickKey(tick.AssetID)},
		payload, tc.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: set tick %s: %w", tick.AssetID, err)
	}
	return n == 1, nil
}

// Compile-time interface check.
var _ domain.TickCache = (*TickCache)(nil)
