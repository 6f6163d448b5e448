package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/duskcourt/loupgarou-engine/internal/engine"
)

// Cache is a secondary copy of each game's last committed snapshot in
// Redis (§4.3): the per-game actor is the single writer, and
// GetSnapshot lets a presentation adapter read that copy without
// round-tripping through the game's mailbox. No read path in this
// repository consults it: Registry.Snapshot always reads the actor.
// Cache is an optimization, never a source of truth.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{
		rdb: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl: ttl,
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

func snapshotKey(gameID string) string {
	return "game:snapshot:" + gameID
}

// PutSnapshot publishes the latest committed Game state, keyed by
// gameID, for GetSnapshot lookups. Called by the game actor after every
// successful commit that leaves the game short of ENDED (§4.5 step 6).
func (c *Cache) PutSnapshot(ctx context.Context, gameID string, game engine.Game) error {
	b, err := json.Marshal(game)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, snapshotKey(gameID), b, c.ttl).Err()
}

// GetSnapshot returns the cached Game, or (Game{}, false, nil) on a
// clean miss. A Redis error is returned so the caller can decide to
// fall back to the authoritative actor rather than serve stale data.
func (c *Cache) GetSnapshot(ctx context.Context, gameID string) (engine.Game, bool, error) {
	raw, err := c.rdb.Get(ctx, snapshotKey(gameID)).Bytes()
	if err == redis.Nil {
		return engine.Game{}, false, nil
	}
	if err != nil {
		return engine.Game{}, false, err
	}
	var g engine.Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return engine.Game{}, false, err
	}
	return g, true, nil
}

// Invalidate drops the cached snapshot, used by the game actor when a
// commit leaves the game in the ENDED phase.
func (c *Cache) Invalidate(ctx context.Context, gameID string) error {
	return c.rdb.Del(ctx, snapshotKey(gameID)).Err()
}
