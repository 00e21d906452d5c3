package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"richtext-ot/internal/tree"
)

const (
	keySnapshotFmt = "richtext:doc:{%s}:snapshot" // String<cachedSnapshot JSON>
	keyCursorsFmt  = "richtext:doc:{%s}:cursors"  // Hash<clientID -> offset>
)

func snapshotKey(docID string) string { return fmt.Sprintf(keySnapshotFmt, docID) }
func cursorsKey(docID string) string  { return fmt.Sprintf(keyCursorsFmt, docID) }

type cachedSnapshot struct {
	Version int             `json:"version"`
	Doc     json.RawMessage `json:"doc"`
}

// RedisCache keeps the latest snapshot and the cursor positions of every
// document in Redis. Entries expire after ttl without writes.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a cache on a connected client. A zero ttl keeps
// entries forever.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// Save caches doc as the latest snapshot of docID.
func (c *RedisCache) Save(ctx context.Context, docID string, version int, doc *tree.Node) error {
	data, err := tree.Serialize(doc)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(cachedSnapshot{Version: version, Doc: data})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return c.rdb.Set(ctx, snapshotKey(docID), payload, c.ttl).Err()
}

// Latest returns the cached snapshot of docID.
func (c *RedisCache) Latest(ctx context.Context, docID string) (*tree.Node, int, error) {
	payload, err := c.rdb.Get(ctx, snapshotKey(docID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}

	var snap cachedSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	doc, err := tree.Deserialize(snap.Doc)
	if err != nil {
		return nil, 0, err
	}
	return doc, snap.Version, nil
}

// SetCursor records a client's caret position.
func (c *RedisCache) SetCursor(ctx context.Context, docID, clientID string, pos int) error {
	tx := c.rdb.TxPipeline()
	tx.HSet(ctx, cursorsKey(docID), clientID, pos)
	if c.ttl > 0 {
		tx.Expire(ctx, cursorsKey(docID), c.ttl)
	}
	_, err := tx.Exec(ctx)
	return err
}

// RemoveCursor forgets a client's caret.
func (c *RedisCache) RemoveCursor(ctx context.Context, docID, clientID string) error {
	return c.rdb.HDel(ctx, cursorsKey(docID), clientID).Err()
}

// Cursors returns every recorded caret of docID.
func (c *RedisCache) Cursors(ctx context.Context, docID string) (map[string]int, error) {
	raw, err := c.rdb.HGetAll(ctx, cursorsKey(docID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(raw))
	for clientID, v := range raw {
		pos, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor for %s: %w", clientID, err)
		}
		out[clientID] = pos
	}
	return out, nil
}
