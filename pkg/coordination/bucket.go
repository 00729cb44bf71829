package coordination

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

// getDeleteScript atomically reads and removes a key.
// Returns false when the key does not exist.
var getDeleteScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false then
	return false
end
redis.call("DEL", KEYS[1])
return v
`)

// Bucket is a single-value key with optional TTL.
type Bucket struct {
	c   *Client
	key string
}

// Key returns the store key.
func (b *Bucket) Key() string {
	return b.key
}

// Set writes the value. A zero ttl means no expiry.
func (b *Bucket) Set(ctx context.Context, value string, ttl time.Duration) error {
	if err := b.c.rdb.Set(ctx, b.key, value, ttl).Err(); err != nil {
		return util.NewCoordinationError("set", b.key, err)
	}
	return nil
}

// Get reads the value. The second return is false when the key is absent.
func (b *Bucket) Get(ctx context.Context) (string, bool, error) {
	v, err := b.c.rdb.Get(ctx, b.key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, util.NewCoordinationError("get", b.key, err)
	}
	return v, true, nil
}

// GetAndDelete atomically reads and removes the value. The second return is
// false when the key was absent.
func (b *Bucket) GetAndDelete(ctx context.Context) (string, bool, error) {
	v, err := getDeleteScript.Run(ctx, b.c.rdb, []string{b.key}).Text()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, util.NewCoordinationError("get-and-delete", b.key, err)
	}
	return v, true, nil
}

// Delete removes the key.
func (b *Bucket) Delete(ctx context.Context) error {
	if err := b.c.rdb.Del(ctx, b.key).Err(); err != nil {
		return util.NewCoordinationError("delete", b.key, err)
	}
	return nil
}

// Exists reports whether the key is present.
func (b *Bucket) Exists(ctx context.Context) (bool, error) {
	n, err := b.c.rdb.Exists(ctx, b.key).Result()
	if err != nil {
		return false, util.NewCoordinationError("exists", b.key, err)
	}
	return n > 0, nil
}
