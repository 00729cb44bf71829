package device

import (
	"context"
	"fmt"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/coordination"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

// ConfigStore is a per-entity key/value configuration map. Device-scoped
// stores resolve a parent (product) scope lazily; reads fall back to the
// parent key-by-key, with device values shadowing product values. Writes
// always target the store's own scope.
type ConfigStore struct {
	store  *coordination.Client
	key    string
	parent func(ctx context.Context) (*ConfigStore, error)
}

// Key returns the backing store key.
func (c *ConfigStore) Key() string {
	return c.key
}

// Put writes one value. Nil values are rejected.
func (c *ConfigStore) Put(ctx context.Context, key string, value interface{}) error {
	if value == nil {
		return fmt.Errorf("%w: config value for %q must not be nil", util.ErrIllegalArgument, key)
	}
	return c.store.HashMap(c.key).Put(ctx, key, value)
}

// PutAll writes every entry of m. A nil or empty map is a no-op. Entries
// are written one by one, not atomically; a nil value aborts the remaining
// writes but leaves earlier ones in place.
func (c *ConfigStore) PutAll(ctx context.Context, m map[string]interface{}) error {
	if len(m) == 0 {
		return nil
	}
	for key, value := range m {
		if err := c.Put(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Get reads one value, falling back to the parent scope when the key is not
// set in this scope. The value is never a mix of scopes.
func (c *ConfigStore) Get(ctx context.Context, key string) (interface{}, bool, error) {
	v, found, err := c.store.HashMap(c.key).Get(ctx, key)
	if err != nil || found {
		return v, found, err
	}
	parent, err := c.parentStore(ctx)
	if err != nil || parent == nil {
		return nil, false, err
	}
	return parent.store.HashMap(parent.key).Get(ctx, key)
}

// GetAll reads configuration values. With keys it composes the named keys
// from both scopes; without arguments it returns the full merged snapshot.
// In both forms this scope shadows the parent.
func (c *ConfigStore) GetAll(ctx context.Context, keys ...string) (map[string]interface{}, error) {
	var own, inherited map[string]interface{}
	var err error

	if len(keys) == 0 {
		own, err = c.store.HashMap(c.key).GetAll(ctx)
	} else {
		own, err = c.store.HashMap(c.key).GetFields(ctx, keys...)
	}
	if err != nil {
		return nil, err
	}

	parent, err := c.parentStore(ctx)
	if err != nil {
		return nil, err
	}
	if parent != nil {
		if len(keys) == 0 {
			inherited, err = parent.store.HashMap(parent.key).GetAll(ctx)
		} else {
			inherited, err = parent.store.HashMap(parent.key).GetFields(ctx, keys...)
		}
		if err != nil {
			return nil, err
		}
	}

	out := make(map[string]interface{}, len(own)+len(inherited))
	for k, v := range inherited {
		out[k] = v
	}
	for k, v := range own {
		out[k] = v
	}
	return out, nil
}

// Remove deletes a key from this scope and returns its prior value. The
// parent scope is never touched.
func (c *ConfigStore) Remove(ctx context.Context, key string) (interface{}, bool, error) {
	return c.store.HashMap(c.key).Remove(ctx, key)
}

// Clear drops every key in this scope.
func (c *ConfigStore) Clear(ctx context.Context) error {
	return c.store.HashMap(c.key).Delete(ctx)
}

func (c *ConfigStore) parentStore(ctx context.Context) (*ConfigStore, error) {
	if c.parent == nil {
		return nil, nil
	}
	return c.parent(ctx)
}
