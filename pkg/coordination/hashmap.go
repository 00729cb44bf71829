package coordination

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

// hashRemoveScript removes a field and returns its prior value, or false if
// the field was absent.
var hashRemoveScript = redis.NewScript(`
local v = redis.call("HGET", KEYS[1], ARGV[1])
if v == false then
	return false
end
redis.call("HDEL", KEYS[1], ARGV[1])
return v
`)

// HashMap is a hash key whose field values are JSON-encoded, so arbitrary
// scalar and structured values round-trip. Decoded numbers come back as
// float64, per encoding/json.
type HashMap struct {
	c   *Client
	key string
}

// Key returns the store key.
func (h *HashMap) Key() string {
	return h.key
}

// Put writes one field.
func (h *HashMap) Put(ctx context.Context, field string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return util.NewCoordinationError("put", h.key, err)
	}
	if err := h.c.rdb.HSet(ctx, h.key, field, string(data)).Err(); err != nil {
		return util.NewCoordinationError("put", h.key, err)
	}
	return nil
}

// PutAll writes every entry of m. Entries are written one by one; a failure
// leaves earlier entries in place.
func (h *HashMap) PutAll(ctx context.Context, m map[string]interface{}) error {
	for field, value := range m {
		if err := h.Put(ctx, field, value); err != nil {
			return err
		}
	}
	return nil
}

// Get reads one field. The second return is false when the field is absent.
func (h *HashMap) Get(ctx context.Context, field string) (interface{}, bool, error) {
	raw, err := h.c.rdb.HGet(ctx, h.key, field).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, util.NewCoordinationError("get", h.key, err)
	}
	return decodeValue(raw), true, nil
}

// GetFields reads the given fields; absent fields are omitted from the result.
func (h *HashMap) GetFields(ctx context.Context, fields ...string) (map[string]interface{}, error) {
	if len(fields) == 0 {
		return map[string]interface{}{}, nil
	}
	vals, err := h.c.rdb.HMGet(ctx, h.key, fields...).Result()
	if err != nil {
		return nil, util.NewCoordinationError("mget", h.key, err)
	}
	out := make(map[string]interface{}, len(fields))
	for i, v := range vals {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[fields[i]] = decodeValue(s)
		}
	}
	return out, nil
}

// GetAll reads every field.
func (h *HashMap) GetAll(ctx context.Context) (map[string]interface{}, error) {
	vals, err := h.c.rdb.HGetAll(ctx, h.key).Result()
	if err != nil {
		return nil, util.NewCoordinationError("getall", h.key, err)
	}
	out := make(map[string]interface{}, len(vals))
	for field, raw := range vals {
		out[field] = decodeValue(raw)
	}
	return out, nil
}

// Remove deletes a field and returns its prior value. The second return is
// false when the field was absent.
func (h *HashMap) Remove(ctx context.Context, field string) (interface{}, bool, error) {
	raw, err := hashRemoveScript.Run(ctx, h.c.rdb, []string{h.key}, field).Text()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, util.NewCoordinationError("remove", h.key, err)
	}
	return decodeValue(raw), true, nil
}

// Delete removes the whole hash.
func (h *HashMap) Delete(ctx context.Context) error {
	if err := h.c.rdb.Del(ctx, h.key).Err(); err != nil {
		return util.NewCoordinationError("delete", h.key, err)
	}
	return nil
}

// PutRawAll writes plain string fields in a single HSET, without JSON
// encoding. Used for state tuples that must be written atomically and read
// back as strings.
func (h *HashMap) PutRawAll(ctx context.Context, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if err := h.c.rdb.HSet(ctx, h.key, args...).Err(); err != nil {
		return util.NewCoordinationError("put", h.key, err)
	}
	return nil
}

// GetRawAll reads every field as a plain string.
func (h *HashMap) GetRawAll(ctx context.Context) (map[string]string, error) {
	vals, err := h.c.rdb.HGetAll(ctx, h.key).Result()
	if err != nil {
		return nil, util.NewCoordinationError("getall", h.key, err)
	}
	return vals, nil
}

// decodeValue unmarshals a stored JSON value, falling back to the raw string
// for legacy fields that were not written by this package.
func decodeValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
