// Package coordination wraps the shared Redis store with the primitives the
// registry is built on: pub/sub topics, TTL'd value buckets, distributed
// counting semaphores, and hash maps.
//
// All round trips take a context and surface store failures wrapped in
// util.ErrCoordination so callers can distinguish transport problems from
// domain outcomes.
package coordination

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

// DefaultWorkers is the default size of the subscription delivery pool.
const DefaultWorkers = 32

// Client wraps a Redis connection and a bounded worker pool used to deliver
// subscription messages without letting a slow handler stall the pub/sub
// reader.
type Client struct {
	rdb     *redis.Client
	workers chan struct{}
}

// NewClient connects to Redis with the given options.
func NewClient(opts *redis.Options) *Client {
	return Wrap(redis.NewClient(opts))
}

// Wrap builds a Client around an existing Redis connection. Closing the
// returned Client closes the connection.
func Wrap(rdb *redis.Client) *Client {
	return &Client{
		rdb:     rdb,
		workers: make(chan struct{}, DefaultWorkers),
	}
}

// Ping tests the connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return util.NewCoordinationError("ping", "", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Redis exposes the underlying connection for callers that need raw access
// (tests, the CLI's key scans).
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Topic returns a handle on a pub/sub topic.
func (c *Client) Topic(name string) *Topic {
	return &Topic{c: c, name: name}
}

// Bucket returns a handle on a single-value key.
func (c *Client) Bucket(key string) *Bucket {
	return &Bucket{c: c, key: key}
}

// Semaphore returns a handle on a distributed counting semaphore.
func (c *Client) Semaphore(key string) *Semaphore {
	return &Semaphore{c: c, key: key}
}

// HashMap returns a handle on a hash key.
func (c *Client) HashMap(key string) *HashMap {
	return &HashMap{c: c, key: key}
}

// submit runs fn on the delivery pool, blocking while all workers are busy.
func (c *Client) submit(fn func()) {
	c.workers <- struct{}{}
	go func() {
		defer func() { <-c.workers }()
		fn()
	}()
}
