package coordination

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

// pollInterval bounds how long an Acquire waiter can miss a release
// notification before re-checking the permit count.
const pollInterval = 100 * time.Millisecond

// semAcquireScript takes n permits if at least n are available.
// A missing key counts as zero permits.
var semAcquireScript = redis.NewScript(`
local avail = tonumber(redis.call("GET", KEYS[1]) or "0")
local want = tonumber(ARGV[1])
if avail < want then
	return 0
end
redis.call("DECRBY", KEYS[1], want)
return 1
`)

// semReleaseScript returns n permits. A release may land before the waiter
// has created the semaphore (the gateway replied between publish and
// TrySet); the increment creates the key in that case, and the fallback TTL
// keeps a release that lands after the waiter already deleted it from
// leaking the key forever.
var semReleaseScript = redis.NewScript(`
redis.call("INCRBY", KEYS[1], ARGV[1])
if redis.call("TTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 1
`)

// releaseFallbackTTL caps the lifetime of a semaphore key created by a
// release that raced the waiter.
const releaseFallbackTTL = time.Minute

// Semaphore is a distributed counting semaphore. The key holds the number of
// available permits; Release increments it and notifies waiters over a
// companion pub/sub channel.
type Semaphore struct {
	c   *Client
	key string
}

// Key returns the store key.
func (s *Semaphore) Key() string {
	return s.key
}

func (s *Semaphore) notifyChannel() string {
	return s.key + ":notify"
}

// TrySet initializes the semaphore to the given permit count if it does not
// exist yet. Returns true when this call created it.
func (s *Semaphore) TrySet(ctx context.Context, permits int) (bool, error) {
	ok, err := s.c.rdb.SetNX(ctx, s.key, permits, 0).Result()
	if err != nil {
		return false, util.NewCoordinationError("setnx", s.key, err)
	}
	return ok, nil
}

// Expire sets the semaphore's TTL.
func (s *Semaphore) Expire(ctx context.Context, ttl time.Duration) error {
	if err := s.c.rdb.Expire(ctx, s.key, ttl).Err(); err != nil {
		return util.NewCoordinationError("expire", s.key, err)
	}
	return nil
}

// Delete removes the semaphore.
func (s *Semaphore) Delete(ctx context.Context) error {
	if err := s.c.rdb.Del(ctx, s.key).Err(); err != nil {
		return util.NewCoordinationError("delete", s.key, err)
	}
	return nil
}

// Release returns n permits and wakes waiters. Releasing before the waiter
// created the semaphore creates it, so the waiter's acquire finds the
// permits already banked.
func (s *Semaphore) Release(ctx context.Context, n int) error {
	if _, err := semReleaseScript.Run(ctx, s.c.rdb, []string{s.key}, n, releaseFallbackTTL.Milliseconds()).Result(); err != nil {
		return util.NewCoordinationError("release", s.key, err)
	}
	if err := s.c.rdb.Publish(ctx, s.notifyChannel(), strconv.Itoa(n)).Err(); err != nil {
		return util.NewCoordinationError("release-notify", s.key, err)
	}
	return nil
}

// Available returns the current permit count.
func (s *Semaphore) Available(ctx context.Context) (int, error) {
	v, err := s.c.rdb.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, util.NewCoordinationError("get", s.key, err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, util.NewCoordinationError("get", s.key, err)
	}
	return n, nil
}

// Acquire waits up to timeout for n permits and takes them atomically.
// Returns false when the timeout elapses first. The wait is cooperative:
// it listens for release notifications and re-polls as a fallback so a
// missed notification cannot strand the waiter.
func (s *Semaphore) Acquire(ctx context.Context, n int, timeout time.Duration) (bool, error) {
	tryOnce := func() (bool, error) {
		ok, err := semAcquireScript.Run(ctx, s.c.rdb, []string{s.key}, n).Int()
		if err != nil {
			return false, util.NewCoordinationError("acquire", s.key, err)
		}
		return ok == 1, nil
	}

	if ok, err := tryOnce(); err != nil || ok {
		return ok, err
	}

	ps := s.c.rdb.Subscribe(ctx, s.notifyChannel())
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return false, util.NewCoordinationError("acquire-subscribe", s.key, err)
	}
	// A release may have landed between the first try and the subscribe.
	if ok, err := tryOnce(); err != nil || ok {
		return ok, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	notify := ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-notify:
		case <-poll.C:
		}
		if ok, err := tryOnce(); err != nil || ok {
			return ok, err
		}
	}
}
