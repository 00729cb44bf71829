package coordination

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

// Handler receives a published payload. Handlers run on the client's worker
// pool; a handler that blocks indefinitely will eventually exhaust the pool.
type Handler func(ctx context.Context, payload []byte)

// Topic is a pub/sub channel in the shared store.
type Topic struct {
	c    *Client
	name string
}

// Name returns the topic name.
func (t *Topic) Name() string {
	return t.name
}

// Publish sends payload to all current subscribers and returns how many
// received it.
func (t *Topic) Publish(ctx context.Context, payload []byte) (int64, error) {
	n, err := t.c.rdb.Publish(ctx, t.name, payload).Result()
	if err != nil {
		return 0, util.NewCoordinationError("publish", t.name, err)
	}
	return n, nil
}

// Subscription is an active topic subscription. Close unsubscribes and stops
// delivery; messages already handed to the worker pool still complete.
type Subscription struct {
	topic *Topic
	ps    *redis.PubSub
	done  chan struct{}
}

// Close terminates the subscription.
func (s *Subscription) Close() error {
	err := s.ps.Close()
	<-s.done
	return err
}

// Subscribe registers h for every message published to the topic. The
// subscription is confirmed with the store before Subscribe returns, so a
// Publish issued afterwards is counted against it.
func (t *Topic) Subscribe(ctx context.Context, h Handler) (*Subscription, error) {
	ps := t.c.rdb.Subscribe(ctx, t.name)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, util.NewCoordinationError("subscribe", t.name, err)
	}

	sub := &Subscription{topic: t, ps: ps, done: make(chan struct{})}
	ch := ps.Channel()
	go func() {
		defer close(sub.done)
		for msg := range ch {
			payload := []byte(msg.Payload)
			t.c.submit(func() {
				h(context.Background(), payload)
			})
		}
	}()
	return sub, nil
}
