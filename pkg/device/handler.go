package device

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/coordination"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/message"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

// HandlerFunc consumes one inbound command on the gateway.
type HandlerFunc func(ctx context.Context, msg message.DeviceMessage)

// HandlerOptions tune the gateway-side handler.
type HandlerOptions struct {
	// ReplyTTL is the reply bucket's lifetime. It must be at least the
	// senders' await window plus padding so a slow waiter still finds the
	// value.
	ReplyTTL time.Duration
	// QueueSize bounds each device's pending-message queue.
	QueueSize int
}

func (o *HandlerOptions) normalize() {
	if o.ReplyTTL <= 0 {
		d := DefaultOptions()
		o.ReplyTTL = d.MaxAwait + d.ReplyTTLPadding
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 16
	}
}

// MessageHandler is the gateway side of the rendezvous. It consumes the
// node's accept topic, dispatches commands to per-device handlers
// (serialized per device, concurrent across devices), answers liveness
// probes, and publishes replies that unblock waiting senders.
type MessageHandler struct {
	store    *coordination.Client
	serverID string
	opts     HandlerOptions

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	queues   map[string]chan message.DeviceMessage
	sub      *coordination.Subscription
	aliveSub *coordination.Subscription
	done     chan struct{}
	closed   bool
}

// NewMessageHandler creates a handler for this node's server id. Nothing is
// subscribed until the first HandleMessage call.
func NewMessageHandler(store *coordination.Client, serverID string, opts HandlerOptions) *MessageHandler {
	opts.normalize()
	return &MessageHandler{
		store:    store,
		serverID: serverID,
		opts:     opts,
		handlers: map[string]HandlerFunc{},
		queues:   map[string]chan message.DeviceMessage{},
		done:     make(chan struct{}),
	}
}

// ServerID returns the gateway's server id.
func (h *MessageHandler) ServerID() string {
	return h.serverID
}

// HandleMessage registers a consumer for one device's inbound commands. The
// first registration subscribes the node to its accept and liveness topics.
// Delivery is serialized per device and concurrent across devices.
func (h *MessageHandler) HandleMessage(ctx context.Context, deviceID string, fn HandlerFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sub == nil {
		sub, err := h.store.Topic(acceptTopic(h.serverID)).Subscribe(ctx, h.dispatch)
		if err != nil {
			return err
		}
		aliveSub, err := h.store.Topic(aliveTopic(h.serverID)).Subscribe(ctx, h.answerProbe)
		if err != nil {
			sub.Close()
			return err
		}
		h.sub = sub
		h.aliveSub = aliveSub
		util.WithServer(h.serverID).Info("gateway message handler subscribed")
	}

	h.handlers[deviceID] = fn
	return nil
}

// Close unsubscribes and stops all per-device dispatch loops.
func (h *MessageHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	close(h.done)
	var err error
	if h.sub != nil {
		err = h.sub.Close()
	}
	if h.aliveSub != nil {
		if cerr := h.aliveSub.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// dispatch routes one accept-topic payload to its device's queue.
func (h *MessageHandler) dispatch(ctx context.Context, payload []byte) {
	msg, err := message.Decode(payload)
	if err != nil {
		util.WithServer(h.serverID).Warnf("dropping undecodable message: %v", err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if _, ok := h.handlers[msg.DeviceID()]; !ok {
		h.mu.Unlock()
		util.WithServer(h.serverID).WithField("device", msg.DeviceID()).
			Debug("no handler registered for device, ignoring")
		return
	}
	q, ok := h.queues[msg.DeviceID()]
	if !ok {
		q = make(chan message.DeviceMessage, h.opts.QueueSize)
		h.queues[msg.DeviceID()] = q
		go h.drain(msg.DeviceID(), q)
	}
	h.mu.Unlock()

	select {
	case q <- msg:
	case <-h.done:
	case <-ctx.Done():
	}
}

// drain delivers one device's messages in order.
func (h *MessageHandler) drain(deviceID string, q <-chan message.DeviceMessage) {
	for {
		select {
		case msg := <-q:
			h.mu.Lock()
			fn := h.handlers[deviceID]
			h.mu.Unlock()
			if fn == nil {
				continue
			}
			fn(context.Background(), msg)
		case <-h.done:
			return
		}
	}
}

// answerProbe responds to a liveness ping from a state checker.
func (h *MessageHandler) answerProbe(ctx context.Context, payload []byte) {
	var ping alivePing
	if err := json.Unmarshal(payload, &ping); err != nil || ping.ReplyTo == "" {
		return
	}
	pong, err := json.Marshal(alivePong{ServerID: h.serverID})
	if err != nil {
		return
	}
	if _, err := h.store.Topic(ping.ReplyTo).Publish(ctx, pong); err != nil {
		util.WithServer(h.serverID).Debugf("liveness pong publish failed: %v", err)
	}
}

// Reply stores the reply bucket and releases one permit on the message's
// reply semaphore, in that order, so a waiter that acquires the semaphore
// always observes the value. Both steps run even if the waiter already
// timed out; the bucket's TTL reclaims unread replies.
func (h *MessageHandler) Reply(ctx context.Context, reply message.ReplyMessage) error {
	payload, err := message.Encode(reply)
	if err != nil {
		return err
	}
	if err := h.store.Bucket(replyBucketKey(reply.MessageID())).Set(ctx, string(payload), h.opts.ReplyTTL); err != nil {
		return err
	}
	return h.store.Semaphore(replySemKey(reply.MessageID())).Release(ctx, 1)
}

// MarkMessageAsync releases the reply semaphore without writing a bucket,
// so the sender of a fire-and-forget message is not held for the full
// await window.
func (h *MessageHandler) MarkMessageAsync(ctx context.Context, messageID string) error {
	return h.store.Semaphore(replySemKey(messageID)).Release(ctx, 1)
}
