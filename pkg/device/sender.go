package device

import (
	"context"
	"fmt"
	"time"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/message"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/metadata"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

// MessageSender builds and dispatches commands for one device. It is
// created lazily from the device handle and carries no state of its own.
type MessageSender struct {
	device *DeviceOperation
}

// Device returns the owning device handle.
func (s *MessageSender) Device() *DeviceOperation {
	return s.device
}

// InvokeFunction starts a function-invoke message.
func (s *MessageSender) InvokeFunction(functionID string) *FunctionInvokeBuilder {
	b := &FunctionInvokeBuilder{sender: s}
	b.msg = &message.FunctionInvoke{FunctionID: functionID}
	b.msg.ID = message.NewMessageID()
	b.msg.Device = s.device.id
	b.msg.Time = message.Now()
	return b
}

// ReadProperty starts a read-property message.
func (s *MessageSender) ReadProperty(properties ...string) *ReadPropertyBuilder {
	b := &ReadPropertyBuilder{sender: s}
	b.msg = &message.ReadProperty{Properties: properties}
	b.msg.ID = message.NewMessageID()
	b.msg.Device = s.device.id
	b.msg.Time = message.Now()
	return b
}

// WriteProperty starts a write-property message.
func (s *MessageSender) WriteProperty(properties map[string]interface{}) *WritePropertyBuilder {
	b := &WritePropertyBuilder{sender: s}
	b.msg = &message.WriteProperty{Properties: properties}
	b.msg.ID = message.NewMessageID()
	b.msg.Device = s.device.id
	b.msg.Time = message.Now()
	return b
}

// FunctionInvokeBuilder assembles a function invocation.
type FunctionInvokeBuilder struct {
	sender  *MessageSender
	msg     *message.FunctionInvoke
	timeout time.Duration
}

// MessageID overrides the auto-generated message id.
func (b *FunctionInvokeBuilder) MessageID(id string) *FunctionInvokeBuilder {
	b.msg.ID = id
	return b
}

// Header sets a message header.
func (b *FunctionInvokeBuilder) Header(key string, value interface{}) *FunctionInvokeBuilder {
	b.msg.AddHeader(key, value)
	return b
}

// Custom applies an arbitrary configurator to the message.
func (b *FunctionInvokeBuilder) Custom(fn func(*message.FunctionInvoke)) *FunctionInvokeBuilder {
	fn(b.msg)
	return b
}

// AddInput appends one named input.
func (b *FunctionInvokeBuilder) AddInput(name string, value interface{}) *FunctionInvokeBuilder {
	b.msg.Inputs = append(b.msg.Inputs, message.FunctionParameter{Name: name, Value: value})
	return b
}

// Timeout overrides the registry's default reply wait for this call.
func (b *FunctionInvokeBuilder) Timeout(d time.Duration) *FunctionInvokeBuilder {
	b.timeout = d
	return b
}

// Validate checks the message against the device's function metadata. The
// consumer, when non-nil, receives each input's validation result. Unknown
// functions, arity mismatches, and undeclared parameter names fail before
// any consumer call for that input.
func (b *FunctionInvokeBuilder) Validate(ctx context.Context, consumer func(name string, result metadata.ValidateResult)) error {
	md, err := b.sender.device.GetMetadata(ctx)
	if err != nil {
		return err
	}
	fn, ok := md.Function(b.msg.FunctionID)
	if !ok {
		return util.NewNotFoundError("function", b.msg.FunctionID)
	}
	if len(b.msg.Inputs) != len(fn.Inputs()) {
		return fmt.Errorf("%w: function %s declares %d inputs, got %d",
			util.ErrIllegalArgument, b.msg.FunctionID, len(fn.Inputs()), len(b.msg.Inputs))
	}
	for _, input := range b.msg.Inputs {
		if _, ok := fn.Input(input.Name); !ok {
			return util.NewNotFoundError("parameter", input.Name)
		}
		result := fn.ValidateInput(input.Name, input.Value)
		if consumer != nil {
			consumer(input.Name, result)
		}
	}
	return nil
}

// Send dispatches the message and awaits the device's reply.
func (b *FunctionInvokeBuilder) Send(ctx context.Context) (*message.FunctionInvokeReply, error) {
	reply := &message.FunctionInvokeReply{}
	if err := b.sender.send(ctx, b.msg, reply, b.timeout); err != nil {
		return nil, err
	}
	return reply, nil
}

// RetrieveReply fetches a previously stored reply for this message without
// publishing anything.
func (b *FunctionInvokeBuilder) RetrieveReply(ctx context.Context) (*message.FunctionInvokeReply, error) {
	reply := &message.FunctionInvokeReply{}
	if err := b.sender.retrieveReply(ctx, b.msg, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// ReadPropertyBuilder assembles a property read.
type ReadPropertyBuilder struct {
	sender  *MessageSender
	msg     *message.ReadProperty
	timeout time.Duration
}

// MessageID overrides the auto-generated message id.
func (b *ReadPropertyBuilder) MessageID(id string) *ReadPropertyBuilder {
	b.msg.ID = id
	return b
}

// Header sets a message header.
func (b *ReadPropertyBuilder) Header(key string, value interface{}) *ReadPropertyBuilder {
	b.msg.AddHeader(key, value)
	return b
}

// Custom applies an arbitrary configurator to the message.
func (b *ReadPropertyBuilder) Custom(fn func(*message.ReadProperty)) *ReadPropertyBuilder {
	fn(b.msg)
	return b
}

// Properties appends property names to read.
func (b *ReadPropertyBuilder) Properties(names ...string) *ReadPropertyBuilder {
	b.msg.Properties = append(b.msg.Properties, names...)
	return b
}

// Timeout overrides the registry's default reply wait for this call.
func (b *ReadPropertyBuilder) Timeout(d time.Duration) *ReadPropertyBuilder {
	b.timeout = d
	return b
}

// Send dispatches the message and awaits the device's reply.
func (b *ReadPropertyBuilder) Send(ctx context.Context) (*message.ReadPropertyReply, error) {
	reply := &message.ReadPropertyReply{}
	if err := b.sender.send(ctx, b.msg, reply, b.timeout); err != nil {
		return nil, err
	}
	return reply, nil
}

// RetrieveReply fetches a previously stored reply for this message without
// publishing anything.
func (b *ReadPropertyBuilder) RetrieveReply(ctx context.Context) (*message.ReadPropertyReply, error) {
	reply := &message.ReadPropertyReply{}
	if err := b.sender.retrieveReply(ctx, b.msg, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// WritePropertyBuilder assembles a property write.
type WritePropertyBuilder struct {
	sender  *MessageSender
	msg     *message.WriteProperty
	timeout time.Duration
}

// MessageID overrides the auto-generated message id.
func (b *WritePropertyBuilder) MessageID(id string) *WritePropertyBuilder {
	b.msg.ID = id
	return b
}

// Header sets a message header.
func (b *WritePropertyBuilder) Header(key string, value interface{}) *WritePropertyBuilder {
	b.msg.AddHeader(key, value)
	return b
}

// Custom applies an arbitrary configurator to the message.
func (b *WritePropertyBuilder) Custom(fn func(*message.WriteProperty)) *WritePropertyBuilder {
	fn(b.msg)
	return b
}

// Set adds one property value to write.
func (b *WritePropertyBuilder) Set(name string, value interface{}) *WritePropertyBuilder {
	if b.msg.Properties == nil {
		b.msg.Properties = map[string]interface{}{}
	}
	b.msg.Properties[name] = value
	return b
}

// Timeout overrides the registry's default reply wait for this call.
func (b *WritePropertyBuilder) Timeout(d time.Duration) *WritePropertyBuilder {
	b.timeout = d
	return b
}

// Send dispatches the message and awaits the device's reply.
func (b *WritePropertyBuilder) Send(ctx context.Context) (*message.WritePropertyReply, error) {
	reply := &message.WritePropertyReply{}
	if err := b.sender.send(ctx, b.msg, reply, b.timeout); err != nil {
		return nil, err
	}
	return reply, nil
}

// RetrieveReply fetches a previously stored reply for this message without
// publishing anything.
func (b *WritePropertyBuilder) RetrieveReply(ctx context.Context) (*message.WritePropertyReply, error) {
	reply := &message.WritePropertyReply{}
	if err := b.sender.retrieveReply(ctx, b.msg, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// send is the rendezvous: it publishes the message to the owning gateway's
// accept topic, awaits the reply semaphore, and converts whatever landed in
// the reply bucket. Store failures during the rendezvous become SYSTEM_ERROR
// replies rather than call failures; only context cancellation, interceptor
// failures, message encoding failures, and session-state read errors
// propagate as errors.
func (s *MessageSender) send(ctx context.Context, msg message.DeviceMessage, reply message.ReplyMessage, timeout time.Duration) error {
	d := s.device
	r := d.registry
	if timeout <= 0 {
		timeout = r.opts.MaxAwait
	}
	log := util.WithSend(d.id, msg.MessageID())

	serverID, err := d.GetServerID(ctx)
	if err != nil {
		return err
	}
	if serverID == "" {
		reply.SetError(message.CodeClientOffline)
		reply.From(msg)
		return nil
	}

	chain := r.interceptorChain()
	for _, ic := range chain {
		next, err := ic.PreSend(ctx, d, msg)
		if err != nil {
			return fmt.Errorf("interceptor preSend: %w", err)
		}
		if next != nil {
			msg = next
		}
	}

	payload, err := message.Encode(msg)
	if err != nil {
		return err
	}
	n, err := r.store.Topic(acceptTopic(serverID)).Publish(ctx, payload)
	if err != nil {
		log.Warnf("publish to gateway %s failed: %v", serverID, err)
		reply.SetError(message.CodeSystemError)
		reply.From(msg)
		return nil
	}
	if n == 0 {
		// Stale online record: reconcile in the background and fail fast.
		go func() {
			if _, err := d.CheckState(context.Background()); err != nil {
				log.Debugf("state check failed: %v", err)
			}
		}()
		reply.SetError(message.CodeClientOffline)
		reply.From(msg)
		return nil
	}
	if n > 1 {
		log.Warnf("%d gateways subscribed on %s, all must reply", n, acceptTopic(serverID))
	}

	ttl := timeout + r.opts.ReplyTTLPadding
	sem := r.store.Semaphore(replySemKey(msg.MessageID()))
	if _, err := sem.TrySet(ctx, 0); err != nil {
		log.Warnf("reply semaphore init failed: %v", err)
		reply.SetError(message.CodeSystemError)
		reply.From(msg)
		return nil
	}
	if err := sem.Expire(ctx, ttl); err != nil {
		log.Debugf("reply semaphore expire failed: %v", err)
	}
	// The semaphore must not outlive the call, acquired or not.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sem.Delete(cleanupCtx); err != nil {
			log.Debugf("reply semaphore cleanup failed: %v", err)
		}
	}()

	// All subscribers must release before the waiter proceeds; this
	// tolerates duplicate gateways at the cost of waiting for the slowest.
	acquired, err := sem.Acquire(ctx, int(n), timeout)
	if err != nil {
		if ctx.Err() != nil {
			// Caller cancelled: the reply, if any, is discarded. The
			// bucket's TTL reclaims it.
			return ctx.Err()
		}
		log.Warnf("reply semaphore acquire failed: %v", err)
		reply.SetError(message.CodeSystemError)
		reply.From(msg)
		return nil
	}
	if !acquired {
		log.Debugf("reply wait timed out after %s", timeout)
	}

	// Timeout is not a hard failure: a partial reply may still be present.
	raw, found, err := r.store.Bucket(replyBucketKey(msg.MessageID())).GetAndDelete(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnf("reply bucket read failed: %v", err)
		reply.SetError(message.CodeSystemError)
		reply.From(msg)
		return nil
	}
	message.ConvertReply(raw, found, msg, reply)

	for _, ic := range chain {
		if err := ic.AfterReply(ctx, d, msg, reply); err != nil {
			return fmt.Errorf("interceptor afterReply: %w", err)
		}
	}
	return nil
}

// retrieveReply performs only the bucket read and conversion: it fetches a
// previously stored asynchronous reply without publishing. Interceptors do
// not run on this path.
func (s *MessageSender) retrieveReply(ctx context.Context, msg message.DeviceMessage, reply message.ReplyMessage) error {
	raw, found, err := s.device.registry.store.Bucket(replyBucketKey(msg.MessageID())).GetAndDelete(ctx)
	if err != nil {
		return err
	}
	message.ConvertReply(raw, found, msg, reply)
	return nil
}
