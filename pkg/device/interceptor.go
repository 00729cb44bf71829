package device

import (
	"context"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/message"
)

// Interceptor hooks every message produced by senders of a registry.
// PreSend may rewrite the outgoing message; AfterReply may inspect or mutate
// the reply before the caller sees it. Interceptors run in registration
// order and may suspend (they receive the caller's context).
type Interceptor interface {
	PreSend(ctx context.Context, device *DeviceOperation, msg message.DeviceMessage) (message.DeviceMessage, error)
	AfterReply(ctx context.Context, device *DeviceOperation, msg message.DeviceMessage, reply message.ReplyMessage) error
}

// InterceptorFuncs adapts plain functions to the Interceptor interface.
// A nil func is a pass-through.
type InterceptorFuncs struct {
	PreSendFunc    func(ctx context.Context, device *DeviceOperation, msg message.DeviceMessage) (message.DeviceMessage, error)
	AfterReplyFunc func(ctx context.Context, device *DeviceOperation, msg message.DeviceMessage, reply message.ReplyMessage) error
}

func (f InterceptorFuncs) PreSend(ctx context.Context, device *DeviceOperation, msg message.DeviceMessage) (message.DeviceMessage, error) {
	if f.PreSendFunc == nil {
		return msg, nil
	}
	return f.PreSendFunc(ctx, device, msg)
}

func (f InterceptorFuncs) AfterReply(ctx context.Context, device *DeviceOperation, msg message.DeviceMessage, reply message.ReplyMessage) error {
	if f.AfterReplyFunc == nil {
		return nil
	}
	return f.AfterReplyFunc(ctx, device, msg, reply)
}
