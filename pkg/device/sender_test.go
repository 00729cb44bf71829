package device_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cranehovers/jetlinks-registry-redis/internal/testutil"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/coordination"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/device"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/message"
)

// startGateway registers fn for deviceID on a gateway handler bound to
// serverID and marks the device online there.
func startGateway(t *testing.T, store *coordination.Client, reg *device.Registry, serverID, deviceID string, fn device.HandlerFunc) *device.MessageHandler {
	t.Helper()
	ctx := context.Background()

	handler := device.NewMessageHandler(store, serverID, device.HandlerOptions{ReplyTTL: 10 * time.Second})
	t.Cleanup(func() { handler.Close() })

	if err := handler.HandleMessage(ctx, deviceID, fn); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if err := reg.GetDevice(deviceID).Online(ctx, serverID, "ses-"+deviceID); err != nil {
		t.Fatalf("Online: %v", err)
	}
	return handler
}

// okFunctionHandler replies success "ok" to every function invoke.
func okFunctionHandler(handler *device.MessageHandler) device.HandlerFunc {
	return func(ctx context.Context, msg message.DeviceMessage) {
		reply := &message.FunctionInvokeReply{}
		reply.SetSuccess("ok")
		reply.From(msg)
		_ = handler.Reply(ctx, reply)
	}
}

func TestSend_HappyPathFunctionInvoke(t *testing.T) {
	reg, store, mr := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	handler := device.NewMessageHandler(store, "srv1", device.HandlerOptions{ReplyTTL: 10 * time.Second})
	defer handler.Close()
	if err := handler.HandleMessage(ctx, "d1", okFunctionHandler(handler)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if err := op.Online(ctx, "srv1", "ses1"); err != nil {
		t.Fatalf("Online: %v", err)
	}

	builder := op.Sender().InvokeFunction("reboot").MessageID("msg-happy").Timeout(time.Second)
	reply, err := builder.Send(ctx)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if !reply.Success {
		t.Errorf("Success = false, code=%q message=%q", reply.Code, reply.Message)
	}
	if reply.Message != "ok" {
		t.Errorf("Message = %q, want ok", reply.Message)
	}
	if reply.MessageID() != "msg-happy" {
		t.Errorf("MessageID = %q, want request's", reply.MessageID())
	}
	if mr.Exists("device:reply:msg-happy") {
		t.Error("reply semaphore should be deleted after send")
	}
}

func TestSend_OfflineDevice(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d2", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	start := time.Now()
	reply, err := op.Sender().InvokeFunction("reboot").Send(ctx)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if reply.Success || reply.Code != message.CodeClientOffline {
		t.Errorf("reply = success=%v code=%q, want CLIENT_OFFLINE", reply.Success, reply.Code)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("offline send took %v, should short-circuit", elapsed)
	}
}

func TestSend_SilentGatewayTimesOutToNoReply(t *testing.T) {
	reg, store, mr := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	if _, err := reg.Register(ctx, testutil.Device("d3", "p1")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	startGateway(t, store, reg, "srvX", "d3", func(context.Context, message.DeviceMessage) {
		// Never replies.
	})

	reply, err := reg.GetDevice("d3").Sender().
		InvokeFunction("reboot").MessageID("msg-timeout").Timeout(500 * time.Millisecond).
		Send(ctx)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if reply.Code != message.CodeNoReply {
		t.Errorf("Code = %q, want NO_REPLY after timeout", reply.Code)
	}
	if mr.Exists("device:reply:msg-timeout") {
		t.Error("reply semaphore should be deleted after timeout")
	}
	if mr.Exists("device:message:reply:msg-timeout") {
		t.Error("no reply bucket should exist for a silent gateway")
	}
}

func TestSend_StaleGatewaySelfHeals(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d4", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Online record points at a server nothing subscribes to.
	if err := op.Online(ctx, "srvDead", "ses1"); err != nil {
		t.Fatalf("Online: %v", err)
	}

	reply, err := op.Sender().InvokeFunction("reboot").Send(ctx)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Code != message.CodeClientOffline {
		t.Errorf("Code = %q, want CLIENT_OFFLINE", reply.Code)
	}

	// The background reconciliation marks the device offline.
	testutil.Eventually(t, 3*time.Second, func() bool {
		state, err := op.GetState(context.Background())
		return err == nil && state == device.StateOffline
	}, "device state did not heal to offline")
}

func TestSend_DuplicateGatewaysAllReply(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Two replicas subscribed to the same server id; both reply.
	h1 := device.NewMessageHandler(store, "srv1", device.HandlerOptions{ReplyTTL: 10 * time.Second})
	defer h1.Close()
	if err := h1.HandleMessage(ctx, "d1", okFunctionHandler(h1)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	h2 := device.NewMessageHandler(store, "srv1", device.HandlerOptions{ReplyTTL: 10 * time.Second})
	defer h2.Close()
	if err := h2.HandleMessage(ctx, "d1", okFunctionHandler(h2)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if err := op.Online(ctx, "srv1", "ses1"); err != nil {
		t.Fatalf("Online: %v", err)
	}

	reply, err := op.Sender().InvokeFunction("reboot").Timeout(2 * time.Second).Send(ctx)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !reply.Success {
		t.Errorf("reply = success=%v code=%q, want success when all replicas reply", reply.Success, reply.Code)
	}
}

func TestSend_InterceptorChain(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// preSend stamps a header; afterReply uppercases the message.
	reg.AddInterceptor(device.InterceptorFuncs{
		PreSendFunc: func(_ context.Context, _ *device.DeviceOperation, msg message.DeviceMessage) (message.DeviceMessage, error) {
			if m, ok := msg.(*message.FunctionInvoke); ok {
				m.AddHeader("traced", true)
			}
			return msg, nil
		},
		AfterReplyFunc: func(_ context.Context, _ *device.DeviceOperation, _ message.DeviceMessage, reply message.ReplyMessage) error {
			if r, ok := reply.(*message.FunctionInvokeReply); ok {
				r.Message = strings.ToUpper(r.Message)
			}
			return nil
		},
	})

	seenHeader := make(chan bool, 1)
	handler := device.NewMessageHandler(store, "srv1", device.HandlerOptions{ReplyTTL: 10 * time.Second})
	defer handler.Close()
	if err := handler.HandleMessage(ctx, "d1", func(hctx context.Context, msg message.DeviceMessage) {
		_, traced := msg.Headers()["traced"]
		seenHeader <- traced
		reply := &message.FunctionInvokeReply{}
		reply.SetSuccess("ok")
		reply.From(msg)
		_ = handler.Reply(hctx, reply)
	}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if err := op.Online(ctx, "srv1", "ses1"); err != nil {
		t.Fatalf("Online: %v", err)
	}

	reply, err := op.Sender().InvokeFunction("reboot").Timeout(2 * time.Second).Send(ctx)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Message != "OK" {
		t.Errorf("Message = %q, want OK from afterReply interceptor", reply.Message)
	}
	select {
	case traced := <-seenHeader:
		if !traced {
			t.Error("gateway should observe the preSend header")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gateway never received the message")
	}
}

func TestSend_InterceptorFailureSurfaces(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	startGateway(t, store, reg, "srv1", "d1", func(context.Context, message.DeviceMessage) {})

	boom := errors.New("boom")
	reg.AddInterceptor(device.InterceptorFuncs{
		PreSendFunc: func(_ context.Context, _ *device.DeviceOperation, msg message.DeviceMessage) (message.DeviceMessage, error) {
			return nil, boom
		},
	})

	if _, err := op.Sender().InvokeFunction("reboot").Send(ctx); !errors.Is(err, boom) {
		t.Errorf("Send = %v, want interceptor failure", err)
	}
}

func TestSend_CancellationPropagates(t *testing.T) {
	reg, store, mr := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	startGateway(t, store, reg, "srv1", "d1", func(context.Context, message.DeviceMessage) {
		// Never replies; the caller gives up first.
	})

	callCtx, cancel := context.WithCancel(ctx)
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err = op.Sender().InvokeFunction("reboot").MessageID("msg-cancel").Timeout(5 * time.Second).Send(callCtx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Send = %v, want context.Canceled", err)
	}

	testutil.Eventually(t, 2*time.Second, func() bool {
		return !mr.Exists("device:reply:msg-cancel")
	}, "reply semaphore should be cleaned up after cancellation")
}

func TestMarkMessageAsync_UnblocksSender(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	handler := device.NewMessageHandler(store, "srv1", device.HandlerOptions{ReplyTTL: 10 * time.Second})
	defer handler.Close()
	if err := handler.HandleMessage(ctx, "d1", func(hctx context.Context, msg message.DeviceMessage) {
		_ = handler.MarkMessageAsync(hctx, msg.MessageID())
	}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if err := op.Online(ctx, "srv1", "ses1"); err != nil {
		t.Fatalf("Online: %v", err)
	}

	start := time.Now()
	reply, err := op.Sender().InvokeFunction("reboot").Timeout(5 * time.Second).Send(ctx)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("async-marked send took %v, should return early", elapsed)
	}
	if reply.Code != message.CodeNoReply {
		t.Errorf("Code = %q, want NO_REPLY for fire-and-forget", reply.Code)
	}
}

func TestRetrieveReply_FetchesLateReply(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	handler := device.NewMessageHandler(store, "srv1", device.HandlerOptions{ReplyTTL: 10 * time.Second})
	defer handler.Close()

	late := make(chan message.DeviceMessage, 1)
	if err := handler.HandleMessage(ctx, "d1", func(_ context.Context, msg message.DeviceMessage) {
		late <- msg
	}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if err := op.Online(ctx, "srv1", "ses1"); err != nil {
		t.Fatalf("Online: %v", err)
	}

	builder := op.Sender().InvokeFunction("reboot").Timeout(300 * time.Millisecond)
	reply, err := builder.Send(ctx)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Code != message.CodeNoReply {
		t.Fatalf("Code = %q, want NO_REPLY before the gateway answers", reply.Code)
	}

	// The gateway answers after the sender gave up.
	msg := <-late
	stored := &message.FunctionInvokeReply{}
	stored.SetSuccess("late")
	stored.From(msg)
	if err := handler.Reply(ctx, stored); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	got, err := builder.RetrieveReply(ctx)
	if err != nil {
		t.Fatalf("RetrieveReply: %v", err)
	}
	if !got.Success || got.Message != "late" {
		t.Errorf("retrieved reply = success=%v message=%q", got.Success, got.Message)
	}
}
