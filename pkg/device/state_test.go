package device_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cranehovers/jetlinks-registry-redis/internal/testutil"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/device"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/message"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

func TestOnline_SetsConsistentTuple(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := op.Online(ctx, "srv1", "ses1"); err != nil {
		t.Fatalf("Online: %v", err)
	}

	sess, err := op.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.State != device.StateOnline || sess.ServerID != "srv1" || sess.SessionID != "ses1" {
		t.Errorf("session = %+v, want online/srv1/ses1", sess)
	}
	if sess.LastPing.IsZero() {
		t.Error("LastPing should be stamped")
	}

	online, err := op.IsOnline(ctx)
	if err != nil {
		t.Fatalf("IsOnline: %v", err)
	}
	if !online {
		t.Error("IsOnline should be true")
	}
}

func TestOnline_RequiresIdentifiers(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	op := reg.GetDevice("d1")

	if err := op.Online(context.Background(), "", "ses"); !errors.Is(err, util.ErrIllegalArgument) {
		t.Errorf("Online without serverId = %v, want ErrIllegalArgument", err)
	}
	if err := op.Online(context.Background(), "srv", ""); !errors.Is(err, util.ErrIllegalArgument) {
		t.Errorf("Online without sessionId = %v, want ErrIllegalArgument", err)
	}
}

func TestOffline_ClearsTuple(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := op.Online(ctx, "srv1", "ses1"); err != nil {
		t.Fatalf("Online: %v", err)
	}

	if err := op.Offline(ctx); err != nil {
		t.Fatalf("Offline: %v", err)
	}

	sess, err := op.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.State != device.StateOffline || sess.ServerID != "" || sess.SessionID != "" {
		t.Errorf("session = %+v, want offline with empty ids", sess)
	}
}

func TestStateEvents_Published(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	var events atomic.Int32
	var lastEvent atomic.Value
	sub, err := store.Topic("device:online").Subscribe(ctx, func(_ context.Context, payload []byte) {
		var ev device.StateEvent
		if err := json.Unmarshal(payload, &ev); err == nil {
			lastEvent.Store(ev)
			events.Add(1)
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := op.Online(ctx, "srv1", "ses1"); err != nil {
		t.Fatalf("Online: %v", err)
	}

	testutil.Eventually(t, 2*time.Second, func() bool { return events.Load() == 1 }, "online event not observed")
	ev := lastEvent.Load().(device.StateEvent)
	if ev.DeviceID != "d1" || ev.ServerID != "srv1" {
		t.Errorf("event = %+v", ev)
	}
}

func TestCheckState_OfflineDeviceUntouched(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	state, err := op.CheckState(ctx)
	if err != nil {
		t.Fatalf("CheckState: %v", err)
	}
	if state != device.StateOffline {
		t.Errorf("CheckState = %q, want offline", state)
	}
}

func TestCheckState_DeadGatewayHeals(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d4", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Online on a server that nothing subscribes to.
	if err := op.Online(ctx, "srvDead", "ses1"); err != nil {
		t.Fatalf("Online: %v", err)
	}

	state, err := op.CheckState(ctx)
	if err != nil {
		t.Fatalf("CheckState: %v", err)
	}
	if state != device.StateOffline {
		t.Errorf("CheckState = %q, want offline after dead-gateway probe", state)
	}

	after, err := op.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if after != device.StateOffline {
		t.Errorf("persisted state = %q, want offline", after)
	}
}

func TestCheckState_LiveGatewayStaysOnline(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	handler := device.NewMessageHandler(store, "srv1", device.HandlerOptions{})
	defer handler.Close()
	if err := handler.HandleMessage(ctx, "d1", func(context.Context, message.DeviceMessage) {}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if err := op.Online(ctx, "srv1", "ses1"); err != nil {
		t.Fatalf("Online: %v", err)
	}

	state, err := op.CheckState(ctx)
	if err != nil {
		t.Fatalf("CheckState: %v", err)
	}
	if state != device.StateOnline {
		t.Errorf("CheckState = %q, want online while the gateway answers", state)
	}
}
