package device_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/cranehovers/jetlinks-registry-redis/internal/testutil"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

func TestConfig_PutGetRoundTrip(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	cfg := op.Config()

	values := map[string]interface{}{
		"interval": float64(30),
		"name":     "sensor",
		"enabled":  true,
	}
	for k, v := range values {
		if err := cfg.Put(ctx, k, v); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
		got, found, err := cfg.Get(ctx, k)
		if err != nil {
			t.Fatalf("Get(%s): %v", k, err)
		}
		if !found || !reflect.DeepEqual(got, v) {
			t.Errorf("Get(%s) = (%#v, %v), want (%#v, true)", k, got, found, v)
		}
	}
}

func TestConfig_PutNilRejected(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	cfg := reg.GetDevice("d1").Config()

	if err := cfg.Put(context.Background(), "k", nil); !errors.Is(err, util.ErrIllegalArgument) {
		t.Errorf("Put(nil) = %v, want ErrIllegalArgument", err)
	}
}

func TestConfig_PutAllNilAndEmptyAreNoops(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	cfg := reg.GetDevice("d1").Config()

	if err := cfg.PutAll(ctx, nil); err != nil {
		t.Errorf("PutAll(nil) = %v, want no-op", err)
	}
	if err := cfg.PutAll(ctx, map[string]interface{}{}); err != nil {
		t.Errorf("PutAll(empty) = %v, want no-op", err)
	}

	all, err := cfg.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("GetAll = %#v, want empty", all)
	}
}

func TestConfig_RemoveReturnsPrior(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	cfg := reg.GetDevice("d1").Config()

	if err := cfg.Put(ctx, "k", "v"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	prior, found, err := cfg.Remove(ctx, "k")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !found || prior != "v" {
		t.Errorf("Remove = (%#v, %v), want (v, true)", prior, found)
	}
	_, found, err = cfg.Remove(ctx, "k")
	if err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if found {
		t.Error("second Remove should report not found")
	}
}

func TestConfig_Inheritance(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d5", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	productCfg := reg.GetProduct("p1").Config()
	deviceCfg := op.Config()

	if err := productCfg.Put(ctx, "k1", "a"); err != nil {
		t.Fatalf("product Put: %v", err)
	}
	if err := deviceCfg.Put(ctx, "k2", "b"); err != nil {
		t.Fatalf("device Put: %v", err)
	}

	// Device read falls back to the product value.
	v, found, err := deviceCfg.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get(k1): %v", err)
	}
	if !found || v != "a" {
		t.Errorf("Get(k1) = (%#v, %v), want inherited a", v, found)
	}

	// Composed read: both scopes, absent keys omitted.
	got, err := deviceCfg.GetAll(ctx, "k1", "k2", "k3")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	want := map[string]interface{}{"k1": "a", "k2": "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetAll(k1,k2,k3) = %#v, want %#v", got, want)
	}
}

func TestConfig_DeviceShadowsProduct(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := reg.GetProduct("p1").Config().Put(ctx, "k", "product-value"); err != nil {
		t.Fatalf("product Put: %v", err)
	}
	if err := op.Config().Put(ctx, "k", "device-value"); err != nil {
		t.Fatalf("device Put: %v", err)
	}

	v, _, err := op.Config().Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "device-value" {
		t.Errorf("Get = %#v, device value must shadow the product's", v)
	}

	all, err := op.Config().GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if all["k"] != "device-value" {
		t.Errorf("GetAll()[k] = %#v, want device-value", all["k"])
	}
}

func TestConfig_MergedSnapshotRoundTrip(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	seedProduct(t, reg, "p1")
	op, err := reg.Register(ctx, testutil.Device("d1", "p1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	cfg := op.Config()

	if err := cfg.PutAll(ctx, map[string]interface{}{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("PutAll: %v", err)
	}

	// putAll(getAll()) leaves the map unchanged.
	snapshot, err := cfg.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if err := cfg.PutAll(ctx, snapshot); err != nil {
		t.Fatalf("PutAll(snapshot): %v", err)
	}
	again, err := cfg.GetAll(ctx)
	if err != nil {
		t.Fatalf("second GetAll: %v", err)
	}
	if !reflect.DeepEqual(snapshot, again) {
		t.Errorf("snapshot changed: %#v vs %#v", snapshot, again)
	}
}

func TestConfig_UnknownDeviceHasNoParentScope(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	cfg := reg.GetDevice("ghost").Config()

	// Writes are allowed even for unknown devices.
	if err := cfg.Put(ctx, "k", "v"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, found, err := cfg.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || v != "v" {
		t.Errorf("Get = (%#v, %v)", v, found)
	}
	if _, found, _ := cfg.Get(ctx, "absent"); found {
		t.Error("absent key on unknown device should be not found")
	}
}
