package device

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/metadata"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

// DeviceOperation is a per-device handle carrying the device id and a
// reference to its registry. Handles are cheap, stateless, and safe to
// share between goroutines.
type DeviceOperation struct {
	id       string
	registry *Registry
}

// ID returns the device id.
func (d *DeviceOperation) ID() string {
	return d.id
}

// GetInfo reads the device record.
func (d *DeviceOperation) GetInfo(ctx context.Context) (*DeviceInfo, error) {
	raw, found, err := d.registry.store.Bucket(deviceInfoKey(d.id)).Get(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, util.NewNotFoundError("device", d.id)
	}
	var info DeviceInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("decoding device %s: %w", d.id, err)
	}
	return &info, nil
}

// GetProduct resolves the device's product handle, verifying the product
// record exists.
func (d *DeviceOperation) GetProduct(ctx context.Context) (*ProductOperation, error) {
	info, err := d.GetInfo(ctx)
	if err != nil {
		return nil, err
	}
	product := d.registry.GetProduct(info.ProductID)
	if _, err := product.GetInfo(ctx); err != nil {
		return nil, err
	}
	return product, nil
}

// GetProtocol resolves the protocol runtime for this device: the device's
// own protocol override when set, otherwise the product's.
func (d *DeviceOperation) GetProtocol(ctx context.Context) (metadata.ProtocolSupport, error) {
	info, err := d.GetInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info.Protocol != "" {
		return d.registry.resolveProtocol(ctx, info.Protocol)
	}
	product, err := d.GetProduct(ctx)
	if err != nil {
		return nil, err
	}
	return product.GetProtocol(ctx)
}

// GetMetadata resolves the device's capability metadata through its
// protocol.
func (d *DeviceOperation) GetMetadata(ctx context.Context) (metadata.DeviceMetadata, error) {
	info, err := d.GetInfo(ctx)
	if err != nil {
		return nil, err
	}
	protocol, err := d.GetProtocol(ctx)
	if err != nil {
		return nil, err
	}
	md, err := protocol.DeviceMetadata(ctx, info.ProductID)
	if err != nil {
		return nil, fmt.Errorf("resolving metadata for device %s: %w", d.id, err)
	}
	return md, nil
}

// Config returns the device-scoped configuration store. Reads fall back to
// the product scope when the device record resolves to a product.
func (d *DeviceOperation) Config() *ConfigStore {
	return &ConfigStore{
		store: d.registry.store,
		key:   deviceConfigKey(d.id),
		parent: func(ctx context.Context) (*ConfigStore, error) {
			info, err := d.GetInfo(ctx)
			if err != nil {
				// Unknown device: no product scope to inherit from.
				return nil, nil
			}
			return &ConfigStore{store: d.registry.store, key: productConfigKey(info.ProductID)}, nil
		},
	}
}

// Sender returns the message sender for this device.
func (d *DeviceOperation) Sender() *MessageSender {
	return &MessageSender{device: d}
}
