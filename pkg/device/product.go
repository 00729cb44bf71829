package device

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/metadata"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

// ProductOperation is a per-product handle. Handles are cheap and safe to
// share; all state lives in the store.
type ProductOperation struct {
	id       string
	registry *Registry
}

// ID returns the product id.
func (p *ProductOperation) ID() string {
	return p.id
}

// GetInfo reads the product record.
func (p *ProductOperation) GetInfo(ctx context.Context) (*ProductInfo, error) {
	raw, found, err := p.registry.store.Bucket(productInfoKey(p.id)).Get(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, util.NewNotFoundError("product", p.id)
	}
	var info ProductInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("decoding product %s: %w", p.id, err)
	}
	return &info, nil
}

// Update overwrites the product record wholesale. The record's id is forced
// to this handle's id.
func (p *ProductOperation) Update(ctx context.Context, info *ProductInfo) error {
	if info == nil {
		return fmt.Errorf("%w: product info is required", util.ErrIllegalArgument)
	}
	info.ID = p.id
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding product %s: %w", p.id, err)
	}
	if err := p.registry.store.Bucket(productInfoKey(p.id)).Set(ctx, string(data), 0); err != nil {
		return err
	}
	util.WithOperation("product.update").WithField("product", p.id).Debug("product record replaced")
	return nil
}

// GetProtocol resolves the product's protocol runtime.
func (p *ProductOperation) GetProtocol(ctx context.Context) (metadata.ProtocolSupport, error) {
	info, err := p.GetInfo(ctx)
	if err != nil {
		return nil, err
	}
	return p.registry.resolveProtocol(ctx, info.Protocol)
}

// GetMetadata resolves the product's device metadata through its protocol.
func (p *ProductOperation) GetMetadata(ctx context.Context) (metadata.DeviceMetadata, error) {
	protocol, err := p.GetProtocol(ctx)
	if err != nil {
		return nil, err
	}
	md, err := protocol.DeviceMetadata(ctx, p.id)
	if err != nil {
		return nil, fmt.Errorf("resolving metadata for product %s: %w", p.id, err)
	}
	return md, nil
}

// Config returns the product-scoped configuration store.
func (p *ProductOperation) Config() *ConfigStore {
	return &ConfigStore{store: p.registry.store, key: productConfigKey(p.id)}
}

func (r *Registry) resolveProtocol(ctx context.Context, id string) (metadata.ProtocolSupport, error) {
	if id == "" || r.protocols == nil {
		return nil, util.NewNotFoundError("protocol", id)
	}
	protocol, found, err := r.protocols.Protocol(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolving protocol %s: %w", id, err)
	}
	if !found {
		return nil, util.NewNotFoundError("protocol", id)
	}
	return protocol, nil
}
