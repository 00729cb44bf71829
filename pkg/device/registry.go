package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cranehovers/jetlinks-registry-redis/pkg/coordination"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/metadata"
	"github.com/cranehovers/jetlinks-registry-redis/pkg/util"
)

// Options tune the registry's messaging and liveness behavior.
type Options struct {
	// MaxAwait is the default time a sender waits for a reply.
	MaxAwait time.Duration
	// ReplyTTLPadding is added to MaxAwait for reply bucket and semaphore
	// TTLs, so late replies survive until the store expires them.
	ReplyTTLPadding time.Duration
	// StateCheckTimeout bounds the liveness probe wait.
	StateCheckTimeout time.Duration
}

// DefaultOptions returns the stock timeouts.
func DefaultOptions() Options {
	return Options{
		MaxAwait:          30 * time.Second,
		ReplyTTLPadding:   10 * time.Second,
		StateCheckTimeout: 2 * time.Second,
	}
}

func (o *Options) normalize() {
	d := DefaultOptions()
	if o.MaxAwait <= 0 {
		o.MaxAwait = d.MaxAwait
	}
	if o.ReplyTTLPadding <= 0 {
		o.ReplyTTLPadding = d.ReplyTTLPadding
	}
	if o.StateCheckTimeout <= 0 {
		o.StateCheckTimeout = d.StateCheckTimeout
	}
}

// Registry is the shared view of products, devices, and their sessions.
// All state lives in the coordination store; a Registry is a stateless
// handle plus the process-local interceptor chain, so every node
// constructs its own and they all observe the same data.
type Registry struct {
	store     *coordination.Client
	protocols metadata.ProtocolSupports
	opts      Options

	mu           sync.RWMutex
	interceptors []Interceptor
}

// NewRegistry builds a registry over the coordination store. protocols may
// be nil when no metadata operations will be used.
func NewRegistry(store *coordination.Client, protocols metadata.ProtocolSupports, opts Options) *Registry {
	opts.normalize()
	return &Registry{store: store, protocols: protocols, opts: opts}
}

// Store exposes the coordination client.
func (r *Registry) Store() *coordination.Client {
	return r.store
}

// Options returns the registry's effective options.
func (r *Registry) Options() Options {
	return r.opts
}

// AddInterceptor appends an interceptor to the chain applied to every
// sender produced by this registry. The chain is append-only; senders
// snapshot it per send.
func (r *Registry) AddInterceptor(i Interceptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interceptors = append(r.interceptors, i)
}

func (r *Registry) interceptorChain() []Interceptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := make([]Interceptor, len(r.interceptors))
	copy(chain, r.interceptors)
	return chain
}

// Register persists the device record and returns its operation handle.
// Re-registering an id overwrites the record; existing session state is
// preserved, otherwise it is initialized to offline.
func (r *Registry) Register(ctx context.Context, info *DeviceInfo) (*DeviceOperation, error) {
	if info == nil || info.ID == "" {
		return nil, fmt.Errorf("%w: device info requires an id", util.ErrIllegalArgument)
	}
	if info.ProductID == "" {
		return nil, fmt.Errorf("%w: device %s requires a productId", util.ErrIllegalArgument, info.ID)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encoding device %s: %w", info.ID, err)
	}
	if err := r.store.Bucket(deviceInfoKey(info.ID)).Set(ctx, string(data), 0); err != nil {
		return nil, err
	}

	op := r.GetDevice(info.ID)
	if err := op.initState(ctx); err != nil {
		return nil, err
	}
	util.WithDevice(info.ID).WithField("product", info.ProductID).Debug("device registered")
	return op, nil
}

// GetDevice returns an operation handle for the id. The handle is valid
// even for unknown devices: their state reads unknown and metadata
// operations fail with device-not-found.
func (r *Registry) GetDevice(id string) *DeviceOperation {
	return &DeviceOperation{id: id, registry: r}
}

// Unregister deletes the device record, its session state, and all
// device-scoped configuration.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	if err := r.store.Bucket(deviceInfoKey(id)).Delete(ctx); err != nil {
		return err
	}
	if err := r.store.HashMap(deviceStateKey(id)).Delete(ctx); err != nil {
		return err
	}
	if err := r.store.HashMap(deviceConfigKey(id)).Delete(ctx); err != nil {
		return err
	}
	util.WithDevice(id).Debug("device unregistered")
	return nil
}

// GetProduct returns a product operation handle.
func (r *Registry) GetProduct(id string) *ProductOperation {
	return &ProductOperation{id: id, registry: r}
}
