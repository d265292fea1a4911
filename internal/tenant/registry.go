package tenant

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tablefront/go-core/internal/metrics"
)

// Provisioner creates (or locates) the storage scope backing a tenant and
// returns its account surface. Called at most once per tenant per attempt;
// the registry serializes concurrent first accesses.
type Provisioner interface {
	Provision(ctx context.Context, tenantID string) (Accounts, error)
}

// Handle is the cached reference to one tenant's data scope.
type Handle struct {
	TenantID  string
	Accounts  Accounts
	CreatedAt time.Time

	lastUsed atomic.Int64
}

// LastUsedAt reports when the handle was last resolved.
func (h *Handle) LastUsedAt() time.Time {
	return time.Unix(0, h.lastUsed.Load())
}

func (h *Handle) touch() {
	h.lastUsed.Store(time.Now().UnixNano())
}

// RegistryConfig configures the tenant handle registry.
type RegistryConfig struct {
	// ProvisionTimeout bounds how long a single scope creation may take.
	ProvisionTimeout time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Core
}

// Registry caches tenant handles for the process lifetime. Reads are O(1)
// map lookups; creation on first access is serialized per tenant so
// unrelated tenants never block each other, and a failed creation is
// never cached.
type Registry struct {
	provisioner Provisioner
	timeout     time.Duration
	logger      *zap.Logger
	metrics     *metrics.Core

	mu       sync.Mutex
	handles  map[string]*Handle
	inflight map[string]*creation

	created atomic.Uint64
}

type creation struct {
	done   chan struct{}
	handle *Handle
	err    error
}

// NewRegistry creates a tenant handle registry.
func NewRegistry(p Provisioner, cfg RegistryConfig) (*Registry, error) {
	if p == nil {
		return nil, fmt.Errorf("provisioner is required")
	}
	if cfg.ProvisionTimeout == 0 {
		cfg.ProvisionTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Registry{
		provisioner: p,
		timeout:     cfg.ProvisionTimeout,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		handles:     make(map[string]*Handle),
		inflight:    make(map[string]*creation),
	}, nil
}

// Resolve returns the handle for tenantID, creating it on first access.
// Concurrent first accesses for the same tenant converge on a single
// handle. Failures surface as ErrTenantUnavailable and the next call
// retries creation.
func (r *Registry) Resolve(ctx context.Context, tenantID string) (*Handle, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: empty tenant id", ErrTenantUnavailable)
	}

	r.mu.Lock()
	if h, ok := r.handles[tenantID]; ok {
		r.mu.Unlock()
		h.touch()
		return h, nil
	}
	if c, ok := r.inflight[tenantID]; ok {
		r.mu.Unlock()
		return r.await(ctx, c)
	}
	c := &creation{done: make(chan struct{})}
	r.inflight[tenantID] = c
	r.mu.Unlock()

	h, err := r.create(ctx, tenantID)

	r.mu.Lock()
	delete(r.inflight, tenantID)
	if err == nil {
		r.handles[tenantID] = h
	}
	r.mu.Unlock()

	c.handle, c.err = h, err
	close(c.done)

	if err != nil {
		return nil, err
	}
	h.touch()
	return h, nil
}

// Cached reports whether a handle already exists for tenantID without
// triggering creation.
func (r *Registry) Cached(tenantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[tenantID]
	return ok
}

// Created reports how many handles this registry has created.
func (r *Registry) Created() uint64 {
	return r.created.Load()
}

func (r *Registry) await(ctx context.Context, c *creation) (*Handle, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTenantUnavailable, ctx.Err())
	}
	if c.err != nil {
		return nil, c.err
	}
	c.handle.touch()
	return c.handle, nil
}

func (r *Registry) create(ctx context.Context, tenantID string) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	accounts, err := r.provisioner.Provision(ctx, tenantID)
	if err != nil {
		r.logger.Warn("tenant scope creation failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrTenantUnavailable, err)
	}

	r.created.Add(1)
	r.metrics.TenantHandleCreated()
	r.logger.Info("tenant scope created",
		zap.String("tenant_id", tenantID),
		zap.Duration("took", time.Since(start)),
	)

	return &Handle{
		TenantID:  tenantID,
		Accounts:  accounts,
		CreatedAt: time.Now(),
	}, nil
}
