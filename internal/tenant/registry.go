package tenant

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry is a file-backed tenant catalogue. When no file is configured it
// synthesises tenants on first sight with platform defaults, which keeps
// development deployments zero-config.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*Config

	implicit     bool
	defQPS       float64
	defBurst     float64
	defDaily     int64
}

// RegistryOptions configures defaults applied to records with missing limits
// and to implicitly created tenants.
type RegistryOptions struct {
	DefaultQPS        float64
	DefaultBurst      float64
	DefaultDailyQuota int64
	// AllowImplicit synthesises a free-tier tenant for unknown IDs instead
	// of failing the lookup.
	AllowImplicit bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{
		tenants:  make(map[string]*Config),
		implicit: opts.AllowImplicit,
		defQPS:   opts.DefaultQPS,
		defBurst: opts.DefaultBurst,
		defDaily: opts.DefaultDailyQuota,
	}
}

// LoadFile loads (or reloads) the tenant catalogue from a YAML file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tenants file: %w", err)
	}

	var doc struct {
		Tenants []*Config `yaml:"tenants"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse tenants file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tc := range doc.Tenants {
		if tc.TenantID == "" {
			return fmt.Errorf("tenant record missing tenant_id")
		}
		tc.Defaults(r.defQPS, r.defBurst, r.defDaily)
		r.tenants[tc.TenantID] = tc
	}
	log.Printf("[INFO] TenantRegistry: loaded %d tenants from %s", len(doc.Tenants), path)
	return nil
}

// Put registers or replaces a tenant record.
func (r *Registry) Put(tc *Config) {
	tc.Defaults(r.defQPS, r.defBurst, r.defDaily)
	r.mu.Lock()
	r.tenants[tc.TenantID] = tc
	r.mu.Unlock()
}

// GetTenant implements Adapter.
func (r *Registry) GetTenant(_ context.Context, tenantID string) (*Config, error) {
	r.mu.RLock()
	tc, ok := r.tenants[tenantID]
	r.mu.RUnlock()
	if ok {
		return tc, nil
	}

	if !r.implicit {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}

	tc = &Config{TenantID: tenantID, Tier: TierFree}
	tc.Defaults(r.defQPS, r.defBurst, r.defDaily)

	r.mu.Lock()
	// Another goroutine may have raced the create; keep the first one.
	if existing, ok := r.tenants[tenantID]; ok {
		tc = existing
	} else {
		r.tenants[tenantID] = tc
		log.Printf("[INFO] TenantRegistry: implicit free-tier tenant %s", tenantID)
	}
	r.mu.Unlock()
	return tc, nil
}

// Len returns the number of known tenants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants)
}
