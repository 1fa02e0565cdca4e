// Package tenant defines tenant tiers and the read-only tenant catalogue
// the core resolves admissions against. Tenants are provisioned externally;
// the core only reads them.
package tenant

import (
	"context"
	"fmt"
	"strings"
)

// Tier is the service tier a tenant is subscribed to. Lower priority value
// means higher scheduling priority.
type Tier string

const (
	TierEnterprise   Tier = "enterprise"
	TierProfessional Tier = "professional"
	TierStarter      Tier = "starter"
	TierFree         Tier = "free"

	NumTiers = 4
)

// Priority returns the tier's scheduling priority (0 = highest).
func (t Tier) Priority() int {
	switch t {
	case TierEnterprise:
		return 0
	case TierProfessional:
		return 1
	case TierStarter:
		return 2
	default:
		return 3
	}
}

// TierFromPriority is the inverse of Priority.
func TierFromPriority(p int) Tier {
	switch p {
	case 0:
		return TierEnterprise
	case 1:
		return TierProfessional
	case 2:
		return TierStarter
	default:
		return TierFree
	}
}

// ParseTier normalises a tier string. Unknown values map to free.
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enterprise":
		return TierEnterprise
	case "professional":
		return TierProfessional
	case "starter":
		return TierStarter
	default:
		return TierFree
	}
}

// FairSharePPT holds each tier's long-run capacity share in parts-per-
// thousand, indexed by priority. Integer ppt avoids float accumulation
// error in cap computations.
var FairSharePPT = [NumTiers]int{500, 300, 150, 50}

// Config is the read-only tenant record the admission gate resolves.
type Config struct {
	TenantID              string  `yaml:"tenant_id"`
	Name                  string  `yaml:"name"`
	Tier                  Tier    `yaml:"tier"`
	QPSLimit              float64 `yaml:"qps_limit"`
	BurstQPS              float64 `yaml:"burst_qps"`
	DailyQuota            int64   `yaml:"daily_quota"`
	DataResidency         string  `yaml:"data_residency"`
	FallbackToSearch      bool    `yaml:"fallback_to_search_enabled"`
}

// Adapter resolves tenant configuration. Implementations live outside the
// core (database, control plane); the registry below is the file-backed one
// the daemon ships with.
type Adapter interface {
	GetTenant(ctx context.Context, tenantID string) (*Config, error)
}

// Defaults fills zero-valued limits from platform defaults.
func (c *Config) Defaults(qps, burst float64, dailyQuota int64) {
	if c.QPSLimit <= 0 {
		c.QPSLimit = qps
	}
	if c.BurstQPS <= 0 {
		c.BurstQPS = burst
	}
	if c.DailyQuota <= 0 {
		c.DailyQuota = dailyQuota
	}
	if c.Tier == "" {
		c.Tier = TierFree
	}
	if c.DataResidency == "" {
		c.DataResidency = "us"
	}
	if c.Name == "" {
		c.Name = c.TenantID
	}
}

// ErrUnknownTenant is returned when the catalogue has no record and
// implicit tenants are disabled.
var ErrUnknownTenant = fmt.Errorf("unknown tenant")
