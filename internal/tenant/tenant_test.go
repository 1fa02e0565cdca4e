package tenant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestTierPriority(t *testing.T) {
	cases := map[Tier]int{
		TierEnterprise:   0,
		TierProfessional: 1,
		TierStarter:      2,
		TierFree:         3,
	}
	for tier, want := range cases {
		if got := tier.Priority(); got != want {
			t.Errorf("%s: expected priority %d, got %d", tier, want, got)
		}
		if back := TierFromPriority(want); back != tier {
			t.Errorf("priority %d should map back to %s, got %s", want, tier, back)
		}
	}
}

func TestParseTier_Unknown(t *testing.T) {
	if got := ParseTier("platinum"); got != TierFree {
		t.Errorf("unknown tier should parse as free, got %s", got)
	}
	if got := ParseTier(" Enterprise "); got != TierEnterprise {
		t.Errorf("expected enterprise, got %s", got)
	}
}

func TestFairShares_SumToThousand(t *testing.T) {
	total := 0
	for _, ppt := range FairSharePPT {
		total += ppt
	}
	if total != 1000 {
		t.Errorf("fair shares should sum to 1000 ppt, got %d", total)
	}
}

func TestRegistry_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	content := `tenants:
  - tenant_id: acme
    name: Acme Corp
    tier: enterprise
    qps_limit: 50
    burst_qps: 100
    daily_quota: 500000
    fallback_to_search_enabled: true
  - tenant_id: smallco
    tier: starter
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(RegistryOptions{DefaultQPS: 5, DefaultBurst: 10, DefaultDailyQuota: 100000})
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	acme, err := r.GetTenant(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	if acme.Tier != TierEnterprise || acme.QPSLimit != 50 || !acme.FallbackToSearch {
		t.Errorf("acme record wrong: %+v", acme)
	}

	small, err := r.GetTenant(context.Background(), "smallco")
	if err != nil {
		t.Fatal(err)
	}
	if small.QPSLimit != 5 || small.DailyQuota != 100000 {
		t.Errorf("defaults not applied: %+v", small)
	}
}

func TestRegistry_UnknownTenant(t *testing.T) {
	r := NewRegistry(RegistryOptions{DefaultQPS: 5, DefaultBurst: 10, DefaultDailyQuota: 1000})
	_, err := r.GetTenant(context.Background(), "ghost")
	if !errors.Is(err, ErrUnknownTenant) {
		t.Errorf("expected ErrUnknownTenant, got %v", err)
	}
}

func TestRegistry_ImplicitTenant(t *testing.T) {
	r := NewRegistry(RegistryOptions{DefaultQPS: 5, DefaultBurst: 10, DefaultDailyQuota: 1000, AllowImplicit: true})
	tc, err := r.GetTenant(context.Background(), "walk-in")
	if err != nil {
		t.Fatal(err)
	}
	if tc.Tier != TierFree || tc.BurstQPS != 10 {
		t.Errorf("implicit tenant should get free tier defaults: %+v", tc)
	}
	if r.Len() != 1 {
		t.Errorf("implicit tenant should be memoised, len=%d", r.Len())
	}
}
