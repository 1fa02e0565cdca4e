// Package admission implements the front gate every request clears before
// it may be queued: tenant resolution, prompt-injection screening, token
// bucket rate limiting, and the daily quota counter.
package admission

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/gridware/genai-gateway/internal/audit"
	"github.com/gridware/genai-gateway/internal/fault"
	"github.com/gridware/genai-gateway/internal/governance"
	"github.com/gridware/genai-gateway/internal/kv"
	"github.com/gridware/genai-gateway/internal/queue"
	"github.com/gridware/genai-gateway/internal/ratelimit"
	"github.com/gridware/genai-gateway/internal/tenant"
)

// Options configures the gate.
type Options struct {
	Prefix       string        // KV namespace, e.g. "genai:"
	QueueTimeout time.Duration // deadline granted to admitted requests
	QuotaTTL     time.Duration // expiry on the daily quota counter

	// Platform defaults applied to tenants without explicit limits.
	DefaultQPSLimit   float64
	DefaultBurstQPS   float64
	DefaultDailyQuota int64
}

// Verdict is the successful outcome of Admit: a fully stamped request plus
// the rate-limit state the HTTP layer surfaces as headers.
type Verdict struct {
	Request   *queue.QueuedRequest
	Tenant    *tenant.Config
	RateLimit ratelimit.Verdict
	QuotaUsed int64
}

// Gate validates and stamps incoming requests.
type Gate struct {
	tenants tenant.Adapter
	limiter *ratelimit.Limiter
	store   kv.Store
	sink    audit.Sink
	opts    Options

	now func() time.Time
}

// NewGate creates the admission gate.
func NewGate(tenants tenant.Adapter, limiter *ratelimit.Limiter, store kv.Store, sink audit.Sink, opts Options) *Gate {
	if opts.Prefix == "" {
		opts.Prefix = "genai:"
	}
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = 30 * time.Second
	}
	if opts.QuotaTTL <= 0 {
		opts.QuotaTTL = 24 * time.Hour
	}
	if sink == nil {
		sink = audit.Discard
	}
	return &Gate{
		tenants: tenants,
		limiter: limiter,
		store:   store,
		sink:    sink,
		opts:    opts,
		now:     time.Now,
	}
}

// Admit runs the admission sequence and returns a stamped request ready for
// the queue, or a classified rejection. Order: tenant resolution, injection
// screen, token bucket, daily quota. A rejected request consumes no quota
// from later stages.
func (g *Gate) Admit(ctx context.Context, tenantID, userID string, payload queue.Payload) (*Verdict, error) {
	requestID := uuid.NewString()

	if tenantID == "" {
		return nil, fault.New(fault.KindUnauthenticated, "admission.Admit")
	}

	tc, err := g.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		log.Printf("[WARN] Admission: unknown tenant %s: %v", tenantID, err)
		return nil, fault.Wrap(fault.KindUnauthenticated, "admission.Admit", err)
	}
	tc.Defaults(g.opts.DefaultQPSLimit, g.opts.DefaultBurstQPS, g.opts.DefaultDailyQuota)

	if suspect, pattern := governance.ScreenPrompt(payload.Query); suspect {
		log.Printf("[WARN] Admission: injection suspected tenant=%s request=%s pattern=%s",
			tenantID, requestID, pattern)
		audit.LogSecurityEvent(g.sink, tenantID, "prompt_injection_attempt", map[string]interface{}{
			"request_id": requestID,
			"user_id":    userID,
			"pattern":    pattern,
		})
		return nil, fault.New(fault.KindInjectionSuspected, "admission.Admit")
	}

	rl := g.limiter.Acquire(tenantID, ratelimit.OpQuery, tc.BurstQPS, tc.QPSLimit)
	if !rl.Allowed {
		log.Printf("[INFO] Admission: rate limited tenant=%s request=%s remaining=%.2f",
			tenantID, requestID, rl.Remaining)
		return nil, fault.New(fault.KindRateLimited, "admission.Admit")
	}

	used, err := g.store.IncrWithExpiry(ctx, g.quotaKey(tenantID), g.opts.QuotaTTL)
	if err != nil {
		// The shared counter is authoritative: a KV failure rejects.
		return nil, fault.Wrap(fault.KindTransientDependency, "admission.Admit",
			fmt.Errorf("quota counter: %w", err))
	}
	if used > tc.DailyQuota {
		log.Printf("[INFO] Admission: daily quota exhausted tenant=%s used=%d quota=%d",
			tenantID, used, tc.DailyQuota)
		return nil, fault.New(fault.KindQuotaExhausted, "admission.Admit")
	}

	now := g.now()
	req := &queue.QueuedRequest{
		RequestID:    requestID,
		TenantID:     tenantID,
		UserID:       userID,
		TierPriority: tc.Tier.Priority(),
		SubmittedAt:  now.Unix(),
		DeadlineAt:   now.Add(g.opts.QueueTimeout).Unix(),
		Payload:      payload,
	}

	audit.LogQuery(g.sink, tenantID, userID, payload.Query, "admitted")
	log.Printf("[DEBUG] Admission: ✓ request %s admitted (tenant=%s tier=%s quota_used=%d/%d)",
		requestID, tenantID, tc.Tier, used, tc.DailyQuota)

	return &Verdict{Request: req, Tenant: tc, RateLimit: rl, QuotaUsed: used}, nil
}

// QuotaRemaining reports how much of the tenant's daily quota is left.
func (g *Gate) QuotaRemaining(ctx context.Context, tc *tenant.Config) (int64, error) {
	val, ok, err := g.store.Get(ctx, g.quotaKey(tc.TenantID))
	if err != nil {
		return 0, err
	}
	if !ok {
		return tc.DailyQuota, nil
	}
	var used int64
	if _, err := fmt.Sscanf(val, "%d", &used); err != nil {
		return 0, fmt.Errorf("parse quota counter: %w", err)
	}
	if used >= tc.DailyQuota {
		return 0, nil
	}
	return tc.DailyQuota - used, nil
}

func (g *Gate) quotaKey(tenantID string) string {
	return fmt.Sprintf("%squota:%s:%s", g.opts.Prefix, tenantID, g.now().UTC().Format("20060102"))
}
