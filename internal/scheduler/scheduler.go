// Package scheduler implements work-conserving weighted fair queuing over
// the two-level queue: per-tier in-flight caps derived from fair shares,
// a global in-flight ceiling, and noisy-neighbour detection.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gridware/genai-gateway/internal/audit"
	"github.com/gridware/genai-gateway/internal/metrics"
	"github.com/gridware/genai-gateway/internal/queue"
	"github.com/gridware/genai-gateway/internal/tenant"
)

// Options configures the scheduler.
type Options struct {
	MaxInflight int
	// FairShares in parts-per-thousand, indexed by tier priority.
	FairShares [tenant.NumTiers]int

	NoisyNeighborThreshold float64 // running-fraction for a metrics signal
	NoisyNeighborAlert     float64 // running-fraction for a security event
}

// InFlightEntry tracks one dispatched request until completion.
type InFlightEntry struct {
	RequestID string
	TenantID  string
	Tier      int
	StartedAt time.Time
}

// Scheduler selects the next request for the worker pool. All in-flight
// state and local-queue access is serialised under one mutex, which is the
// instance's single scheduler exclusion domain.
type Scheduler struct {
	queue *queue.Queue
	mx    *metrics.Collector
	sink  audit.Sink
	opts  Options

	mu             sync.Mutex
	inflightTier   [tenant.NumTiers]int
	inflightTenant map[string]int
	inflight       map[string]*InFlightEntry

	// wake is a buffered completion/arrival signal workers block on.
	wake chan struct{}

	stats struct {
		dispatched     uint64
		conserving     uint64
		starvedReturns uint64
	}
}

// New creates a scheduler over the queue.
func New(q *queue.Queue, mx *metrics.Collector, sink audit.Sink, opts Options) *Scheduler {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 50
	}
	if opts.FairShares == ([tenant.NumTiers]int{}) {
		opts.FairShares = tenant.FairSharePPT
	}
	if opts.NoisyNeighborThreshold <= 0 {
		opts.NoisyNeighborThreshold = 0.20
	}
	if opts.NoisyNeighborAlert <= 0 {
		opts.NoisyNeighborAlert = 0.30
	}
	if sink == nil {
		sink = audit.Discard
	}
	log.Printf("[INFO] Scheduler: initialized (max_inflight=%d shares=%v)", opts.MaxInflight, opts.FairShares)
	return &Scheduler{
		queue:          q,
		mx:             mx,
		sink:           sink,
		opts:           opts,
		inflightTenant: make(map[string]int),
		inflight:       make(map[string]*InFlightEntry),
		wake:           make(chan struct{}, 1),
	}
}

// TierCap returns floor(MaxInflight × share[tier] / 1000).
func (s *Scheduler) TierCap(tier int) int {
	return s.opts.MaxInflight * s.opts.FairShares[tier] / 1000
}

// Next returns the next dispatchable request, or false when the instance is
// at capacity or no request is eligible. The returned request is already
// counted in-flight; the caller must pair it with Complete.
//
// Selection: first tier in priority order that is under its cap and has
// demand; failing that, any request while total in-flight is under the
// ceiling (work conservation).
func (s *Scheduler) Next(ctx context.Context) (*queue.QueuedRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.inflight)
	if total >= s.opts.MaxInflight {
		s.stats.starvedReturns++
		return nil, false, nil
	}

	for tier := 0; tier < tenant.NumTiers; tier++ {
		if s.inflightTier[tier] >= s.TierCap(tier) {
			continue
		}
		req, ok, err := s.queue.DequeueTier(ctx, tier)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		s.markInflight(req, false)
		return req, true, nil
	}

	// Every tier with demand is at its cap; borrow idle capacity.
	req, ok, err := s.queue.Dequeue(ctx)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	s.markInflight(req, true)
	return req, true, nil
}

// markInflight records a dispatch. Caller holds s.mu.
func (s *Scheduler) markInflight(req *queue.QueuedRequest, conserving bool) {
	entry := &InFlightEntry{
		RequestID: req.RequestID,
		TenantID:  req.TenantID,
		Tier:      req.TierPriority,
		StartedAt: time.Now(),
	}
	s.inflight[req.RequestID] = entry
	s.inflightTier[req.TierPriority]++
	s.inflightTenant[req.TenantID]++
	s.stats.dispatched++
	if conserving {
		s.stats.conserving++
	}

	tierName := string(tenant.TierFromPriority(req.TierPriority))
	if s.mx != nil {
		s.mx.RecordDispatch(tierName, conserving)
		s.mx.SetInflight(tierName, int64(s.inflightTier[req.TierPriority]))
	}

	frac := float64(s.inflightTenant[req.TenantID]) / float64(s.opts.MaxInflight)
	if frac > s.opts.NoisyNeighborThreshold {
		if s.mx != nil {
			s.mx.RecordNoisyNeighbor(req.TenantID)
		}
		if frac > s.opts.NoisyNeighborAlert {
			log.Printf("[WARN] Scheduler: noisy neighbour tenant=%s fraction=%.2f", req.TenantID, frac)
			audit.LogSecurityEvent(s.sink, req.TenantID, "noisy_neighbor", map[string]interface{}{
				"running_fraction": frac,
				"in_flight":        s.inflightTenant[req.TenantID],
			})
		}
	}

	log.Printf("[DEBUG] Scheduler: ✓ dispatched %s (tier=%s tenant=%s inflight=%d/%d)",
		req.RequestID, tierName, req.TenantID, len(s.inflight), s.opts.MaxInflight)
}

// Complete releases the in-flight slot for a finished request and wakes a
// waiting worker. Completing an unknown request id is a no-op, so a worker
// never decrements a slot it did not take.
func (s *Scheduler) Complete(requestID string) {
	s.mu.Lock()
	entry, ok := s.inflight[requestID]
	if ok {
		delete(s.inflight, requestID)
		s.inflightTier[entry.Tier]--
		s.inflightTenant[entry.TenantID]--
		if s.inflightTenant[entry.TenantID] == 0 {
			delete(s.inflightTenant, entry.TenantID)
		}
		if s.mx != nil {
			tierName := string(tenant.TierFromPriority(entry.Tier))
			s.mx.SetInflight(tierName, int64(s.inflightTier[entry.Tier]))
		}
	}
	s.mu.Unlock()

	if !ok {
		log.Printf("[WARN] Scheduler.Complete: unknown request %s", requestID)
		return
	}
	s.Wake()
}

// Wake nudges one blocked worker. Non-blocking; a pending signal is enough.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// WakeChan is the channel workers block on between dispatch attempts.
func (s *Scheduler) WakeChan() <-chan struct{} {
	return s.wake
}

// InflightTotal returns the current number of dispatched requests.
func (s *Scheduler) InflightTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// QueuedTiers reports which tiers have requests waiting on either queue
// level, keyed by tier name. Surfaced on the stats endpoint next to the
// in-flight counts so capped-but-waiting tiers are visible.
func (s *Scheduler) QueuedTiers(ctx context.Context) map[string]bool {
	out := make(map[string]bool, tenant.NumTiers)
	for tier := 0; tier < tenant.NumTiers; tier++ {
		waiting, err := s.queue.HasTier(ctx, tier)
		if err != nil {
			log.Printf("[WARN] Scheduler.QueuedTiers: tier %d peek failed: %v", tier, err)
		}
		out[string(tenant.TierFromPriority(tier))] = waiting
	}
	return out
}

// InflightForTier returns the in-flight count for one tier.
func (s *Scheduler) InflightForTier(tier int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflightTier[tier]
}

// GetStats returns scheduler statistics for the stats endpoint.
func (s *Scheduler) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTier := make(map[string]int, tenant.NumTiers)
	caps := make(map[string]int, tenant.NumTiers)
	for tier := 0; tier < tenant.NumTiers; tier++ {
		name := string(tenant.TierFromPriority(tier))
		byTier[name] = s.inflightTier[tier]
		caps[name] = s.TierCap(tier)
	}
	byTenant := make(map[string]int, len(s.inflightTenant))
	for id, n := range s.inflightTenant {
		byTenant[id] = n
	}

	return map[string]interface{}{
		"max_inflight":       s.opts.MaxInflight,
		"inflight_total":     len(s.inflight),
		"inflight_by_tier":   byTier,
		"tier_caps":          caps,
		"inflight_by_tenant": byTenant,
		"dispatched":         s.stats.dispatched,
		"work_conserving":    s.stats.conserving,
		"starved_returns":    s.stats.starvedReturns,
	}
}
