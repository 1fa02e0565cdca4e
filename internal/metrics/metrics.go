// Package metrics collects gateway counters and exports them in Prometheus
// text format. This implementation uses manual metric tracking without
// external dependencies.
package metrics

import (
	"sync"
	"time"
)

// Collector aggregates all gateway metrics behind one lock.
type Collector struct {
	mu sync.RWMutex

	// Admission metrics
	admitted        int64
	rejectedByKind  map[string]int64 // fault kind -> count
	admittedByTier  map[string]int64

	// Queue metrics (gauges, set by the stats poller)
	localQueueDepth  int64
	globalQueueDepth int64
	dlqDepth         int64

	// Scheduler metrics
	dispatchesByTier  map[string]int64
	workConserving    int64 // dispatches that borrowed another tier's share
	noisyNeighbors    map[string]int64 // tenant -> signal count
	inflightByTier    map[string]int64

	// Security metrics
	leakageAttempts    int64
	injectionAttempts  int64
	behaviorSignals    map[string]int64 // signal kind -> count

	// Resilience metrics
	breakerTransitions map[string]int64 // "service/tenant state->state"
	retriesAttempted   int64

	// Pipeline metrics
	completionsByStatus map[string]int64 // success, deadline_exceeded, ...
	llmTokensByTenant   map[string]int64
	costByTenant        map[string]float64
	cacheHits           int64
	cacheMisses         int64

	// Adapter metrics
	adapterRequests map[string]int64
	adapterErrors   map[string]int64
	adapterLatency  map[string]int64 // total ms

	startTime time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		rejectedByKind:      make(map[string]int64),
		admittedByTier:      make(map[string]int64),
		dispatchesByTier:    make(map[string]int64),
		noisyNeighbors:      make(map[string]int64),
		inflightByTier:      make(map[string]int64),
		behaviorSignals:     make(map[string]int64),
		breakerTransitions:  make(map[string]int64),
		completionsByStatus: make(map[string]int64),
		llmTokensByTenant:   make(map[string]int64),
		costByTenant:        make(map[string]float64),
		adapterRequests:     make(map[string]int64),
		adapterErrors:       make(map[string]int64),
		adapterLatency:      make(map[string]int64),
		startTime:           time.Now(),
	}
}

// RecordAdmission records an admission outcome; kind is empty on success.
func (c *Collector) RecordAdmission(tier, rejectKind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rejectKind == "" {
		c.admitted++
		c.admittedByTier[tier]++
		return
	}
	c.rejectedByKind[rejectKind]++
}

// SetQueueDepths updates the queue depth gauges.
func (c *Collector) SetQueueDepths(local, global, dlq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localQueueDepth = local
	c.globalQueueDepth = global
	c.dlqDepth = dlq
}

// RecordDispatch records a scheduler dispatch. conserving marks a dispatch
// that proceeded past the tier caps under work conservation.
func (c *Collector) RecordDispatch(tier string, conserving bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatchesByTier[tier]++
	if conserving {
		c.workConserving++
	}
}

// SetInflight updates the per-tier in-flight gauge.
func (c *Collector) SetInflight(tier string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflightByTier[tier] = n
}

// RecordNoisyNeighbor counts a noisy-neighbour threshold crossing.
func (c *Collector) RecordNoisyNeighbor(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noisyNeighbors[tenantID]++
}

// RecordLeakageAttempt counts a blocked cross-tenant access.
func (c *Collector) RecordLeakageAttempt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leakageAttempts++
}

// RecordInjectionAttempt counts a rejected prompt-injection.
func (c *Collector) RecordInjectionAttempt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injectionAttempts++
}

// RecordBehaviorSignal counts an abuse-detector signal by kind.
func (c *Collector) RecordBehaviorSignal(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.behaviorSignals[kind]++
}

// RecordBreakerTransition counts a circuit-breaker state change.
func (c *Collector) RecordBreakerTransition(service, tenantID, from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakerTransitions[service+"/"+tenantID+" "+from+"->"+to]++
}

// RecordRetry counts a retry attempt.
func (c *Collector) RecordRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retriesAttempted++
}

// RecordCompletion records a finished request with its terminal status.
func (c *Collector) RecordCompletion(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completionsByStatus[status]++
}

// RecordLLMUsage records tokens and dollar cost attributed to a tenant.
func (c *Collector) RecordLLMUsage(tenantID string, tokens int64, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.llmTokensByTenant[tenantID] += tokens
	c.costByTenant[tenantID] += cost
}

// RecordCost adds dollar cost for a tenant without token usage.
func (c *Collector) RecordCost(tenantID string, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.costByTenant[tenantID] += cost
}

// RecordCacheHit counts a cache hit or miss.
func (c *Collector) RecordCacheHit(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.cacheHits++
	} else {
		c.cacheMisses++
	}
}

// RecordAdapterRequest records a call to a downstream adapter.
func (c *Collector) RecordAdapterRequest(adapter string, duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapterRequests[adapter]++
	c.adapterLatency[adapter] += duration.Milliseconds()
	if err != nil {
		c.adapterErrors[adapter]++
	}
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime              int64
	Admitted            int64
	RejectedByKind      map[string]int64
	AdmittedByTier      map[string]int64
	LocalQueueDepth     int64
	GlobalQueueDepth    int64
	DLQDepth            int64
	DispatchesByTier    map[string]int64
	WorkConserving      int64
	NoisyNeighbors      map[string]int64
	InflightByTier      map[string]int64
	LeakageAttempts     int64
	InjectionAttempts   int64
	BehaviorSignals     map[string]int64
	BreakerTransitions  map[string]int64
	RetriesAttempted    int64
	CompletionsByStatus map[string]int64
	LLMTokensByTenant   map[string]int64
	CostByTenant        map[string]float64
	CacheHits           int64
	CacheMisses         int64
	AdapterRequests     map[string]int64
	AdapterErrors       map[string]int64
	AdapterLatency      map[string]int64
}

// GetSnapshot copies current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:              int64(time.Since(c.startTime).Seconds()),
		Admitted:            c.admitted,
		RejectedByKind:      copyMap(c.rejectedByKind),
		AdmittedByTier:      copyMap(c.admittedByTier),
		LocalQueueDepth:     c.localQueueDepth,
		GlobalQueueDepth:    c.globalQueueDepth,
		DLQDepth:            c.dlqDepth,
		DispatchesByTier:    copyMap(c.dispatchesByTier),
		WorkConserving:      c.workConserving,
		NoisyNeighbors:      copyMap(c.noisyNeighbors),
		InflightByTier:      copyMap(c.inflightByTier),
		LeakageAttempts:     c.leakageAttempts,
		InjectionAttempts:   c.injectionAttempts,
		BehaviorSignals:     copyMap(c.behaviorSignals),
		BreakerTransitions:  copyMap(c.breakerTransitions),
		RetriesAttempted:    c.retriesAttempted,
		CompletionsByStatus: copyMap(c.completionsByStatus),
		LLMTokensByTenant:   copyMap(c.llmTokensByTenant),
		CostByTenant:        copyMap(c.costByTenant),
		CacheHits:           c.cacheHits,
		CacheMisses:         c.cacheMisses,
		AdapterRequests:     copyMap(c.adapterRequests),
		AdapterErrors:       copyMap(c.adapterErrors),
		AdapterLatency:      copyMap(c.adapterLatency),
	}
}

func copyMap[T any](m map[string]T) map[string]T {
	out := make(map[string]T, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
