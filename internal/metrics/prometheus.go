package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus renders a snapshot in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP genai_uptime_seconds Time since the gateway started\n")
	sb.WriteString("# TYPE genai_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("genai_uptime_seconds %d\n\n", snap.Uptime))

	sb.WriteString("# HELP genai_admitted_total Requests admitted\n")
	sb.WriteString("# TYPE genai_admitted_total counter\n")
	sb.WriteString(fmt.Sprintf("genai_admitted_total %d\n\n", snap.Admitted))

	sb.WriteString("# HELP genai_rejected_total Requests rejected by reason\n")
	sb.WriteString("# TYPE genai_rejected_total counter\n")
	for _, kind := range sortedKeys(snap.RejectedByKind) {
		sb.WriteString(fmt.Sprintf("genai_rejected_total{reason=\"%s\"} %d\n", kind, snap.RejectedByKind[kind]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP genai_admitted_by_tier_total Admissions by tier\n")
	sb.WriteString("# TYPE genai_admitted_by_tier_total counter\n")
	for _, tier := range sortedKeys(snap.AdmittedByTier) {
		sb.WriteString(fmt.Sprintf("genai_admitted_by_tier_total{tier=\"%s\"} %d\n", tier, snap.AdmittedByTier[tier]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP genai_queue_depth Current queue depths\n")
	sb.WriteString("# TYPE genai_queue_depth gauge\n")
	sb.WriteString(fmt.Sprintf("genai_queue_depth{queue=\"local\"} %d\n", snap.LocalQueueDepth))
	sb.WriteString(fmt.Sprintf("genai_queue_depth{queue=\"global\"} %d\n", snap.GlobalQueueDepth))
	sb.WriteString(fmt.Sprintf("genai_queue_depth{queue=\"dlq\"} %d\n\n", snap.DLQDepth))

	sb.WriteString("# HELP genai_dispatches_total Scheduler dispatches by tier\n")
	sb.WriteString("# TYPE genai_dispatches_total counter\n")
	for _, tier := range sortedKeys(snap.DispatchesByTier) {
		sb.WriteString(fmt.Sprintf("genai_dispatches_total{tier=\"%s\"} %d\n", tier, snap.DispatchesByTier[tier]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP genai_work_conserving_dispatches_total Dispatches past tier caps under work conservation\n")
	sb.WriteString("# TYPE genai_work_conserving_dispatches_total counter\n")
	sb.WriteString(fmt.Sprintf("genai_work_conserving_dispatches_total %d\n\n", snap.WorkConserving))

	sb.WriteString("# HELP genai_inflight Current in-flight requests by tier\n")
	sb.WriteString("# TYPE genai_inflight gauge\n")
	for _, tier := range sortedKeys(snap.InflightByTier) {
		sb.WriteString(fmt.Sprintf("genai_inflight{tier=\"%s\"} %d\n", tier, snap.InflightByTier[tier]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP genai_noisy_neighbor_signals_total Noisy-neighbour threshold crossings by tenant\n")
	sb.WriteString("# TYPE genai_noisy_neighbor_signals_total counter\n")
	for _, tenantID := range sortedKeys(snap.NoisyNeighbors) {
		sb.WriteString(fmt.Sprintf("genai_noisy_neighbor_signals_total{tenant=\"%s\"} %d\n", tenantID, snap.NoisyNeighbors[tenantID]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP genai_cross_tenant_leakage_attempts_total Blocked cross-tenant accesses\n")
	sb.WriteString("# TYPE genai_cross_tenant_leakage_attempts_total counter\n")
	sb.WriteString(fmt.Sprintf("genai_cross_tenant_leakage_attempts_total %d\n\n", snap.LeakageAttempts))

	sb.WriteString("# HELP genai_injection_attempts_total Rejected prompt-injection attempts\n")
	sb.WriteString("# TYPE genai_injection_attempts_total counter\n")
	sb.WriteString(fmt.Sprintf("genai_injection_attempts_total %d\n\n", snap.InjectionAttempts))

	sb.WriteString("# HELP genai_behavior_signals_total Abuse-detector signals by kind\n")
	sb.WriteString("# TYPE genai_behavior_signals_total counter\n")
	for _, kind := range sortedKeys(snap.BehaviorSignals) {
		sb.WriteString(fmt.Sprintf("genai_behavior_signals_total{kind=\"%s\"} %d\n", kind, snap.BehaviorSignals[kind]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP genai_breaker_transitions_total Circuit-breaker state transitions\n")
	sb.WriteString("# TYPE genai_breaker_transitions_total counter\n")
	for _, key := range sortedKeys(snap.BreakerTransitions) {
		sb.WriteString(fmt.Sprintf("genai_breaker_transitions_total{transition=\"%s\"} %d\n", key, snap.BreakerTransitions[key]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP genai_retries_total Retry attempts by the resilience layer\n")
	sb.WriteString("# TYPE genai_retries_total counter\n")
	sb.WriteString(fmt.Sprintf("genai_retries_total %d\n\n", snap.RetriesAttempted))

	sb.WriteString("# HELP genai_completions_total Completed requests by terminal status\n")
	sb.WriteString("# TYPE genai_completions_total counter\n")
	for _, status := range sortedKeys(snap.CompletionsByStatus) {
		sb.WriteString(fmt.Sprintf("genai_completions_total{status=\"%s\"} %d\n", status, snap.CompletionsByStatus[status]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP genai_llm_tokens_total LLM tokens by tenant\n")
	sb.WriteString("# TYPE genai_llm_tokens_total counter\n")
	for _, tenantID := range sortedKeys(snap.LLMTokensByTenant) {
		sb.WriteString(fmt.Sprintf("genai_llm_tokens_total{tenant=\"%s\"} %d\n", tenantID, snap.LLMTokensByTenant[tenantID]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP genai_cost_dollars_total Accumulated cost by tenant\n")
	sb.WriteString("# TYPE genai_cost_dollars_total counter\n")
	for _, tenantID := range sortedKeys(snap.CostByTenant) {
		sb.WriteString(fmt.Sprintf("genai_cost_dollars_total{tenant=\"%s\"} %.6f\n", tenantID, snap.CostByTenant[tenantID]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP genai_cache_hits_total Cache hits and misses\n")
	sb.WriteString("# TYPE genai_cache_hits_total counter\n")
	sb.WriteString(fmt.Sprintf("genai_cache_hits_total{result=\"hit\"} %d\n", snap.CacheHits))
	sb.WriteString(fmt.Sprintf("genai_cache_hits_total{result=\"miss\"} %d\n\n", snap.CacheMisses))

	sb.WriteString("# HELP genai_adapter_requests_total Requests to downstream adapters\n")
	sb.WriteString("# TYPE genai_adapter_requests_total counter\n")
	for _, adapter := range sortedKeys(snap.AdapterRequests) {
		sb.WriteString(fmt.Sprintf("genai_adapter_requests_total{adapter=\"%s\"} %d\n", adapter, snap.AdapterRequests[adapter]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP genai_adapter_errors_total Errors from downstream adapters\n")
	sb.WriteString("# TYPE genai_adapter_errors_total counter\n")
	for _, adapter := range sortedKeys(snap.AdapterErrors) {
		sb.WriteString(fmt.Sprintf("genai_adapter_errors_total{adapter=\"%s\"} %d\n", adapter, snap.AdapterErrors[adapter]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP genai_adapter_latency_ms_total Cumulative adapter latency in milliseconds\n")
	sb.WriteString("# TYPE genai_adapter_latency_ms_total counter\n")
	for _, adapter := range sortedKeys(snap.AdapterLatency) {
		sb.WriteString(fmt.Sprintf("genai_adapter_latency_ms_total{adapter=\"%s\"} %d\n", adapter, snap.AdapterLatency[adapter]))
	}

	return sb.String()
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
