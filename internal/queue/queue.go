package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gridware/genai-gateway/internal/fault"
	"github.com/gridware/genai-gateway/internal/kv"
)

// Options configures a two-level queue.
type Options struct {
	Prefix         string // key namespace, e.g. "genai:"
	InstanceID     string // this instance's local-queue identity
	LocalMaxDepth  int
	GlobalMaxDepth int
}

// Queue is the two-level request queue. The local level is a bounded FIFO
// private to this instance; the global level is a shared priority set other
// instances drain too. Expired items land in the DLQ.
//
// Local-queue operations are not individually atomic on the KV side; the
// scheduler serialises access to them under its own exclusion domain, so
// only global-queue pops need server-side atomicity.
type Queue struct {
	store kv.Store
	opts  Options

	localKey  string
	globalKey string
	dlqKey    string

	stats struct {
		mu             sync.Mutex
		enqueuedLocal  uint64
		enqueuedGlobal uint64
		overflows      uint64
		dequeued       uint64
		swept          uint64
	}
}

// New creates a queue over the shared KV store.
func New(store kv.Store, opts Options) *Queue {
	if opts.Prefix == "" {
		opts.Prefix = "genai:"
	}
	if opts.LocalMaxDepth <= 0 {
		opts.LocalMaxDepth = 100
	}
	if opts.GlobalMaxDepth <= 0 {
		opts.GlobalMaxDepth = opts.LocalMaxDepth
	}
	return &Queue{
		store:     store,
		opts:      opts,
		localKey:  opts.Prefix + "queue:local:" + opts.InstanceID,
		globalKey: opts.Prefix + "queue:global:priority",
		dlqKey:    opts.Prefix + "queue:dlq",
	}
}

// Enqueue places a request on the local queue, spilling to the global
// priority set when the local queue is full. Both full means overflow.
func (q *Queue) Enqueue(ctx context.Context, req *QueuedRequest) error {
	encoded, err := req.Encode()
	if err != nil {
		return err
	}

	localDepth, err := q.store.ListLen(ctx, q.localKey)
	if err != nil {
		return fmt.Errorf("queue: local depth: %w", err)
	}
	if localDepth < int64(q.opts.LocalMaxDepth) {
		if err := q.store.ListPush(ctx, q.localKey, encoded); err != nil {
			return fmt.Errorf("queue: local push: %w", err)
		}
		q.stats.mu.Lock()
		q.stats.enqueuedLocal++
		q.stats.mu.Unlock()
		log.Printf("[DEBUG] Queue.Enqueue: request %s -> local (depth=%d)", req.RequestID, localDepth+1)
		return nil
	}

	globalDepth, err := q.store.ZCard(ctx, q.globalKey)
	if err != nil {
		return fmt.Errorf("queue: global depth: %w", err)
	}
	if globalDepth >= int64(q.opts.GlobalMaxDepth) {
		q.stats.mu.Lock()
		q.stats.overflows++
		q.stats.mu.Unlock()
		log.Printf("[WARN] Queue.Enqueue: request %s rejected, both levels full (local=%d global=%d)",
			req.RequestID, localDepth, globalDepth)
		return fault.New(fault.KindQueueOverflow, "queue.Enqueue")
	}
	if err := q.store.ZAdd(ctx, q.globalKey, encoded, req.Score()); err != nil {
		return fmt.Errorf("queue: global add: %w", err)
	}
	q.stats.mu.Lock()
	q.stats.enqueuedGlobal++
	q.stats.mu.Unlock()
	log.Printf("[DEBUG] Queue.Enqueue: request %s -> global overflow (tier=%d depth=%d)",
		req.RequestID, req.TierPriority, globalDepth+1)
	return nil
}

// Dequeue returns the next request, preferring the local FIFO over the
// global priority set. Expired items encountered on the way are diverted to
// the DLQ rather than returned.
func (q *Queue) Dequeue(ctx context.Context) (*QueuedRequest, bool, error) {
	now := time.Now()
	for {
		encoded, ok, err := q.store.ListPopTail(ctx, q.localKey)
		if err != nil {
			return nil, false, fmt.Errorf("queue: local pop: %w", err)
		}
		if !ok {
			break
		}
		req, err := DecodeRequest(encoded)
		if err != nil {
			log.Printf("[ERROR] Queue.Dequeue: dropping undecodable local item: %v", err)
			continue
		}
		if req.Expired(now) {
			q.deadLetter(ctx, encoded, req.RequestID)
			continue
		}
		q.countDequeue()
		return req, true, nil
	}

	for {
		member, ok, err := q.store.ZPopMin(ctx, q.globalKey)
		if err != nil {
			return nil, false, fmt.Errorf("queue: global pop: %w", err)
		}
		if !ok {
			return nil, false, nil
		}
		req, err := DecodeRequest(member.Value)
		if err != nil {
			log.Printf("[ERROR] Queue.Dequeue: dropping undecodable global item: %v", err)
			continue
		}
		if req.Expired(now) {
			q.deadLetter(ctx, member.Value, req.RequestID)
			continue
		}
		q.countDequeue()
		return req, true, nil
	}
}

// DequeueTier returns the oldest request of the given tier, searching the
// local FIFO first and then the global set filtered by the serialized
// tier_priority field.
func (q *Queue) DequeueTier(ctx context.Context, tier int) (*QueuedRequest, bool, error) {
	now := time.Now()

	items, err := q.store.ListRange(ctx, q.localKey)
	if err != nil {
		return nil, false, fmt.Errorf("queue: local range: %w", err)
	}
	// ListPush prepends, so the oldest entry sits at the tail.
	for i := len(items) - 1; i >= 0; i-- {
		req, err := DecodeRequest(items[i])
		if err != nil || req.TierPriority != tier {
			continue
		}
		if err := q.store.ListRemove(ctx, q.localKey, items[i]); err != nil {
			return nil, false, fmt.Errorf("queue: local remove: %w", err)
		}
		if req.Expired(now) {
			q.deadLetter(ctx, items[i], req.RequestID)
			continue
		}
		q.countDequeue()
		return req, true, nil
	}

	for {
		member, ok, err := q.store.ZPopMinField(ctx, q.globalKey, "tier_priority", int64(tier))
		if err != nil {
			return nil, false, fmt.Errorf("queue: global tier pop: %w", err)
		}
		if !ok {
			return nil, false, nil
		}
		req, err := DecodeRequest(member.Value)
		if err != nil {
			log.Printf("[ERROR] Queue.DequeueTier: dropping undecodable global item: %v", err)
			continue
		}
		if req.Expired(now) {
			q.deadLetter(ctx, member.Value, req.RequestID)
			continue
		}
		q.countDequeue()
		return req, true, nil
	}
}

// HasTier reports whether a request of the given tier is waiting on either
// level. The scheduler surfaces this per tier on the stats endpoint.
func (q *Queue) HasTier(ctx context.Context, tier int) (bool, error) {
	items, err := q.store.ListRange(ctx, q.localKey)
	if err != nil {
		return false, fmt.Errorf("queue: local range: %w", err)
	}
	for _, item := range items {
		if req, err := DecodeRequest(item); err == nil && req.TierPriority == tier {
			return true, nil
		}
	}

	_, ok, err := q.store.ZPeekMinField(ctx, q.globalKey, "tier_priority", int64(tier))
	if err != nil {
		return false, fmt.Errorf("queue: global tier peek: %w", err)
	}
	return ok, nil
}

// SweepExpired moves every request whose deadline has passed from both
// levels into the DLQ and returns the affected request ids.
func (q *Queue) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	var expired []string

	items, err := q.store.ListRange(ctx, q.localKey)
	if err != nil {
		return nil, fmt.Errorf("queue: sweep local: %w", err)
	}
	for _, item := range items {
		req, err := DecodeRequest(item)
		if err != nil {
			q.store.ListRemove(ctx, q.localKey, item)
			continue
		}
		if !req.Expired(now) {
			continue
		}
		if err := q.store.ListRemove(ctx, q.localKey, item); err != nil {
			return expired, fmt.Errorf("queue: sweep local remove: %w", err)
		}
		q.deadLetter(ctx, item, req.RequestID)
		expired = append(expired, req.RequestID)
	}

	members, err := q.store.ZRangeAll(ctx, q.globalKey)
	if err != nil {
		return expired, fmt.Errorf("queue: sweep global: %w", err)
	}
	for _, member := range members {
		req, err := DecodeRequest(member.Value)
		if err != nil {
			q.store.ZRem(ctx, q.globalKey, member.Value)
			continue
		}
		if !req.Expired(now) {
			continue
		}
		if err := q.store.ZRem(ctx, q.globalKey, member.Value); err != nil {
			return expired, fmt.Errorf("queue: sweep global remove: %w", err)
		}
		q.deadLetter(ctx, member.Value, req.RequestID)
		expired = append(expired, req.RequestID)
	}

	if len(expired) > 0 {
		q.stats.mu.Lock()
		q.stats.swept += uint64(len(expired))
		q.stats.mu.Unlock()
		log.Printf("[WARN] Queue.SweepExpired: moved %d expired request(s) to DLQ", len(expired))
	}
	return expired, nil
}

// DeadLetter pushes an already-dequeued request onto the DLQ. Workers use
// this for items cancelled during shutdown.
func (q *Queue) DeadLetter(ctx context.Context, req *QueuedRequest) error {
	encoded, err := req.Encode()
	if err != nil {
		return err
	}
	q.deadLetter(ctx, encoded, req.RequestID)
	return nil
}

func (q *Queue) deadLetter(ctx context.Context, encoded, requestID string) {
	if err := q.store.ListPush(ctx, q.dlqKey, encoded); err != nil {
		log.Printf("[ERROR] Queue: DLQ push failed for request %s: %v", requestID, err)
	}
}

// RunSweeper runs SweepExpired on the given interval until ctx is done.
func (q *Queue) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("[INFO] Queue.RunSweeper: started (interval=%v)", interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] Queue.RunSweeper: stopped")
			return
		case <-ticker.C:
			if _, err := q.SweepExpired(ctx, time.Now()); err != nil {
				log.Printf("[ERROR] Queue.RunSweeper: sweep failed: %v", err)
			}
		}
	}
}

// LocalDepth returns the local FIFO depth.
func (q *Queue) LocalDepth(ctx context.Context) (int64, error) {
	return q.store.ListLen(ctx, q.localKey)
}

// GlobalDepth returns the global priority-set depth.
func (q *Queue) GlobalDepth(ctx context.Context) (int64, error) {
	return q.store.ZCard(ctx, q.globalKey)
}

// DLQDepth returns the dead-letter queue depth.
func (q *Queue) DLQDepth(ctx context.Context) (int64, error) {
	return q.store.ListLen(ctx, q.dlqKey)
}

// GetStats returns queue counters for the stats endpoint.
func (q *Queue) GetStats(ctx context.Context) map[string]interface{} {
	q.stats.mu.Lock()
	enqueuedLocal := q.stats.enqueuedLocal
	enqueuedGlobal := q.stats.enqueuedGlobal
	overflows := q.stats.overflows
	dequeued := q.stats.dequeued
	swept := q.stats.swept
	q.stats.mu.Unlock()

	localDepth, _ := q.LocalDepth(ctx)
	globalDepth, _ := q.GlobalDepth(ctx)
	dlqDepth, _ := q.DLQDepth(ctx)

	return map[string]interface{}{
		"enqueued_local":  enqueuedLocal,
		"enqueued_global": enqueuedGlobal,
		"overflows":       overflows,
		"dequeued":        dequeued,
		"swept_to_dlq":    swept,
		"local_depth":     localDepth,
		"global_depth":    globalDepth,
		"dlq_depth":       dlqDepth,
	}
}

func (q *Queue) countDequeue() {
	q.stats.mu.Lock()
	q.stats.dequeued++
	q.stats.mu.Unlock()
}
