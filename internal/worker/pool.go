// Package worker runs the bounded execution pool. Workers pull dispatched
// requests from the scheduler, run them through the RAG pipeline under the
// request deadline, and release their slots on completion.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gridware/genai-gateway/internal/audit"
	"github.com/gridware/genai-gateway/internal/fault"
	"github.com/gridware/genai-gateway/internal/ledger"
	"github.com/gridware/genai-gateway/internal/metrics"
	"github.com/gridware/genai-gateway/internal/queue"
	"github.com/gridware/genai-gateway/internal/rag"
	"github.com/gridware/genai-gateway/internal/scheduler"
	"github.com/gridware/genai-gateway/internal/tenant"
)

// ResultFunc receives every finished request. err is nil on success; res is
// nil on failure. Called from worker goroutines.
type ResultFunc func(req *queue.QueuedRequest, res *rag.Result, err error)

// Options configures the pool.
type Options struct {
	PoolSize           int
	QueueCheckInterval time.Duration // poll fallback when no wake signal arrives
	ShutdownGrace      time.Duration // drain budget before in-flight work is cancelled
	OnResult           ResultFunc
}

// DefaultOptions returns the production pool settings.
func DefaultOptions() Options {
	return Options{
		PoolSize:           10,
		QueueCheckInterval: 100 * time.Millisecond,
		ShutdownGrace:      120 * time.Second,
	}
}

// Pool drives PoolSize workers over the scheduler.
type Pool struct {
	sched    *scheduler.Scheduler
	queue    *queue.Queue
	pipeline *rag.Pipeline
	tenants  tenant.Adapter
	ledger   ledger.Store
	costs    ledger.CostModel
	mx       *metrics.Collector
	sink     audit.Sink
	opts     Options

	// loopCancel stops workers taking new requests; execCancel aborts
	// whatever is still running when the drain budget is spent.
	loopCtx    context.Context
	loopCancel context.CancelFunc
	execCtx    context.Context
	execCancel context.CancelFunc

	wg      sync.WaitGroup
	startMu sync.Mutex
	started bool
	drained bool
}

// New creates a stopped pool.
func New(
	sched *scheduler.Scheduler,
	q *queue.Queue,
	pipeline *rag.Pipeline,
	tenants tenant.Adapter,
	store ledger.Store,
	costs ledger.CostModel,
	mx *metrics.Collector,
	sink audit.Sink,
	opts Options,
) *Pool {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	if opts.QueueCheckInterval <= 0 {
		opts.QueueCheckInterval = 100 * time.Millisecond
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 120 * time.Second
	}
	if store == nil {
		store = ledger.Discard
	}
	if sink == nil {
		sink = audit.Discard
	}
	return &Pool{
		sched:    sched,
		queue:    q,
		pipeline: pipeline,
		tenants:  tenants,
		ledger:   store,
		costs:    costs,
		mx:       mx,
		sink:     sink,
		opts:     opts,
	}
}

// Start launches the workers. Calling Start twice is an error.
func (p *Pool) Start() error {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		return errors.New("worker pool already started")
	}
	p.started = true

	p.loopCtx, p.loopCancel = context.WithCancel(context.Background())
	p.execCtx, p.execCancel = context.WithCancel(context.Background())

	for i := 0; i < p.opts.PoolSize; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	log.Printf("[INFO] WorkerPool: started %d workers (check_interval=%v)",
		p.opts.PoolSize, p.opts.QueueCheckInterval)
	return nil
}

// Stop drains the pool: workers stop taking new requests immediately, then
// in-flight work gets ShutdownGrace to finish before it is cancelled and
// dead-lettered.
func (p *Pool) Stop() error {
	p.startMu.Lock()
	if !p.started {
		p.startMu.Unlock()
		return nil
	}
	p.startMu.Unlock()

	log.Printf("[INFO] WorkerPool: draining (grace=%v, inflight=%d)",
		p.opts.ShutdownGrace, p.sched.InflightTotal())
	p.loopCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[INFO] WorkerPool: ✓ drained cleanly")
		return nil
	case <-time.After(p.opts.ShutdownGrace):
		inflight := p.sched.InflightTotal()
		log.Printf("[WARN] WorkerPool: drain budget spent, cancelling %d in-flight requests", inflight)
		p.markDrained()
		p.execCancel()
		<-done
		return fmt.Errorf("worker pool: %d requests cancelled at shutdown", inflight)
	}
}

func (p *Pool) markDrained() {
	p.startMu.Lock()
	p.drained = true
	p.startMu.Unlock()
}

func (p *Pool) isDrained() bool {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	return p.drained
}

// run is one worker loop. Workers block on the scheduler wake channel and
// fall back to a periodic queue check so a missed signal never strands work.
func (p *Pool) run(id int) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.QueueCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.loopCtx.Done():
			return
		default:
		}

		req, ok, err := p.sched.Next(p.loopCtx)
		if err != nil {
			if p.loopCtx.Err() != nil {
				return
			}
			log.Printf("[ERROR] Worker[%d]: scheduler error: %v", id, err)
		}
		if !ok || err != nil {
			select {
			case <-p.loopCtx.Done():
				return
			case <-p.sched.WakeChan():
			case <-ticker.C:
			}
			continue
		}

		p.execute(id, req)
	}
}

// execute runs one request end to end and always releases its scheduler
// slot.
func (p *Pool) execute(id int, req *queue.QueuedRequest) {
	defer p.sched.Complete(req.RequestID)

	ctx, cancel := context.WithDeadline(p.execCtx, req.Deadline())
	defer cancel()
	start := time.Now()

	res, err := p.process(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		if p.isDrained() && errors.Is(err, context.Canceled) {
			p.deadLetter(req)
			err = fault.Wrap(fault.KindDeadlineExceeded, "worker.execute", err)
		} else if errors.Is(err, context.DeadlineExceeded) && !fault.IsKind(err, fault.KindDeadlineExceeded) {
			err = fault.Wrap(fault.KindDeadlineExceeded, "worker.execute", err)
		}
		kind := string(fault.KindOf(err))
		log.Printf("[ERROR] Worker[%d]: ✗ request %s failed after %v: %v", id, req.RequestID, elapsed, err)
		if p.mx != nil {
			p.mx.RecordCompletion(kind)
		}
		audit.LogQuery(p.sink, req.TenantID, req.UserID, req.Payload.Query, "failed:"+kind)
		p.finish(req, nil, err)
		return
	}

	computeCost := p.costs.Compute(elapsed)
	res.CostDollars += computeCost
	p.recordCompute(req, computeCost, elapsed)

	log.Printf("[INFO] Worker[%d]: ✓ request %s completed in %v (tokens=%d cost=$%.6f cached=%t)",
		id, req.RequestID, elapsed, res.TokensUsed, res.CostDollars, res.Cached)
	if p.mx != nil {
		p.mx.RecordCompletion("completed")
	}
	audit.LogQuery(p.sink, req.TenantID, req.UserID, req.Payload.Query, "completed")
	p.finish(req, res, nil)
}

func (p *Pool) process(ctx context.Context, req *queue.QueuedRequest) (*rag.Result, error) {
	if req.Expired(time.Now()) {
		return nil, fault.New(fault.KindDeadlineExceeded, "worker.process")
	}
	tc, err := p.tenants.GetTenant(ctx, req.TenantID)
	if err != nil {
		return nil, fault.Wrap(fault.KindPermanentDependency, "worker.process", err)
	}
	return p.pipeline.Execute(ctx, tc, req)
}

func (p *Pool) recordCompute(req *queue.QueuedRequest, cost float64, elapsed time.Duration) {
	ev := ledger.CostEvent{
		TenantID:  req.TenantID,
		RequestID: req.RequestID,
		Kind:      ledger.KindCompute,
		Amount:    cost,
	}
	if err := p.ledger.Record(context.Background(), ev); err != nil {
		log.Printf("[WARN] Worker: compute cost not recorded for %s: %v", req.RequestID, err)
	}
	audit.LogCostEvent(p.sink, req.TenantID, string(ledger.KindCompute), cost, map[string]interface{}{
		"request_id": req.RequestID,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	if p.mx != nil {
		p.mx.RecordCost(req.TenantID, cost)
	}
}

func (p *Pool) deadLetter(req *queue.QueuedRequest) {
	if err := p.queue.DeadLetter(context.Background(), req); err != nil {
		log.Printf("[ERROR] Worker: dead-letter failed for %s: %v", req.RequestID, err)
		return
	}
	log.Printf("[WARN] Worker: request %s dead-lettered at shutdown", req.RequestID)
}

func (p *Pool) finish(req *queue.QueuedRequest, res *rag.Result, err error) {
	if p.opts.OnResult != nil {
		p.opts.OnResult(req, res, err)
	}
}
