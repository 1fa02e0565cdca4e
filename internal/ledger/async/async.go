// Package async wraps a ledger store with buffered batch writes so cost
// recording never blocks the worker completion path.
package async

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gridware/genai-gateway/internal/ledger"
)

// Store wraps a ledger.Store with asynchronous batch writes. Entries are
// queued in memory and flushed in batches.
// WARNING: entries may be lost if the process crashes before flushing.
type Store struct {
	underlying    ledger.Store
	eventChan     chan ledger.CostEvent
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
	logger        *log.Logger
}

// Config configures the async ledger behaviour.
type Config struct {
	BatchSize     int           // maximum events per batch (default: 100)
	FlushInterval time.Duration // maximum time between flushes (default: 1s)
	ChannelBuffer int           // channel buffer size (default: 10000)
	Logger        *log.Logger   // optional logger for diagnostics
}

// New wraps an existing ledger store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 1 * time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 10000
	}

	s := &Store{
		underlying:    underlying,
		eventChan:     make(chan ledger.CostEvent, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		stopChan:      make(chan struct{}),
		logger:        cfg.Logger,
	}

	s.wg.Add(1)
	go s.batchWriter()

	if s.logger != nil {
		s.logger.Printf("[async-ledger] started batch_size=%d flush_interval=%v buffer=%d",
			cfg.BatchSize, cfg.FlushInterval, cfg.ChannelBuffer)
	}
	return s
}

func (s *Store) batchWriter() {
	defer s.wg.Done()

	batch := make([]ledger.CostEvent, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx := context.Background()
		written := 0
		for _, ev := range batch {
			if err := s.underlying.Record(ctx, ev); err != nil {
				if s.logger != nil {
					s.logger.Printf("[async-ledger] ERROR writing event: %v", err)
				}
				continue
			}
			written++
		}
		if s.logger != nil && written < len(batch) {
			s.logger.Printf("[async-ledger] flushed %d/%d events", written, len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-s.eventChan:
			batch = append(batch, ev)
			if len(batch) >= s.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-s.stopChan:
			close(s.eventChan)
			for ev := range s.eventChan {
				batch = append(batch, ev)
				if len(batch) >= s.batchSize {
					flush()
				}
			}
			flush()
			return
		}
	}
}

// Record queues an event for asynchronous writing. Never blocks; when the
// buffer is full the event is dropped with a warning.
func (s *Store) Record(_ context.Context, ev ledger.CostEvent) error {
	select {
	case s.eventChan <- ev:
	default:
		if s.logger != nil {
			s.logger.Printf("[async-ledger] WARNING: channel full, dropping event tenant=%s", ev.TenantID)
		}
	}
	return nil
}

// Summary delegates to the underlying store.
func (s *Store) Summary(ctx context.Context, tenantID string) (ledger.Summary, error) {
	return s.underlying.Summary(ctx, tenantID)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, tenantID string, limit int) ([]ledger.CostEvent, error) {
	return s.underlying.ListRecent(ctx, tenantID, limit)
}

// Close flushes remaining events and closes the underlying store.
func (s *Store) Close() error {
	close(s.stopChan)
	s.wg.Wait()
	return s.underlying.Close()
}
