package store

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gatewatch/gatewatch/internal/model"
)

// DefaultFlushQueueSize is the number of batches that can be queued for async flushing.
const DefaultFlushQueueSize = 64

// InsertBuffer batches log records and flushes them to DuckDB asynchronously.
// Add() never blocks on DuckDB writes - records are sent to a flush goroutine.
type InsertBuffer struct {
	writer        RecordWriter
	mu            sync.Mutex
	pending       []*model.Record
	flushChan     chan []*model.Record // async flush queue
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup // separate WaitGroup for tickLoop
	stopOnce      sync.Once

	// backpressureCount tracks inline flushes for throttled logging.
	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64 // unix timestamp of last backpressure log
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
}

// NewInsertBuffer creates a new insert buffer that flushes to the writer.
// The flush goroutine processes batches asynchronously so Add() never blocks on IO.
func NewInsertBuffer(writer RecordWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := 2000
	flushInterval := 100 * time.Millisecond
	flushQueueSize := DefaultFlushQueueSize
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
	}

	b := &InsertBuffer{
		writer:        writer,
		pending:       make([]*model.Record, 0, batchSize),
		flushChan:     make(chan []*model.Record, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// tickLoop periodically drains the pending buffer.
func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending() // final drain
			return
		}
	}
}

// logBackpressure emits a throttled warning (at most once per 10 seconds) when
// the flush channel is full and an inline flush is triggered.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		log.Printf("store: backpressure, %d inline flushes (flush channel full, DuckDB falling behind)", count)
	}
}

// drainPending moves pending records to the flush channel without blocking on DuckDB.
func (b *InsertBuffer) drainPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make([]*model.Record, 0, b.maxBatch)
	b.mu.Unlock()

	// Non-blocking send to flush channel. If channel is full, flush synchronously
	// as a safety valve (this means DuckDB is falling behind).
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		if err := b.writer.InsertLogBatch(batch); err != nil {
			log.Printf("store: flush error (inline): %v", err)
		}
	}
}

// flushWorker processes batches from the flush channel.
func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		if err := b.writer.InsertLogBatch(batch); err != nil {
			log.Printf("store: flush error: %v", err)
		}
	}
}

// Add queues a record for batch insertion. This never blocks on DuckDB IO.
func (b *InsertBuffer) Add(record *model.Record) {
	b.mu.Lock()
	b.pending = append(b.pending, record)
	shouldFlush := len(b.pending) >= b.maxBatch
	var batch []*model.Record
	if shouldFlush {
		batch = b.pending
		b.pending = make([]*model.Record, 0, b.maxBatch)
	}
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- batch:
		default:
			// Backpressure safety valve: flush inline instead of spawning
			// unbounded goroutines under sustained overload.
			b.logBackpressure()
			if err := b.writer.InsertLogBatch(batch); err != nil {
				log.Printf("store: flush error (overflow-inline): %v", err)
			}
		}
	}
}

// Stop flushes remaining records and waits for all writes to complete.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// Wait for tickLoop to finish its final drain before closing flushChan,
		// ensuring all pending records are sent to the flush channel.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
	})
}

// InsertLogBatch appends a batch of parsed records into DuckDB in a single
// transaction. If any individual record fails to insert, the entire batch is
// rolled back and retried record-by-record to salvage as many as possible.
func (s *Store) InsertLogBatch(records []*model.Record) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertBatchTx(ctx, records)
	if err == nil {
		return nil
	}

	// Batch failed. Retry record-by-record to salvage what we can.
	var failed int
	for _, r := range records {
		if rerr := s.insertBatchTx(ctx, []*model.Record{r}); rerr != nil {
			failed++
			log.Printf("store: dropping record (device=%s raw=%.80s): %v", r.Device, r.Raw, rerr)
		}
	}
	if failed > 0 {
		log.Printf("store: batch partially failed, %d/%d records dropped", failed, len(records))
	}
	return nil
}

// insertBatchTx inserts records in a single transaction.
func (s *Store) insertBatchTx(ctx context.Context, records []*model.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO logs
		(device, ts, received_at, source_addr, srcip, dstip, hostname, action,
		 log_type, subtype, category, srcport, dstport, proto, service, app, policyid, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, insertArgs(r)...); err != nil {
			return fmt.Errorf("record insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
