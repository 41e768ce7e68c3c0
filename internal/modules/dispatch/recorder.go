package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/restock/internal/domain"
	"github.com/rs/zerolog"
)

const insertTimeout = 10 * time.Second

// Recorder persists accepted transfers as in-transit rows on a single background consumer.
//
// The consumer starts on the first Enqueue and exits after idle time without records; a
// later Enqueue starts it again. Insert failures are logged and the record is dropped.
type Recorder struct {
	store domain.InTransitStore
	queue chan domain.SentTransfer
	idle  time.Duration
	log   zerolog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	inflight int // Enqueue calls between the lock and a completed send
	sending  sync.WaitGroup
	wg       sync.WaitGroup

	recorded atomic.Int64
	dropped  atomic.Int64
}

// NewRecorder creates a recorder with a queue of the given capacity
func NewRecorder(store domain.InTransitStore, buffer int, idle time.Duration, log zerolog.Logger) *Recorder {
	if buffer < 1 {
		buffer = 1
	}
	return &Recorder{
		store: store,
		queue: make(chan domain.SentTransfer, buffer),
		idle:  idle,
		log:   log.With().Str("component", "transfer_recorder").Logger(),
	}
}

// Enqueue hands a transfer to the consumer. It blocks only while the queue is full.
func (r *Recorder) Enqueue(t domain.SentTransfer) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.dropped.Add(1)
		r.log.Warn().Int("product_id", t.ProductID).Msg("Recorder closed, dropping transfer")
		return
	}
	if !r.running {
		r.running = true
		r.wg.Add(1)
		go r.consume()
	}
	// the consumer does not exit while a send is pending
	r.inflight++
	r.sending.Add(1)
	r.mu.Unlock()

	r.queue <- t

	r.mu.Lock()
	r.inflight--
	r.mu.Unlock()
	r.sending.Done()
}

// Close stops accepting records and waits until the queue is drained
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.wg.Wait()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.sending.Wait()
	close(r.queue)
	r.wg.Wait()
}

// Running reports whether the consumer goroutine is active
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Recorded returns how many transfers were persisted
func (r *Recorder) Recorded() int {
	return int(r.recorded.Load())
}

// Dropped returns how many transfers could not be persisted
func (r *Recorder) Dropped() int {
	return int(r.dropped.Load())
}

func (r *Recorder) consume() {
	defer r.wg.Done()

	timer := time.NewTimer(r.idle)
	defer timer.Stop()

	for {
		select {
		case t, ok := <-r.queue:
			if !ok {
				r.mu.Lock()
				r.running = false
				r.mu.Unlock()
				return
			}
			r.persist(t)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.idle)

		case <-timer.C:
			r.mu.Lock()
			if len(r.queue) > 0 || r.inflight > 0 {
				r.mu.Unlock()
				timer.Reset(r.idle)
				continue
			}
			r.running = false
			r.mu.Unlock()
			r.log.Debug().Dur("idle", r.idle).Msg("Recorder idle, exiting")
			return
		}
	}
}

func (r *Recorder) persist(t domain.SentTransfer) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := r.store.Insert(ctx, t); err != nil {
		r.dropped.Add(1)
		r.log.Error().
			Err(err).
			Int("product_id", t.ProductID).
			Int("size_id", t.SizeID).
			Int("from", t.FromWarehouse).
			Int("to", t.ToWarehouse).
			Int("quantity", t.Quantity).
			Msg("Failed to record transfer in transit")
		return
	}
	r.recorded.Add(1)
}
