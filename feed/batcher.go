package feed

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/herald-io/herald/model"
	"github.com/herald-io/herald/telemetry"
)

const (
	// DefaultBatchWindow amortizes per-batch overhead over event bursts
	DefaultBatchWindow = 100 * time.Millisecond
	// DefaultMaxBatchSize bounds batch memory during import storms
	DefaultMaxBatchSize = 512
)

// Handler processes one coalesced batch. A panic inside the handler is the
// process's problem; the batcher does not recover or retry.
type Handler func(batch []*model.ChangeEvent)

// Batcher coalesces source events over a short window and drives the
// handler one batch at a time. The next batch accumulates while the
// current one is processed.
type Batcher struct {
	source  Source
	filter  Filter
	handler Handler

	window  time.Duration
	maxSize int

	running     atomic.Bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	lifecycleMu sync.Mutex
}

// NewBatcher creates a batcher. filter may be nil to accept every event.
func NewBatcher(source Source, filter Filter, window time.Duration, maxSize int, handler Handler) *Batcher {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxBatchSize
	}
	return &Batcher{
		source:  source,
		filter:  filter,
		handler: handler,
		window:  window,
		maxSize: maxSize,
	}
}

// Start starts the batching goroutine.
func (b *Batcher) Start() {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.running.Load() {
		return
	}
	b.running.Store(true)
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})

	log.Info().Dur("window", b.window).Int("max_batch", b.maxSize).Msg("Starting feed batcher")
	go b.loop()
}

// Stop stops the batcher, flushing any accumulated events first.
func (b *Batcher) Stop() {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.running.Load() {
		return
	}
	close(b.stopCh)
	<-b.doneCh
	b.running.Store(false)
	log.Info().Msg("Feed batcher stopped")
}

func (b *Batcher) loop() {
	defer close(b.doneCh)

	var batch []*model.ChangeEvent
	var window <-chan time.Time

	flush := func() {
		if len(batch) == 0 {
			return
		}
		telemetry.BatchSize.Observe(float64(len(batch)))
		b.handler(batch)
		batch = nil
		window = nil
	}

	for {
		select {
		case ev, ok := <-b.source.Events():
			if !ok {
				flush()
				return
			}
			if b.filter != nil && !b.filter.Match(ev.Schema, ev.Table) {
				continue
			}
			telemetry.EventsIngestedTotal.Inc()
			batch = append(batch, ev)
			if len(batch) == 1 {
				window = time.After(b.window)
			}
			if len(batch) >= b.maxSize {
				flush()
			}

		case <-window:
			flush()

		case <-b.stopCh:
			flush()
			return
		}
	}
}
