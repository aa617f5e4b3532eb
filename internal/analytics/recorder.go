package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Recorder accepts events on a bounded channel and flushes them to the
// store in batches. Record never blocks: when the channel is full the
// event is dropped and counted.
type Recorder struct {
	store         *Store
	events        chan Event
	dropped       atomic.Uint64
	writers       int
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  atomic.Bool
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	BufferSize    int
	Writers       int
	BatchSize     int
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// NewRecorder starts the writer goroutines and returns the recorder.
func NewRecorder(store *Store, cfg RecorderConfig) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.Writers <= 0 {
		cfg.Writers = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Recorder{
		store:         store,
		events:        make(chan Event, cfg.BufferSize),
		writers:       cfg.Writers,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger,
	}
	for i := 0; i < cfg.Writers; i++ {
		r.wg.Add(1)
		go r.writeLoop()
	}
	return r
}

// Record enqueues an event, dropping it when the buffer is full or the
// recorder is shut down.
func (r *Recorder) Record(ev Event) {
	if r.closed.Load() {
		r.dropped.Add(1)
		return
	}
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the count of events lost to a full buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// writeLoop batches events until size or time triggers a flush. The loop
// exits after draining when the channel closes.
func (r *Recorder) writeLoop() {
	defer r.wg.Done()

	batch := make([]Event, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.store.WriteBatch(ctx, batch); err != nil {
			r.logger.Warn("analytics_flush_failed",
				slog.Int("batch_size", len(batch)),
				slog.Any("error", err))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close stops intake, flushes pending events, and waits for the writers.
func (r *Recorder) Close() {
	r.closeMu.Lock()
	if r.closed.Swap(true) {
		r.closeMu.Unlock()
		return
	}
	close(r.events)
	r.closeMu.Unlock()

	r.wg.Wait()

	if dropped := r.Dropped(); dropped > 0 {
		r.logger.Warn("analytics_events_dropped", slog.Uint64("count", dropped))
	}
}
