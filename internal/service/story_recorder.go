package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"glimmer/internal/middleware"
	"glimmer/internal/models"
)

const (
	defaultRecorderCapacity = 1024
	defaultFlushInterval    = 5 * time.Second
	flushTimeout            = 10 * time.Second
)

// FlushFunc persists a batch of story views.
type FlushFunc func(ctx context.Context, views []models.StoryView) error

// StoryViewRecorder batches story view records and flushes them on a timer.
// The queue is bounded: on overflow the oldest pending view is dropped and
// counted. A failed flush keeps its batch for exactly one more tick.
type StoryViewRecorder struct {
	mu       sync.Mutex
	queue    []models.StoryView
	retained []models.StoryView
	capacity int

	flush    FlushFunc
	interval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewStoryViewRecorder creates a recorder. Zero capacity or interval fall
// back to defaults.
func NewStoryViewRecorder(capacity int, interval time.Duration, flush FlushFunc) *StoryViewRecorder {
	if capacity <= 0 {
		capacity = defaultRecorderCapacity
	}
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &StoryViewRecorder{
		queue:    make([]models.StoryView, 0, capacity),
		capacity: capacity,
		flush:    flush,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Record enqueues a view. Never blocks; the oldest pending view is dropped
// when the queue is full.
func (r *StoryViewRecorder) Record(view models.StoryView) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) >= r.capacity {
		r.queue = r.queue[1:]
		middleware.MessagesDropped.WithLabelValues("story_view_overflow").Inc()
	}
	r.queue = append(r.queue, view)
}

// Pending returns the number of queued views, including a retained batch.
func (r *StoryViewRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue) + len(r.retained)
}

// Start launches the background flush loop.
func (r *StoryViewRecorder) Start() {
	r.startOnce.Do(func() {
		go r.loop()
	})
}

// Stop flushes whatever is pending and stops the loop.
func (r *StoryViewRecorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.doneCh
}

func (r *StoryViewRecorder) loop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.FlushOnce(context.Background())
		case <-r.stopCh:
			r.FlushOnce(context.Background())
			return
		}
	}
}

// FlushOnce performs a single flush pass. A batch that fails is retained for
// the next pass; a retained batch that fails again is dropped.
func (r *StoryViewRecorder) FlushOnce(ctx context.Context) {
	r.mu.Lock()
	retained := r.retained
	fresh := r.queue
	r.retained = nil
	r.queue = make([]models.StoryView, 0, r.capacity)
	r.mu.Unlock()

	if len(retained) > 0 {
		if err := r.flushBatch(ctx, retained); err != nil {
			slog.Warn("story view flush retry failed, dropping batch", "count", len(retained), "error", err)
			middleware.MessagesDropped.WithLabelValues("story_view_flush").Add(float64(len(retained)))
		}
	}

	if len(fresh) == 0 {
		return
	}
	if err := r.flushBatch(ctx, fresh); err != nil {
		slog.Warn("story view flush failed, retaining batch", "count", len(fresh), "error", err)
		r.mu.Lock()
		r.retained = fresh
		r.mu.Unlock()
	}
}

func (r *StoryViewRecorder) flushBatch(ctx context.Context, batch []models.StoryView) error {
	if r.flush == nil {
		return nil
	}
	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	return r.flush(flushCtx, batch)
}
