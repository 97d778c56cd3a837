package service

import (
	"context"
	"sync"
	"time"

	"design-server/internal/clients"

	"go.uber.org/zap"
)

// DeliverFunc hands a synthesized narration to the client edge and blocks
// until playback is considered done.
type DeliverFunc func(ctx context.Context, text, audioURL string) error

// NarrationQueue plays assistant narrations strictly one at a time, in the
// order they were enqueued. A failed synthesis or delivery is logged and the
// queue advances to the next message. Clear drops everything pending and
// resets the queue so a future Enqueue starts playback fresh.
type NarrationQueue struct {
	voice        clients.VoiceClient
	deliver      DeliverFunc
	playbackWait time.Duration
	logger       *zap.Logger

	mu       sync.Mutex
	queue    []string
	draining bool
	epoch    int
}

// NewNarrationQueue creates an empty queue.
func NewNarrationQueue(voice clients.VoiceClient, deliver DeliverFunc, playbackWait time.Duration, logger *zap.Logger) *NarrationQueue {
	return &NarrationQueue{
		voice:        voice,
		deliver:      deliver,
		playbackWait: playbackWait,
		logger:       logger.Named("NarrationQueue"),
	}
}

// Enqueue appends a narration and starts the drain loop if idle.
func (q *NarrationQueue) Enqueue(text string) {
	if text == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queue = append(q.queue, text)
	if !q.draining {
		q.draining = true
		epoch := q.epoch
		go q.drain(epoch)
	}
}

// Clear drops all pending narrations and stops the current drain loop. The
// in-flight playback, if any, finishes on its own but nothing follows it.
func (q *NarrationQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queue = nil
	q.draining = false
	q.epoch++
}

// Depth reports how many narrations are waiting.
func (q *NarrationQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func (q *NarrationQueue) drain(epoch int) {
	for {
		q.mu.Lock()
		if q.epoch != epoch {
			q.mu.Unlock()
			return
		}
		if len(q.queue) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		text := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()

		q.play(text)
	}
}

func (q *NarrationQueue) play(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), q.playbackWait)
	defer cancel()

	audioURL, err := q.voice.Synthesize(ctx, text)
	if err != nil {
		q.logger.Warn("Narration synthesis failed, skipping message", zap.Error(err))
		narrationPlaybacksTotal.WithLabelValues("error").Inc()
		return
	}
	if err := q.deliver(ctx, text, audioURL); err != nil {
		q.logger.Warn("Narration delivery failed, skipping message", zap.Error(err))
		narrationPlaybacksTotal.WithLabelValues("error").Inc()
		return
	}
	narrationPlaybacksTotal.WithLabelValues("ok").Inc()
}
