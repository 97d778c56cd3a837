package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"design-server/internal/clients/mocks"
	"design-server/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type playbackRecorder struct {
	mu        sync.Mutex
	delivered []string
	active    int
	maxActive int
}

func (r *playbackRecorder) deliver(ctx context.Context, text, audioURL string) error {
	r.mu.Lock()
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	r.active--
	r.delivered = append(r.delivered, text)
	r.mu.Unlock()
	return nil
}

func (r *playbackRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.delivered))
	copy(out, r.delivered)
	return out
}

func TestNarrationQueue_PlaysInOrderOneAtATime(t *testing.T) {
	mockVoice := new(mocks.VoiceClient)
	mockVoice.On("Synthesize", mock.Anything, mock.Anything).Return("http://audio/clip.mp3", nil)

	rec := &playbackRecorder{}
	q := service.NewNarrationQueue(mockVoice, rec.deliver, time.Second, zap.NewNop())

	q.Enqueue("first")
	q.Enqueue("second")
	q.Enqueue("third")

	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"first", "second", "third"}, rec.snapshot())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.maxActive, "playbacks must not overlap")
}

func TestNarrationQueue_AdvancesPastFailures(t *testing.T) {
	mockVoice := new(mocks.VoiceClient)
	mockVoice.On("Synthesize", mock.Anything, "broken").Return("", assert.AnError)
	mockVoice.On("Synthesize", mock.Anything, mock.Anything).Return("http://audio/clip.mp3", nil)

	rec := &playbackRecorder{}
	q := service.NewNarrationQueue(mockVoice, rec.deliver, time.Second, zap.NewNop())

	q.Enqueue("first")
	q.Enqueue("broken")
	q.Enqueue("third")

	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"first", "third"}, rec.snapshot())
}

func TestNarrationQueue_ClearDropsPendingAndResets(t *testing.T) {
	mockVoice := new(mocks.VoiceClient)
	mockVoice.On("Synthesize", mock.Anything, mock.Anything).Return("http://audio/clip.mp3", nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var delivered []string

	deliver := func(ctx context.Context, text, audioURL string) error {
		if text == "slow" {
			close(started)
			<-release
		}
		mu.Lock()
		delivered = append(delivered, text)
		mu.Unlock()
		return nil
	}

	q := service.NewNarrationQueue(mockVoice, deliver, time.Second, zap.NewNop())

	q.Enqueue("slow")
	q.Enqueue("never played")
	<-started

	q.Clear()
	assert.Equal(t, 0, q.Depth())
	close(release)

	// The queue accepts new work after a clear.
	q.Enqueue("after clear")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, text := range delivered {
			if text == "after clear" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, delivered, "never played")
}

func TestNarrationQueue_IgnoresEmptyText(t *testing.T) {
	mockVoice := new(mocks.VoiceClient)
	q := service.NewNarrationQueue(mockVoice, func(ctx context.Context, text, audioURL string) error {
		return nil
	}, time.Second, zap.NewNop())

	q.Enqueue("")
	assert.Equal(t, 0, q.Depth())
	mockVoice.AssertNotCalled(t, "Synthesize")
}
