package polling

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timerRecorder struct {
	mu      sync.Mutex
	ticks   []int
	expired int
	live    bool
}

func (r *timerRecorder) hooks() TimerHooks {
	return TimerHooks{
		StillLive: func(uuid.UUID, uuid.UUID) bool {
			r.mu.Lock()
			defer r.mu.Unlock()
			return r.live
		},
		OnTick: func(_, _ uuid.UUID, remaining int, _ int64) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ticks = append(r.ticks, remaining)
		},
		OnExpire: func(uuid.UUID, uuid.UUID) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.expired++
		},
	}
}

func (r *timerRecorder) expiredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expired
}

func (r *timerRecorder) tickCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func TestTimerManagerTicksThenExpires(t *testing.T) {
	rec := &timerRecorder{live: true}
	m := NewTimerManager(rec.hooks(), nil)
	defer m.Shutdown()

	m.Start(uuid.New(), uuid.New(), time.Now().Add(2100*time.Millisecond))

	require.Eventually(t, func() bool { return rec.expiredCount() == 1 },
		5*time.Second, 50*time.Millisecond)

	assert.GreaterOrEqual(t, rec.tickCount(), 1, "at least one countdown tick before expiry")
	rec.mu.Lock()
	for _, remaining := range rec.ticks {
		assert.Positive(t, remaining)
	}
	rec.mu.Unlock()
}

func TestTimerManagerStaleTimerSelfCancels(t *testing.T) {
	rec := &timerRecorder{live: false}
	m := NewTimerManager(rec.hooks(), nil)
	defer m.Shutdown()

	m.Start(uuid.New(), uuid.New(), time.Now().Add(1500*time.Millisecond))

	time.Sleep(3 * time.Second)
	assert.Zero(t, rec.expiredCount(), "a no-longer-live question must not auto-close")
	assert.Zero(t, rec.tickCount())
}

func TestTimerManagerStop(t *testing.T) {
	rec := &timerRecorder{live: true}
	m := NewTimerManager(rec.hooks(), nil)
	defer m.Shutdown()

	questionID := uuid.New()
	m.Start(uuid.New(), questionID, time.Now().Add(1500*time.Millisecond))
	m.Stop(questionID)

	time.Sleep(3 * time.Second)
	assert.Zero(t, rec.expiredCount(), "a stopped countdown must not fire")
}
