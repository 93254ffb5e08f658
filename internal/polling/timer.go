package polling

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TimerHooks connect a countdown to the live-question state machine.
type TimerHooks struct {
	// StillLive re-validates each tick that the question is still the
	// conference's live one; a stale timer self-cancels.
	StillLive func(conferenceID, questionID uuid.UUID) bool
	// OnTick fires every second while time remains.
	OnTick func(conferenceID, questionID uuid.UUID, remaining int, expiresAt int64)
	// OnExpire fires once when the countdown reaches zero.
	OnExpire func(conferenceID, questionID uuid.UUID)
}

// TimerManager runs one in-process countdown per live question, ticking
// every second and triggering auto-close at expiry. Starting a timer for a
// question cancels and replaces any prior one for the same question.
type TimerManager struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*countdown
	hooks  TimerHooks
	logger *zap.Logger
}

type countdown struct {
	conferenceID uuid.UUID
	questionID   uuid.UUID
	expiresAt    time.Time
	cancel       context.CancelFunc
}

// NewTimerManager creates a countdown timer manager.
func NewTimerManager(hooks TimerHooks, logger *zap.Logger) *TimerManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimerManager{
		timers: make(map[uuid.UUID]*countdown),
		hooks:  hooks,
		logger: logger,
	}
}

// Start begins (or replaces) the countdown for a question.
func (m *TimerManager) Start(conferenceID, questionID uuid.UUID, expiresAt time.Time) {
	ctx, cancel := context.WithCancel(context.Background())
	cd := &countdown{
		conferenceID: conferenceID,
		questionID:   questionID,
		expiresAt:    expiresAt,
		cancel:       cancel,
	}

	m.mu.Lock()
	if old, ok := m.timers[questionID]; ok {
		old.cancel()
	}
	m.timers[questionID] = cd
	m.mu.Unlock()

	go m.run(ctx, cd)
	m.logger.Debug("countdown started",
		zap.String("question_id", questionID.String()),
		zap.Time("expires_at", expiresAt),
	)
}

// Stop cancels the countdown for a question, if any. Idempotent.
func (m *TimerManager) Stop(questionID uuid.UUID) {
	m.mu.Lock()
	cd := m.timers[questionID]
	delete(m.timers, questionID)
	m.mu.Unlock()
	if cd != nil {
		cd.cancel()
	}
}

// Shutdown cancels every running countdown.
func (m *TimerManager) Shutdown() {
	m.mu.Lock()
	timers := m.timers
	m.timers = make(map[uuid.UUID]*countdown)
	m.mu.Unlock()
	for _, cd := range timers {
		cd.cancel()
	}
}

// remove deregisters cd only if it is still the registered countdown, so a
// replaced timer cannot evict its successor.
func (m *TimerManager) remove(cd *countdown) {
	m.mu.Lock()
	if m.timers[cd.questionID] == cd {
		delete(m.timers, cd.questionID)
	}
	m.mu.Unlock()
}

func (m *TimerManager) run(ctx context.Context, cd *countdown) {
	defer m.remove(cd)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.hooks.StillLive(cd.conferenceID, cd.questionID) {
				m.logger.Debug("countdown cancelled, question no longer live",
					zap.String("question_id", cd.questionID.String()))
				return
			}
			remaining := int(math.Ceil(time.Until(cd.expiresAt).Seconds()))
			if remaining > 0 {
				m.hooks.OnTick(cd.conferenceID, cd.questionID, remaining, cd.expiresAt.UnixMilli())
				continue
			}
			m.hooks.OnExpire(cd.conferenceID, cd.questionID)
			return
		}
	}
}
