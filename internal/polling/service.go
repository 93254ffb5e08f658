// Package polling implements the live conference polling core: the
// single-live-question state machine, exactly-once vote aggregation,
// audience presence, countdown timers, and the lock discipline guarding
// concurrent pushes and votes.
package polling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnsphere/backend/internal/cache"
	"github.com/learnsphere/backend/internal/models"
)

// Broadcaster delivers protocol events to conference rooms. Implemented by
// the realtime hub; tests substitute a recorder.
type Broadcaster interface {
	// ToConference sends an event to every connection in the conference room.
	ToConference(conferenceID uuid.UUID, event string, payload interface{})
	// ToHost sends an event to the conference's host connections only.
	ToHost(conferenceID uuid.UUID, event string, payload interface{})
}

// QuestionStore is the externally-owned question persistence consumed by
// the polling core. Lookup returns (nil, nil) when the question is absent.
type QuestionStore interface {
	FindQuestionByID(ctx context.Context, id uuid.UUID) (*models.ConferenceQuestion, error)
	// BatchUpdateLiveFlag marks liveQuestionID live/active and every other
	// question of the conference not-live/closed in one statement pair.
	BatchUpdateLiveFlag(ctx context.Context, conferenceID, liveQuestionID uuid.UUID) error
	// PersistQuestionCloseSnapshot writes the final results onto the
	// question's closed record.
	PersistQuestionCloseSnapshot(ctx context.Context, questionID uuid.UUID, results models.QuestionResults) error
}

// CleanupScheduler schedules deferred vote-ledger purges.
type CleanupScheduler interface {
	ScheduleLedgerCleanup(ctx context.Context, questionID uuid.UUID, runAt time.Time) error
}

// Config holds the polling core tunables.
type Config struct {
	DefaultDuration time.Duration // question duration when the host omits one
	PushLockTTL     time.Duration // push_live critical section lock
	VoteLockTTL     time.Duration // per-(question,user) vote lock
	LiveGrace       time.Duration // added to live-state TTL past expiry
	LedgerRetention time.Duration // grace before ledger keys are purged
}

// DefaultConfig returns the standard tunables.
func DefaultConfig() Config {
	return Config{
		DefaultDuration: 45 * time.Second,
		PushLockTTL:     5 * time.Second,
		VoteLockTTL:     2 * time.Second,
		LiveGrace:       10 * time.Second,
		LedgerRetention: time.Hour,
	}
}

// Service is the conference live-question state machine. Per question the
// lifecycle is IDLE -> ACTIVE -> CLOSED; per conference at most one
// question is ACTIVE at any instant.
type Service struct {
	cfg       Config
	live      *LiveTracker
	votes     *VoteLedger
	presence  *Presence
	locks     *Locker
	confs     *ConferenceTracker
	questions QuestionStore
	timers    *TimerManager
	cleanup   CleanupScheduler
	bcast     Broadcaster
	logger    *zap.Logger
}

// NewService wires the polling core onto a shared store and its external
// collaborators.
func NewService(cfg Config, store cache.Store, confs ConferenceStore, questions QuestionStore, cleanup CleanupScheduler, bcast Broadcaster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:       cfg,
		live:      NewLiveTracker(store, cfg.LiveGrace),
		votes:     NewVoteLedger(store, cfg.LedgerRetention),
		presence:  NewPresence(store),
		locks:     NewLocker(store),
		confs:     NewConferenceTracker(store, confs),
		questions: questions,
		cleanup:   cleanup,
		bcast:     bcast,
		logger:    logger,
	}
	s.timers = NewTimerManager(TimerHooks{
		StillLive: s.timerStillLive,
		OnTick:    s.timerTick,
		OnExpire:  s.timerExpire,
	}, logger)
	return s
}

// Conferences exposes the conference state tracker, e.g. for cache
// invalidation on status changes.
func (s *Service) Conferences() *ConferenceTracker { return s.confs }

// Shutdown stops all running countdowns.
func (s *Service) Shutdown() { s.timers.Shutdown() }

// Join registers the user in the conference and returns the joined view:
// conference status, the current live question (if any), headcount and role.
func (s *Service) Join(ctx context.Context, conferenceID, userID uuid.UUID) (*JoinedPayload, error) {
	conf, err := s.confs.Get(ctx, conferenceID)
	if err != nil {
		return nil, err
	}
	if conf == nil {
		return nil, ErrConferenceNotFound
	}
	if conf.Status == models.ConferenceEnded {
		return nil, ErrConferenceEnded
	}

	role := RoleAudience
	if conf.HostID == userID {
		role = RoleHost
	}

	var count int64
	if role == RoleAudience {
		count, err = s.presence.Add(ctx, conferenceID, userID)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		s.bcast.ToHost(conferenceID, EventAudienceJoined, AudiencePayload{
			ConferenceID: conferenceID, UserID: userID, AudienceCount: count, Timestamp: now,
		})
		s.bcast.ToConference(conferenceID, EventAudienceCount, AudienceCountPayload{
			ConferenceID: conferenceID, AudienceCount: count, Timestamp: now,
		})
	} else {
		count, err = s.presence.Count(ctx, conferenceID)
		if err != nil {
			return nil, err
		}
	}

	var livePayload *QuestionLivePayload
	if cur, err := s.live.GetLive(ctx, conferenceID); err == nil && cur != nil {
		livePayload = cur.Public()
	}

	return &JoinedPayload{
		ConferenceID:     conferenceID,
		ConferenceStatus: string(conf.Status),
		LiveQuestion:     livePayload,
		AudienceCount:    count,
		Role:             role,
		Timestamp:        time.Now(),
	}, nil
}

// Leave removes the user from the conference and broadcasts the presence
// change. A leave for a conference the user never joined emits nothing.
func (s *Service) Leave(ctx context.Context, conferenceID, userID uuid.UUID) (*LeftPayload, error) {
	removed, err := s.presence.Remove(ctx, conferenceID, userID)
	if err != nil {
		return nil, err
	}
	if removed {
		s.broadcastDeparture(ctx, conferenceID, userID)
	}
	return &LeftPayload{ConferenceID: conferenceID, Timestamp: time.Now()}, nil
}

// Disconnect cleans up presence for every conference the user was in,
// broadcasting departures. Called when a connection drops.
func (s *Service) Disconnect(ctx context.Context, userID uuid.UUID) {
	conferences, err := s.presence.Conferences(ctx, userID)
	if err != nil {
		s.logger.Warn("disconnect presence lookup failed", zap.Error(err), zap.String("user_id", userID.String()))
		return
	}
	for _, conferenceID := range conferences {
		removed, err := s.presence.Remove(ctx, conferenceID, userID)
		if err != nil {
			s.logger.Warn("disconnect presence cleanup failed", zap.Error(err),
				zap.String("conference_id", conferenceID.String()), zap.String("user_id", userID.String()))
			continue
		}
		if removed {
			s.broadcastDeparture(ctx, conferenceID, userID)
		}
	}
}

func (s *Service) broadcastDeparture(ctx context.Context, conferenceID, userID uuid.UUID) {
	count, err := s.presence.Count(ctx, conferenceID)
	if err != nil {
		s.logger.Warn("presence count failed", zap.Error(err), zap.String("conference_id", conferenceID.String()))
		return
	}
	now := time.Now()
	s.bcast.ToHost(conferenceID, EventAudienceLeft, AudiencePayload{
		ConferenceID: conferenceID, UserID: userID, AudienceCount: count, Timestamp: now,
	})
	s.bcast.ToConference(conferenceID, EventAudienceCount, AudienceCountPayload{
		ConferenceID: conferenceID, AudienceCount: count, Timestamp: now,
	})
}

// PushLive makes a question live for voting. Host only; the conference must
// be active. Re-pushing the live question refreshes its expiry without
// resetting the ledger; pushing a different question while one is live is
// rejected with a conflict naming the blocking question.
func (s *Service) PushLive(ctx context.Context, conferenceID, questionID, userID uuid.UUID, durationSec int) (*QuestionLivePayload, error) {
	conf, err := s.confs.Get(ctx, conferenceID)
	if err != nil {
		return nil, err
	}
	if conf == nil {
		return nil, ErrConferenceNotFound
	}
	if conf.HostID != userID {
		return nil, ErrUnauthorized
	}
	if conf.Status == models.ConferenceEnded {
		return nil, ErrConferenceEnded
	}
	if conf.Status != models.ConferenceActive {
		return nil, ErrConferenceNotActive
	}

	lockName := "push_question:" + conferenceID.String()
	ok, err := s.locks.Acquire(ctx, lockName, s.cfg.PushLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOperationInProgress
	}
	defer func() { _ = s.locks.Release(context.WithoutCancel(ctx), lockName) }()

	q, err := s.questions.FindQuestionByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q == nil || q.ConferenceID != conferenceID {
		return nil, ErrQuestionNotFound
	}

	if durationSec <= 0 {
		durationSec = int(s.cfg.DefaultDuration.Seconds())
	}
	duration := time.Duration(durationSec) * time.Second

	options := make([]LiveOption, 0, len(q.Options))
	for _, o := range q.Options {
		options = append(options, LiveOption{Key: o.Key, Text: o.Text})
	}
	now := time.Now()
	state := &LiveQuestion{
		ConferenceID:  conferenceID,
		QuestionID:    questionID,
		QuestionText:  q.QuestionText,
		Options:       options,
		CorrectOption: q.CorrectOption,
		Duration:      durationSec,
		StartedAt:     now.UnixMilli(),
		ExpiresAt:     now.Add(duration).UnixMilli(),
	}

	prev, err := s.live.SetLive(ctx, state)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.QuestionID != questionID {
		return nil, &ConflictError{BlockingQuestionID: prev.QuestionID}
	}

	if prev == nil {
		// Fresh push: zero the ledger. A re-push keeps accumulated votes.
		if err := s.votes.Initialize(ctx, questionID, options, duration); err != nil {
			_ = s.live.CloseLive(ctx, conferenceID)
			return nil, err
		}
	}

	s.timers.Start(conferenceID, questionID, time.UnixMilli(state.ExpiresAt))

	// The broadcast is authoritative for live clients; persistence failures
	// are logged, not surfaced.
	if err := s.questions.BatchUpdateLiveFlag(ctx, conferenceID, questionID); err != nil {
		s.logger.Error("persist live flag failed", zap.Error(err), zap.String("question_id", questionID.String()))
	}

	payload := state.Public()
	s.bcast.ToConference(conferenceID, EventQuestionLive, payload)
	s.logger.Info("question pushed live",
		zap.String("conference_id", conferenceID.String()),
		zap.String("question_id", questionID.String()),
		zap.Int("duration_sec", durationSec),
	)
	return payload, nil
}

// SubmitVote records an audience vote. Rejections come back as *VoteError
// for the voter only; acceptance broadcasts updated aggregates to the room.
func (s *Service) SubmitVote(ctx context.Context, conferenceID, questionID, userID uuid.UUID, option string) (*VoteAcceptedPayload, error) {
	conf, err := s.confs.Get(ctx, conferenceID)
	if err != nil {
		return nil, err
	}
	if conf == nil {
		return nil, ErrVoteBadRequest
	}
	if conf.HostID == userID {
		return nil, ErrNotAudience
	}

	cur, err := s.live.GetLive(ctx, conferenceID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if cur == nil || cur.QuestionID != questionID || cur.Expired(now) {
		return nil, ErrQuestionClosed
	}
	if !cur.HasOption(option) {
		return nil, ErrInvalidOption
	}

	// Fast-reject a rapid double-click racing itself. The atomic ledger add
	// below is the authoritative duplicate guard.
	lockName := "vote:" + questionID.String() + ":" + userID.String()
	ok, err := s.locks.Acquire(ctx, lockName, s.cfg.VoteLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDuplicateVote
	}
	defer func() { _ = s.locks.Release(context.WithoutCancel(ctx), lockName) }()

	correct := option == cur.CorrectOption
	accepted, err := s.votes.Submit(ctx, questionID, userID, option, correct)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, ErrDuplicateVote
	}

	if counts, err := s.votes.Counts(ctx, questionID); err == nil {
		s.bcast.ToConference(conferenceID, EventVoteResult, VoteResultPayload{
			ConferenceID: conferenceID,
			QuestionID:   questionID,
			TotalVotes:   counts.Total,
			OptionCounts: counts.Options,
			Timestamp:    time.Now(),
		})
	} else {
		s.logger.Warn("read vote counts failed", zap.Error(err), zap.String("question_id", questionID.String()))
	}

	return &VoteAcceptedPayload{
		ConferenceID:   conferenceID,
		QuestionID:     questionID,
		SelectedOption: option,
		IsCorrect:      correct,
		Timestamp:      time.Now(),
	}, nil
}

// CloseQuestion closes a live question on host request.
func (s *Service) CloseQuestion(ctx context.Context, conferenceID, questionID, userID uuid.UUID) error {
	conf, err := s.confs.Get(ctx, conferenceID)
	if err != nil {
		return err
	}
	if conf == nil {
		return ErrConferenceNotFound
	}
	if conf.HostID != userID {
		return ErrUnauthorized
	}
	return s.closeLive(ctx, conferenceID, questionID, CloseReasonManual)
}

// closeLive executes the close routine. Idempotent: when the tracked live
// state no longer matches the requested question it is a no-op that emits
// nothing.
func (s *Service) closeLive(ctx context.Context, conferenceID, questionID uuid.UUID, reason string) error {
	cur, err := s.live.GetLive(ctx, conferenceID)
	if err != nil {
		return err
	}
	if cur == nil || cur.QuestionID != questionID {
		return nil
	}

	s.timers.Stop(questionID)

	counts, err := s.votes.Counts(ctx, questionID)
	if err != nil {
		s.logger.Error("read final counts failed", zap.Error(err), zap.String("question_id", questionID.String()))
		counts = &VoteCounts{Options: map[string]int64{}}
	}
	// Every option appears in the final tally, zero or not.
	optionCounts := make(map[string]int64, len(cur.Options))
	percentages := make(map[string]float64, len(cur.Options))
	for _, o := range cur.Options {
		optionCounts[o.Key] = counts.Options[o.Key]
	}
	for key, n := range optionCounts {
		if counts.Total > 0 {
			percentages[key] = float64(n) / float64(counts.Total) * 100
		} else {
			percentages[key] = 0
		}
	}

	if err := s.live.CloseLive(ctx, conferenceID); err != nil {
		return err
	}

	closedAt := time.Now()
	s.bcast.ToConference(conferenceID, EventQuestionClosed, QuestionClosedPayload{
		ConferenceID: conferenceID, QuestionID: questionID, Reason: reason, ClosedAt: closedAt,
	})
	s.bcast.ToConference(conferenceID, EventFinalResult, FinalResultPayload{
		ConferenceID:        conferenceID,
		QuestionID:          questionID,
		TotalVotes:          counts.Total,
		OptionCounts:        optionCounts,
		CorrectOption:       cur.CorrectOption,
		CorrectCount:        counts.Correct,
		PercentageBreakdown: percentages,
		ClosedAt:            closedAt,
	})

	// Fire-and-forget snapshot save: the real-time close is authoritative,
	// a persistence failure never rolls it back.
	results := models.QuestionResults{
		TotalVotes:   counts.Total,
		OptionCounts: optionCounts,
		CorrectCount: counts.Correct,
		ClosedAt:     closedAt,
	}
	go func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.questions.PersistQuestionCloseSnapshot(saveCtx, questionID, results); err != nil {
			s.logger.Error("persist close snapshot failed", zap.Error(err), zap.String("question_id", questionID.String()))
		}
	}()

	if s.cleanup != nil {
		if err := s.cleanup.ScheduleLedgerCleanup(ctx, questionID, closedAt.Add(s.cfg.LedgerRetention)); err != nil {
			// Key TTLs are the independent safety net.
			s.logger.Warn("schedule ledger cleanup failed", zap.Error(err), zap.String("question_id", questionID.String()))
		}
	}

	s.logger.Info("question closed",
		zap.String("conference_id", conferenceID.String()),
		zap.String("question_id", questionID.String()),
		zap.String("reason", reason),
		zap.Int64("total_votes", counts.Total),
	)
	return nil
}

func (s *Service) timerStillLive(conferenceID, questionID uuid.UUID) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cur, err := s.live.GetLive(ctx, conferenceID)
	return err == nil && cur != nil && cur.QuestionID == questionID
}

func (s *Service) timerTick(conferenceID, questionID uuid.UUID, remaining int, expiresAt int64) {
	s.bcast.ToConference(conferenceID, EventTimerUpdate, TimerUpdatePayload{
		ConferenceID:  conferenceID,
		QuestionID:    questionID,
		TimeRemaining: remaining,
		ExpiresAt:     expiresAt,
	})
}

func (s *Service) timerExpire(conferenceID, questionID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.closeLive(ctx, conferenceID, questionID, CloseReasonTimeout); err != nil {
		s.logger.Error("timeout close failed", zap.Error(err), zap.String("question_id", questionID.String()))
	}
}
