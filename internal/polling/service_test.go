package polling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnsphere/backend/internal/cache"
	"github.com/learnsphere/backend/internal/models"
)

type recordedEvent struct {
	scope        string
	conferenceID uuid.UUID
	event        string
	payload      interface{}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *fakeBroadcaster) ToConference(conferenceID uuid.UUID, event string, payload interface{}) {
	b.record("conference", conferenceID, event, payload)
}

func (b *fakeBroadcaster) ToHost(conferenceID uuid.UUID, event string, payload interface{}) {
	b.record("host", conferenceID, event, payload)
}

func (b *fakeBroadcaster) record(scope string, conferenceID uuid.UUID, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{scope: scope, conferenceID: conferenceID, event: event, payload: payload})
}

func (b *fakeBroadcaster) byEvent(event string) []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedEvent
	for _, e := range b.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeConferenceStore struct {
	mu          sync.Mutex
	conferences map[uuid.UUID]*models.Conference
}

func (f *fakeConferenceStore) FindConferenceByID(_ context.Context, id uuid.UUID) (*models.Conference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conferences[id], nil
}

type fakeQuestionStore struct {
	mu         sync.Mutex
	questions  map[uuid.UUID]*models.ConferenceQuestion
	batchCalls int
	snapshots  chan models.QuestionResults
}

func (f *fakeQuestionStore) FindQuestionByID(_ context.Context, id uuid.UUID) (*models.ConferenceQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.questions[id], nil
}

func (f *fakeQuestionStore) BatchUpdateLiveFlag(_ context.Context, _, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	return nil
}

func (f *fakeQuestionStore) PersistQuestionCloseSnapshot(_ context.Context, _ uuid.UUID, results models.QuestionResults) error {
	select {
	case f.snapshots <- results:
	default:
	}
	return nil
}

type serviceFixture struct {
	svc          *Service
	bcast        *fakeBroadcaster
	confs        *fakeConferenceStore
	questions    *fakeQuestionStore
	conferenceID uuid.UUID
	hostID       uuid.UUID
	questionID   uuid.UUID
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	store := cache.NewMemoryStore()
	t.Cleanup(store.Close)

	conferenceID, hostID, questionID := uuid.New(), uuid.New(), uuid.New()
	confs := &fakeConferenceStore{conferences: map[uuid.UUID]*models.Conference{
		conferenceID: {ID: conferenceID, HostID: hostID, Status: models.ConferenceActive},
	}}
	questions := &fakeQuestionStore{
		questions: map[uuid.UUID]*models.ConferenceQuestion{
			questionID: {
				ID:           questionID,
				ConferenceID: conferenceID,
				QuestionText: "Capital of France?",
				Options: []models.QuestionOption{
					{Key: "a", Text: "Paris"},
					{Key: "b", Text: "Rome"},
					{Key: "c", Text: "Berlin"},
				},
				CorrectOption: "a",
				Status:        models.QuestionIdle,
			},
		},
		snapshots: make(chan models.QuestionResults, 4),
	}
	bcast := &fakeBroadcaster{}

	svc := NewService(DefaultConfig(), store, confs, questions, nil, bcast, nil)
	t.Cleanup(svc.Shutdown)

	return &serviceFixture{
		svc:          svc,
		bcast:        bcast,
		confs:        confs,
		questions:    questions,
		conferenceID: conferenceID,
		hostID:       hostID,
		questionID:   questionID,
	}
}

func (f *serviceFixture) addConference(t *testing.T, status models.ConferenceStatus) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.confs.mu.Lock()
	f.confs.conferences[id] = &models.Conference{ID: id, HostID: f.hostID, Status: status}
	f.confs.mu.Unlock()
	return id
}

func TestJoinAudience(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	joined, err := f.svc.Join(ctx, f.conferenceID, userID)
	require.NoError(t, err)
	assert.Equal(t, RoleAudience, joined.Role)
	assert.EqualValues(t, 1, joined.AudienceCount)
	assert.Nil(t, joined.LiveQuestion)

	hostEvents := f.bcast.byEvent(EventAudienceJoined)
	require.Len(t, hostEvents, 1)
	assert.Equal(t, "host", hostEvents[0].scope)

	countEvents := f.bcast.byEvent(EventAudienceCount)
	require.Len(t, countEvents, 1)
	assert.Equal(t, "conference", countEvents[0].scope)
}

func TestJoinHostSkipsPresence(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	joined, err := f.svc.Join(ctx, f.conferenceID, f.hostID)
	require.NoError(t, err)
	assert.Equal(t, RoleHost, joined.Role)
	assert.EqualValues(t, 0, joined.AudienceCount)
	assert.Empty(t, f.bcast.byEvent(EventAudienceJoined))
}

func TestJoinErrors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Join(ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrConferenceNotFound)

	ended := f.addConference(t, models.ConferenceEnded)
	_, err = f.svc.Join(ctx, ended, uuid.New())
	assert.ErrorIs(t, err, ErrConferenceEnded)
}

func TestJoinSeesLiveQuestion(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.PushLive(ctx, f.conferenceID, f.questionID, f.hostID, 45)
	require.NoError(t, err)

	joined, err := f.svc.Join(ctx, f.conferenceID, uuid.New())
	require.NoError(t, err)
	require.NotNil(t, joined.LiveQuestion)
	assert.Equal(t, f.questionID, joined.LiveQuestion.QuestionID)
}

func TestPushLive(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	payload, err := f.svc.PushLive(ctx, f.conferenceID, f.questionID, f.hostID, 45)
	require.NoError(t, err)
	assert.Equal(t, f.questionID, payload.QuestionID)
	assert.Equal(t, 45, payload.Duration)
	assert.Len(t, payload.Options, 3)
	assert.Greater(t, payload.ExpiresAt, payload.StartedAt)

	live := f.bcast.byEvent(EventQuestionLive)
	require.Len(t, live, 1)
	assert.Equal(t, "conference", live[0].scope)

	f.questions.mu.Lock()
	assert.Equal(t, 1, f.questions.batchCalls)
	f.questions.mu.Unlock()
}

func TestPushLiveDefaultDuration(t *testing.T) {
	f := newServiceFixture(t)

	payload, err := f.svc.PushLive(context.Background(), f.conferenceID, f.questionID, f.hostID, 0)
	require.NoError(t, err)
	assert.Equal(t, int(DefaultConfig().DefaultDuration.Seconds()), payload.Duration)
}

func TestPushLiveAuthorization(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.PushLive(ctx, f.conferenceID, f.questionID, uuid.New(), 45)
	assert.ErrorIs(t, err, ErrUnauthorized)

	draft := f.addConference(t, models.ConferenceDraft)
	_, err = f.svc.PushLive(ctx, draft, f.questionID, f.hostID, 45)
	assert.ErrorIs(t, err, ErrConferenceNotActive)

	ended := f.addConference(t, models.ConferenceEnded)
	_, err = f.svc.PushLive(ctx, ended, f.questionID, f.hostID, 45)
	assert.ErrorIs(t, err, ErrConferenceEnded)

	_, err = f.svc.PushLive(ctx, f.conferenceID, uuid.New(), f.hostID, 45)
	assert.ErrorIs(t, err, ErrQuestionNotFound)
}

func TestPushLiveConflict(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	otherID := uuid.New()
	f.questions.mu.Lock()
	f.questions.questions[otherID] = &models.ConferenceQuestion{
		ID:            otherID,
		ConferenceID:  f.conferenceID,
		QuestionText:  "Largest ocean?",
		Options:       []models.QuestionOption{{Key: "a", Text: "Pacific"}, {Key: "b", Text: "Atlantic"}},
		CorrectOption: "a",
	}
	f.questions.mu.Unlock()

	_, err := f.svc.PushLive(ctx, f.conferenceID, f.questionID, f.hostID, 45)
	require.NoError(t, err)

	_, err = f.svc.PushLive(ctx, f.conferenceID, otherID, f.hostID, 45)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, f.questionID, conflict.BlockingQuestionID)
	assert.Equal(t, CodeQuestionAlreadyLive, conflict.Code())

	// Only the first push reached the room.
	assert.Len(t, f.bcast.byEvent(EventQuestionLive), 1)
}

func TestPushLiveRepushKeepsVotes(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.PushLive(ctx, f.conferenceID, f.questionID, f.hostID, 45)
	require.NoError(t, err)

	_, err = f.svc.SubmitVote(ctx, f.conferenceID, f.questionID, uuid.New(), "a")
	require.NoError(t, err)

	_, err = f.svc.PushLive(ctx, f.conferenceID, f.questionID, f.hostID, 60)
	require.NoError(t, err)

	counts, err := f.svc.votes.Counts(ctx, f.questionID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Total, "re-push must not reset the ledger")
}

func TestSubmitVote(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.PushLive(ctx, f.conferenceID, f.questionID, f.hostID, 45)
	require.NoError(t, err)

	accepted, err := f.svc.SubmitVote(ctx, f.conferenceID, f.questionID, uuid.New(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", accepted.SelectedOption)
	assert.True(t, accepted.IsCorrect)

	accepted, err = f.svc.SubmitVote(ctx, f.conferenceID, f.questionID, uuid.New(), "b")
	require.NoError(t, err)
	assert.False(t, accepted.IsCorrect)

	results := f.bcast.byEvent(EventVoteResult)
	require.Len(t, results, 2)
	last := results[1].payload.(VoteResultPayload)
	assert.EqualValues(t, 2, last.TotalVotes)
	assert.EqualValues(t, 1, last.OptionCounts["a"])
	assert.EqualValues(t, 1, last.OptionCounts["b"])
}

func TestSubmitVoteRejections(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// No live question yet.
	_, err := f.svc.SubmitVote(ctx, f.conferenceID, f.questionID, uuid.New(), "a")
	assert.ErrorIs(t, err, ErrQuestionClosed)

	_, err = f.svc.PushLive(ctx, f.conferenceID, f.questionID, f.hostID, 45)
	require.NoError(t, err)

	_, err = f.svc.SubmitVote(ctx, f.conferenceID, f.questionID, f.hostID, "a")
	assert.ErrorIs(t, err, ErrNotAudience)

	_, err = f.svc.SubmitVote(ctx, f.conferenceID, f.questionID, uuid.New(), "z")
	assert.ErrorIs(t, err, ErrInvalidOption)

	// Vote against a question that is not the live one.
	_, err = f.svc.SubmitVote(ctx, f.conferenceID, uuid.New(), uuid.New(), "a")
	assert.ErrorIs(t, err, ErrQuestionClosed)

	_, err = f.svc.SubmitVote(ctx, uuid.New(), f.questionID, uuid.New(), "a")
	assert.ErrorIs(t, err, ErrVoteBadRequest)

	userID := uuid.New()
	_, err = f.svc.SubmitVote(ctx, f.conferenceID, f.questionID, userID, "a")
	require.NoError(t, err)
	_, err = f.svc.SubmitVote(ctx, f.conferenceID, f.questionID, userID, "b")
	assert.ErrorIs(t, err, ErrDuplicateVote)
}

func TestSubmitVoteConcurrent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.PushLive(ctx, f.conferenceID, f.questionID, f.hostID, 45)
	require.NoError(t, err)

	const voters = 25
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitVote(ctx, f.conferenceID, f.questionID, uuid.New(), "a")
			assert.NoError(t, err)
		}()
	}

	// One user hammering submit concurrently lands exactly one vote.
	doubler := uuid.New()
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitVote(ctx, f.conferenceID, f.questionID, doubler, "b")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var acceptedOnce int
	for err := range results {
		if err == nil {
			acceptedOnce++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateVote)
		}
	}
	assert.Equal(t, 1, acceptedOnce)

	counts, err := f.svc.votes.Counts(ctx, f.questionID)
	require.NoError(t, err)
	assert.EqualValues(t, voters+1, counts.Total)
	assert.EqualValues(t, voters, counts.Options["a"])
	assert.EqualValues(t, 1, counts.Options["b"])
}

func TestCloseQuestionManual(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.PushLive(ctx, f.conferenceID, f.questionID, f.hostID, 45)
	require.NoError(t, err)

	v1, v2 := uuid.New(), uuid.New()
	_, err = f.svc.SubmitVote(ctx, f.conferenceID, f.questionID, v1, "a")
	require.NoError(t, err)
	_, err = f.svc.SubmitVote(ctx, f.conferenceID, f.questionID, v2, "b")
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.CloseQuestion(ctx, f.conferenceID, f.questionID, uuid.New()), ErrUnauthorized)

	require.NoError(t, f.svc.CloseQuestion(ctx, f.conferenceID, f.questionID, f.hostID))

	closed := f.bcast.byEvent(EventQuestionClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, CloseReasonManual, closed[0].payload.(QuestionClosedPayload).Reason)

	finals := f.bcast.byEvent(EventFinalResult)
	require.Len(t, finals, 1)
	final := finals[0].payload.(FinalResultPayload)
	assert.EqualValues(t, 2, final.TotalVotes)
	assert.Equal(t, "a", final.CorrectOption)
	assert.EqualValues(t, 1, final.CorrectCount)
	assert.EqualValues(t, 0, final.OptionCounts["c"], "zero-vote options appear in the tally")
	assert.InDelta(t, 50.0, final.PercentageBreakdown["a"], 0.01)
	assert.InDelta(t, 0.0, final.PercentageBreakdown["c"], 0.01)

	select {
	case snap := <-f.questions.snapshots:
		assert.EqualValues(t, 2, snap.TotalVotes)
		assert.EqualValues(t, 1, snap.CorrectCount)
	case <-time.After(2 * time.Second):
		t.Fatal("close snapshot never persisted")
	}

	// Votes after close are rejected.
	_, err = f.svc.SubmitVote(ctx, f.conferenceID, f.questionID, uuid.New(), "a")
	assert.ErrorIs(t, err, ErrQuestionClosed)

	// A second close is a silent no-op.
	require.NoError(t, f.svc.CloseQuestion(ctx, f.conferenceID, f.questionID, f.hostID))
	assert.Len(t, f.bcast.byEvent(EventQuestionClosed), 1)
}

func TestCloseQuestionTimeout(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.PushLive(ctx, f.conferenceID, f.questionID, f.hostID, 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.bcast.byEvent(EventQuestionClosed)) == 1
	}, 5*time.Second, 50*time.Millisecond, "countdown should auto-close the question")

	closed := f.bcast.byEvent(EventQuestionClosed)
	assert.Equal(t, CloseReasonTimeout, closed[0].payload.(QuestionClosedPayload).Reason)

	cur, err := f.svc.live.GetLive(ctx, f.conferenceID)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestLeaveAndDisconnect(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := f.svc.Join(ctx, f.conferenceID, userID)
	require.NoError(t, err)

	_, err = f.svc.Leave(ctx, f.conferenceID, userID)
	require.NoError(t, err)
	assert.Len(t, f.bcast.byEvent(EventAudienceLeft), 1)

	// Leaving again emits nothing.
	_, err = f.svc.Leave(ctx, f.conferenceID, userID)
	require.NoError(t, err)
	assert.Len(t, f.bcast.byEvent(EventAudienceLeft), 1)

	other := uuid.New()
	_, err = f.svc.Join(ctx, f.conferenceID, other)
	require.NoError(t, err)

	f.svc.Disconnect(ctx, other)
	assert.Len(t, f.bcast.byEvent(EventAudienceLeft), 2)

	count, err := f.svc.presence.Count(ctx, f.conferenceID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}
