// contest/machine_test.go
package contest_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blitzcup/contest"
	"blitzcup/models"
	"blitzcup/store"
)

// --- Test doubles ---

type recordedEvent struct {
	RoomID  string
	Event   string
	Payload interface{}
}

// recordingMessenger captures every broadcast for later inspection.
type recordingMessenger struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingMessenger) BroadcastToRoom(roomID, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{RoomID: roomID, Event: event, Payload: payload})
}

func (r *recordingMessenger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recordingMessenger) ofKind(event string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// notificationsContaining counts notification broadcasts whose text contains
// substr.
func (r *recordingMessenger) notificationsContaining(substr string) int {
	n := 0
	for _, e := range r.ofKind(contest.EventNotification) {
		payload, ok := e.Payload.(map[string]interface{})
		if !ok {
			continue
		}
		if text, ok := payload["text"].(string); ok && strings.Contains(text, substr) {
			n++
		}
	}
	return n
}

// fakeJudge is an in-memory JudgeService.
type fakeJudge struct {
	mu        sync.Mutex
	pool      []models.Problem
	poolErr   error
	solved    map[string]map[string]bool // handle -> problem key -> solved
	solvedErr error
	accepted  map[string]bool // handle#problemKey -> accepted
	acceptErr error
}

func newFakeJudge(pool []models.Problem) *fakeJudge {
	return &fakeJudge{
		pool:     pool,
		solved:   make(map[string]map[string]bool),
		accepted: make(map[string]bool),
	}
}

func (f *fakeJudge) FetchCandidatePool(_ context.Context, count, minRating, maxRating int) ([]models.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.poolErr != nil {
		return nil, f.poolErr
	}
	out := make([]models.Problem, 0, count)
	for _, p := range f.pool {
		if p.Points >= minRating && p.Points <= maxRating {
			out = append(out, p)
		}
		if len(out) == count {
			break
		}
	}
	return out, nil
}

func (f *fakeJudge) FetchSolvedSet(_ context.Context, handle string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.solvedErr != nil {
		return nil, f.solvedErr
	}
	out := make(map[string]bool)
	for k, v := range f.solved[handle] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeJudge) HasAcceptedSubmission(_ context.Context, handle string, problem models.Problem) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acceptErr != nil {
		return false, f.acceptErr
	}
	return f.accepted[handle+"#"+problem.Key()], nil
}

func (f *fakeJudge) accept(handle string, problem models.Problem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted[handle+"#"+problem.Key()] = true
}

func (f *fakeJudge) setPoolErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poolErr = err
}

// --- Fixture helpers ---

func testProblems(n int) []models.Problem {
	out := make([]models.Problem, n)
	for i := range out {
		out[i] = models.Problem{
			ContestID: 1700 + i,
			Index:     "A",
			Name:      fmt.Sprintf("Problem %d", i),
			URL:       fmt.Sprintf("https://codeforces.com/problemset/problem/%d/A", 1700+i),
			Tags:      []string{"math"},
			Points:    900,
		}
	}
	return out
}

type fixture struct {
	machine   *contest.Machine
	messenger *recordingMessenger
	rooms     store.RoomStore
	users     *store.MemoryUserStore
	judge     *fakeJudge
}

// newFixture wires a machine with fast timers and two registered users.
func newFixture(t *testing.T, pool []models.Problem) *fixture {
	t.Helper()
	return newFixtureWithRooms(t, pool, store.NewMemoryRoomStore())
}

// newFixtureWithRooms is newFixture with a caller-chosen room store, for
// tests that wrap the store to inject latency or failures.
func newFixtureWithRooms(t *testing.T, pool []models.Problem, rooms store.RoomStore) *fixture {
	t.Helper()
	f := &fixture{
		messenger: &recordingMessenger{},
		rooms:     rooms,
		users:     store.NewMemoryUserStore(),
		judge:     newFakeJudge(pool),
	}
	f.machine = contest.NewMachine(contest.NewRegistry(), f.rooms, f.users, f.judge, f.messenger)
	f.machine.StartCountdownSeconds = 2
	f.machine.TickInterval = 10 * time.Millisecond
	f.machine.NextProblemDelay = 40 * time.Millisecond

	for _, u := range []models.User{
		{Username: "alice", Email: "alice@example.com", Password: "x", Handle: "alice_cf"},
		{Username: "bob", Email: "bob@example.com", Password: "x", Handle: "bob_cf"},
	} {
		user := u
		require.NoError(t, f.users.Create(context.Background(), &user))
	}
	return f
}

func (f *fixture) createRoom(t *testing.T, settings models.Settings) *models.Room {
	t.Helper()
	room, err := f.machine.CreateRoom(context.Background(), "alice", settings)
	require.NoError(t, err)
	return room
}

func (f *fixture) started(roomID string) func() bool {
	return func() bool {
		snap, err := f.machine.Snapshot(context.Background(), roomID)
		return err == nil && snap.Started
	}
}

// --- Room creation ---

func TestCreateRoom_AppliesDefaultsAndPersists(t *testing.T) {
	f := newFixture(t, testProblems(6))

	room := f.createRoom(t, models.Settings{})

	assert.Len(t, room.RoomID, 6)
	assert.Equal(t, 4, room.Settings.ProblemCount)
	assert.Equal(t, 800, room.Settings.MinDifficulty)
	assert.Equal(t, 1500, room.Settings.MaxDifficulty)
	assert.Equal(t, 60, room.Settings.Timer)
	assert.Equal(t, []string{"alice"}, room.Participants)
	assert.Equal(t, map[string]int{"alice": 0}, room.Scores)
	assert.True(t, room.ContestIsActive)
	assert.Len(t, room.Problems, 4)

	stored, err := f.rooms.Get(context.Background(), room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, room.RoomID, stored.RoomID)

	// creation also records the host's current room
	alice, err := f.users.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, room.RoomID, alice.CurrentRoomID)
}

func TestCreateRoom_InsufficientProblems(t *testing.T) {
	f := newFixture(t, testProblems(2))

	_, err := f.machine.CreateRoom(context.Background(), "alice", models.Settings{ProblemCount: 5})
	assert.ErrorIs(t, err, contest.ErrInsufficientProblems)
}

// --- Quorum and countdown ---

func TestJoinRoom_QuorumArmsCountdownExactlyOnce(t *testing.T) {
	f := newFixture(t, testProblems(6))
	room := f.createRoom(t, models.Settings{ProblemCount: 2})

	// several concurrent joins while quorum is first reached
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.machine.JoinRoom(context.Background(), room.RoomID, "bob")
		}()
	}
	wg.Wait()

	require.Eventually(t, f.started(room.RoomID), time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.messenger.notificationsContaining("The contest will start"),
		"countdown must be armed exactly once")
	assert.NotEmpty(t, f.messenger.ofKind(contest.EventCountdown))
}

func TestCountdown_StartBroadcastsFirstProblem(t *testing.T) {
	f := newFixture(t, testProblems(6))
	room := f.createRoom(t, models.Settings{ProblemCount: 2})

	_, err := f.machine.JoinRoom(context.Background(), room.RoomID, "bob")
	require.NoError(t, err)

	require.Eventually(t, f.started(room.RoomID), time.Second, 5*time.Millisecond)

	snap, err := f.machine.Snapshot(context.Background(), room.RoomID)
	require.NoError(t, err)
	require.NotNil(t, snap.CurrentProblem)
	assert.Equal(t, room.Problems[0].Key(), snap.CurrentProblem.Key())
	assert.Equal(t, map[string]int{"alice": 0, "bob": 0}, snap.Scores)

	newProblems := f.messenger.ofKind(contest.EventNewProblem)
	require.NotEmpty(t, newProblems)
	assert.Equal(t, 1, f.messenger.notificationsContaining("The contest has started!"))
}

func TestCountdown_SelectionFailureRevertsToWaiting(t *testing.T) {
	f := newFixture(t, testProblems(6))
	f.judge.setPoolErr(fmt.Errorf("upstream down"))

	// room persisted without a pre-fetched sequence forces the selection path
	room := &models.Room{
		RoomID:          "SELFAI",
		Host:            "alice",
		Participants:    []string{"alice"},
		Settings:        models.Settings{ProblemCount: 2, MinDifficulty: 800, MaxDifficulty: 1500, Timer: 60},
		Scores:          map[string]int{"alice": 0},
		ContestIsActive: true,
	}
	require.NoError(t, f.rooms.Save(context.Background(), room))

	_, err := f.machine.JoinRoom(context.Background(), room.RoomID, "bob")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.messenger.notificationsContaining("Could not find enough problems") == 1
	}, time.Second, 5*time.Millisecond)

	snap, err := f.machine.Snapshot(context.Background(), room.RoomID)
	require.NoError(t, err)
	assert.False(t, snap.Started, "selection failure must revert to waiting")

	// the room is startable again once the judge recovers
	f.judge.setPoolErr(nil)
	_, err = f.machine.JoinRoom(context.Background(), room.RoomID, "bob")
	require.NoError(t, err)
	require.Eventually(t, f.started(room.RoomID), time.Second, 5*time.Millisecond)
}

// --- Leaving ---

func TestLeaveRoom_LastParticipantCancelsEverything(t *testing.T) {
	f := newFixture(t, testProblems(6))
	room := f.createRoom(t, models.Settings{ProblemCount: 2})

	_, err := f.machine.JoinRoom(context.Background(), room.RoomID, "bob")
	require.NoError(t, err)

	// leave while the start countdown is pending
	require.NoError(t, f.machine.LeaveRoom(context.Background(), room.RoomID, "bob"))
	require.NoError(t, f.machine.LeaveRoom(context.Background(), room.RoomID, "alice"))

	_, err = f.rooms.Get(context.Background(), room.RoomID)
	assert.ErrorIs(t, err, store.ErrRoomNotFound)

	// no timer may fire after teardown: broadcast volume stays flat
	quiesced := f.messenger.count()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, quiesced, f.messenger.count(),
		"no broadcasts may occur for a torn-down room")

	snap, err := f.machine.Snapshot(context.Background(), room.RoomID)
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, store.ErrRoomNotFound)
}

func TestLeaveRoom_HostReassignedAndScoreDropped(t *testing.T) {
	f := newFixture(t, testProblems(6))
	room := f.createRoom(t, models.Settings{ProblemCount: 2})
	_, err := f.machine.JoinRoom(context.Background(), room.RoomID, "bob")
	require.NoError(t, err)
	require.Eventually(t, f.started(room.RoomID), time.Second, 5*time.Millisecond)

	require.NoError(t, f.machine.LeaveRoom(context.Background(), room.RoomID, "alice"))

	stored, err := f.rooms.Get(context.Background(), room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, "bob", stored.Host)
	assert.Equal(t, []string{"bob"}, stored.Participants)
	assert.NotContains(t, stored.Scores, "alice")
}

// --- Per-problem time limit ---

func TestProblemTimeUp_ForcesAdvancementWithoutAward(t *testing.T) {
	f := newFixture(t, testProblems(6))
	f.machine.ProblemDurationOverride = 60 * time.Millisecond
	room := f.createRoom(t, models.Settings{ProblemCount: 2})

	_, err := f.machine.JoinRoom(context.Background(), room.RoomID, "bob")
	require.NoError(t, err)
	require.Eventually(t, f.started(room.RoomID), time.Second, 5*time.Millisecond)

	// both problems expire unsolved and the contest finishes
	require.Eventually(t, func() bool {
		return len(f.messenger.ofKind(contest.EventContestFinished)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Len(t, f.messenger.ofKind(contest.EventTimeUp), 2)

	snap, err := f.machine.Snapshot(context.Background(), room.RoomID)
	require.NoError(t, err)
	assert.False(t, snap.Started)
	assert.Equal(t, map[string]int{"alice": 0, "bob": 0}, snap.Scores,
		"time-up must not award points")

	stored, err := f.rooms.Get(context.Background(), room.RoomID)
	require.NoError(t, err)
	assert.False(t, stored.ContestIsActive)
	assert.NotNil(t, stored.ContestEndTime)
}

// --- Chat ---

func TestAppendChat_PersistsAndRelays(t *testing.T) {
	f := newFixture(t, testProblems(6))
	room := f.createRoom(t, models.Settings{ProblemCount: 2})

	msg, err := f.machine.AppendChat(context.Background(), room.RoomID, "alice", "good luck!")
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "good luck!", msg.Text)

	stored, err := f.rooms.Get(context.Background(), room.RoomID)
	require.NoError(t, err)
	require.Len(t, stored.Chat, 1)
	assert.Equal(t, "good luck!", stored.Chat[0].Text)

	relayed := f.messenger.ofKind(contest.EventChatMessage)
	require.Len(t, relayed, 1)
}
