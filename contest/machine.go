// File: contest/machine.go
package contest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"blitzcup/logger"
	"blitzcup/models"
	"blitzcup/store"
)

// ----------------------- event vocabulary -----------------------

// Event kinds broadcast to room subscribers. The gateway ships these
// verbatim; the machine decides when each fires.
const (
	EventNotification    = "notification"
	EventInitialState    = "initial-state"
	EventNewProblem      = "new-problem"
	EventScoreUpdate     = "score-update"
	EventProblemSolved   = "problem-solved"
	EventCountdown       = "countdown"
	EventTimeUp          = "time-up"
	EventContestFinished = "contest-finished"
	EventChatMessage     = "chat-message"
)

// ----------------------- tunables -----------------------

const (
	// Quorum is the participant count that starts a contest.
	Quorum = 2

	defaultStartCountdownSeconds = 15
	defaultNextProblemDelay      = 15 * time.Second
)

const roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const roomIDLength = 6

// ----------------------- collaborator contracts -----------------------

// Messenger fans events out to every live connection subscribed to a room.
// Delivery is best-effort and must not block the caller.
type Messenger interface {
	BroadcastToRoom(roomID, event string, payload interface{})
}

// JudgeService is the external judge: problem catalog and verdict lookups.
type JudgeService interface {
	FetchCandidatePool(ctx context.Context, count, minRating, maxRating int) ([]models.Problem, error)
	FetchSolvedSet(ctx context.Context, handle string) (map[string]bool, error)
	HasAcceptedSubmission(ctx context.Context, handle string, problem models.Problem) (bool, error)
}

// ----------------------- machine -----------------------

// Machine orchestrates every room's contest lifecycle: it owns the
// transitions, coordinates the session registry with the durable stores, and
// triggers broadcasts in transition order.
type Machine struct {
	registry  *Registry
	rooms     store.RoomStore
	users     store.UserStore
	judge     JudgeService
	messenger Messenger

	// Timings, overridable so tests can run fast.
	StartCountdownSeconds   int
	NextProblemDelay        time.Duration
	TickInterval            time.Duration
	ProblemDurationOverride time.Duration
}

// NewMachine wires a Machine with production timings.
func NewMachine(registry *Registry, rooms store.RoomStore, users store.UserStore, judge JudgeService, messenger Messenger) *Machine {
	return &Machine{
		registry:              registry,
		rooms:                 rooms,
		users:                 users,
		judge:                 judge,
		messenger:             messenger,
		StartCountdownSeconds: defaultStartCountdownSeconds,
		NextProblemDelay:      defaultNextProblemDelay,
		TickInterval:          time.Second,
	}
}

func (m *Machine) notify(roomID, text string) {
	m.messenger.BroadcastToRoom(roomID, EventNotification, map[string]interface{}{"text": text})
}

func (m *Machine) problemDuration(settings models.Settings) time.Duration {
	if m.ProblemDurationOverride > 0 {
		return m.ProblemDurationOverride
	}
	return time.Duration(settings.Timer) * time.Minute
}

// ----------------------- room creation -----------------------

// CreateRoom fetches a fresh problem set, persists a new room with host as
// the only participant, and seeds its session.
func (m *Machine) CreateRoom(ctx context.Context, host string, settings models.Settings) (*models.Room, error) {
	applySettingsDefaults(&settings)

	problems, err := m.judge.FetchCandidatePool(ctx, settings.ProblemCount, settings.MinDifficulty, settings.MaxDifficulty)
	if err != nil {
		return nil, err
	}
	if len(problems) < settings.ProblemCount {
		return nil, fmt.Errorf("%w: got %d of %d", ErrInsufficientProblems, len(problems), settings.ProblemCount)
	}

	roomID, err := m.uniqueRoomID(ctx)
	if err != nil {
		return nil, err
	}

	room := &models.Room{
		RoomID:          roomID,
		Host:            host,
		Participants:    []string{host},
		Settings:        settings,
		Problems:        problems,
		Scores:          map[string]int{host: 0},
		SolvedProblems:  map[string][]string{},
		Chat:            []models.ChatMessage{},
		ContestIsActive: true,
		CreatedAt:       time.Now(),
	}
	if err := m.rooms.Save(ctx, room); err != nil {
		return nil, err
	}

	m.registry.GetOrCreate(roomID, room)
	if err := m.users.SetCurrentRoom(ctx, host, roomID); err != nil {
		logger.Warn.Printf("[CreateRoom] Could not record current room for %s: %v", host, err)
	}
	logger.Info.Printf("[CreateRoom] Room %s created by %s (%d problems, rating %d-%d)",
		roomID, host, len(problems), settings.MinDifficulty, settings.MaxDifficulty)
	return room, nil
}

func applySettingsDefaults(s *models.Settings) {
	if s.ProblemCount <= 0 {
		s.ProblemCount = 4
	}
	if s.MinDifficulty <= 0 {
		s.MinDifficulty = 800
	}
	if s.MaxDifficulty <= 0 {
		s.MaxDifficulty = 1500
	}
	if s.Timer <= 0 {
		s.Timer = 60
	}
}

func (m *Machine) uniqueRoomID(ctx context.Context) (string, error) {
	for {
		id := randomRoomID()
		exists, err := m.rooms.Exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
}

func randomRoomID() string {
	b := make([]byte, roomIDLength)
	for i := range b {
		b[i] = roomIDAlphabet[rand.Intn(len(roomIDAlphabet))]
	}
	return string(b)
}

// ----------------------- join / quorum / countdown -----------------------

// JoinRoom adds username to the roster, and when the roster first reaches
// quorum arms the start countdown — exactly once per room, even when two
// participants join in the same tick. The durable read-modify-write happens
// under the session lock; two concurrent joins serialize instead of losing a
// roster entry.
func (m *Machine) JoinRoom(ctx context.Context, roomID, username string) (*models.Room, error) {
	room, err := m.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	s := m.registry.GetOrCreate(roomID, room)
	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-read now that the lock is held; the first read only located the room
	// and a concurrent join may have written since.
	room, err = m.rooms.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			// torn down between the two reads; don't leave a session behind
			s.cancelTimersLocked()
			m.registry.detach(roomID)
		}
		return nil, err
	}
	if !room.HasParticipant(username) {
		room.Participants = append(room.Participants, username)
		if room.Scores == nil {
			room.Scores = map[string]int{}
		}
		room.Scores[username] = 0
		if err := m.rooms.Save(ctx, room); err != nil {
			return nil, err
		}
	}
	if err := m.users.SetCurrentRoom(ctx, username, roomID); err != nil {
		logger.Warn.Printf("[JoinRoom] Could not record current room for %s: %v", username, err)
	}

	if _, ok := s.Scores[username]; !ok {
		s.Scores[username] = 0
	}
	m.notify(roomID, fmt.Sprintf("%s has joined the room.", username))

	// Waiting -> CountdownToStart on first reaching quorum. The state guard
	// makes re-arming impossible while a countdown is pending.
	if s.State == StateWaiting && len(room.Participants) >= Quorum {
		s.State = StateCountdown
		m.armCountdownLocked(s)
		m.notify(roomID, fmt.Sprintf("A second player has joined! The contest will start in %d seconds.", m.StartCountdownSeconds))
		logger.Info.Printf("[JoinRoom] Room %s reached quorum, countdown armed", roomID)
	}

	return room, nil
}

// armCountdownLocked starts the countdown ticker. Caller holds s.mu.
func (m *Machine) armCountdownLocked(s *Session) {
	ctx, cancel := context.WithCancel(context.Background())
	s.countdownCancel = cancel
	roomID := s.RoomID
	remaining := m.StartCountdownSeconds

	m.messenger.BroadcastToRoom(roomID, EventCountdown, map[string]interface{}{"remaining": remaining})

	ticker := time.NewTicker(m.TickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				remaining--
				if remaining <= 0 {
					m.startContest(roomID)
					return
				}
				m.messenger.BroadcastToRoom(roomID, EventCountdown, map[string]interface{}{"remaining": remaining})
			}
		}
	}()
}

// startContest fires when the countdown reaches zero: CountdownToStart ->
// Active(0), or back to Waiting when no eligible problem set can be
// assembled.
func (m *Machine) startContest(roomID string) {
	s, ok := m.registry.Get(roomID)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.State != StateCountdown {
		s.mu.Unlock()
		return
	}
	s.countdownCancel = nil
	needSelection := len(s.Problems) == 0
	s.mu.Unlock()

	ctx := context.Background()
	room, err := m.rooms.Get(ctx, roomID)
	if err != nil {
		logger.Error.Printf("[startContest] Room %s vanished before start: %v", roomID, err)
		m.abortStart(s, "The contest could not start: room record unavailable. The room is open again.")
		return
	}

	var selected []models.Problem
	if needSelection {
		selected, err = m.selectProblems(ctx, room)
		if err != nil || len(selected) == 0 {
			logger.Warn.Printf("[startContest] Problem selection failed for room %s: %v", roomID, err)
			m.abortStart(s, "Could not find enough problems with the room settings. Adjust and try again.")
			return
		}
	}

	// Selection did I/O without the lock; re-validate before transitioning.
	s.mu.Lock()
	if s.State != StateCountdown {
		s.mu.Unlock()
		return
	}
	if needSelection {
		s.Problems = selected
	}
	s.Started = true
	s.State = StateActive
	s.CurrentProblemIndex = 0
	s.solved = make(map[string]bool)
	first := s.Problems[0]
	m.armProblemTimerLocked(s, room.Settings)

	m.notify(roomID, "The contest has started!")
	m.messenger.BroadcastToRoom(roomID, EventNewProblem, map[string]interface{}{"problem": first})
	problems := s.Problems
	s.mu.Unlock()

	logger.Info.Printf("[startContest] Room %s is live, first problem %s", roomID, first.Key())

	now := time.Now()
	room.ContestStartTime = &now
	room.Problems = problems
	room.CurrentProblemIndex = 0
	if err := m.rooms.Save(ctx, room); err != nil {
		// Non-fatal: the session stays authoritative and the durable copy is
		// retried at the next persistence point.
		logger.Error.Printf("[startContest] Failed to persist start of room %s: %v", roomID, err)
	}
}

// abortStart reverts CountdownToStart to Waiting and tells the room why.
// The room is left startable again.
func (m *Machine) abortStart(s *Session, reason string) {
	s.mu.Lock()
	if s.State == StateCountdown {
		s.State = StateWaiting
	}
	s.mu.Unlock()
	m.notify(s.RoomID, reason)
}

// selectProblems assembles a problem set no participant has already solved.
// A failed solved-set fetch is logged and treated as "assume nothing solved"
// rather than stalling the room.
func (m *Machine) selectProblems(ctx context.Context, room *models.Room) ([]models.Problem, error) {
	pool, err := m.judge.FetchCandidatePool(ctx, room.Settings.ProblemCount*3,
		room.Settings.MinDifficulty, room.Settings.MaxDifficulty)
	if err != nil {
		return nil, err
	}

	beaten := make(map[string]bool)
	for _, username := range room.Participants {
		user, err := m.users.GetByUsername(ctx, username)
		if err != nil || user.Handle == "" {
			continue
		}
		solved, err := m.judge.FetchSolvedSet(ctx, user.Handle)
		if err != nil {
			logger.Warn.Printf("[selectProblems] Solved-set fetch failed for %s, assuming nothing solved: %v", user.Handle, err)
			continue
		}
		for key := range solved {
			beaten[key] = true
		}
	}

	var picked []models.Problem
	for _, p := range pool {
		if beaten[p.Key()] {
			continue
		}
		picked = append(picked, p)
		if len(picked) == room.Settings.ProblemCount {
			break
		}
	}
	if len(picked) < room.Settings.ProblemCount {
		return nil, fmt.Errorf("%w: got %d of %d", ErrInsufficientProblems, len(picked), room.Settings.ProblemCount)
	}
	return picked, nil
}

// ----------------------- per-problem time limit -----------------------

// armProblemTimerLocked arms the per-problem time limit. Caller holds s.mu.
func (m *Machine) armProblemTimerLocked(s *Session, settings models.Settings) {
	gen := s.problemGen
	roomID := s.RoomID
	if s.problemTimer != nil {
		s.problemTimer.Stop()
	}
	s.problemTimer = time.AfterFunc(m.problemDuration(settings), func() {
		m.handleProblemTimeUp(roomID, gen)
	})
}

// handleProblemTimeUp forces advancement when nobody solved the problem in
// time. No points are awarded. A stale generation means the problem already
// advanced (or an advancement is pending) and the expiry is ignored.
func (m *Machine) handleProblemTimeUp(roomID string, gen int) {
	s, ok := m.registry.Get(roomID)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.State != StateActive || s.problemGen != gen {
		s.mu.Unlock()
		return
	}
	prob, _ := s.currentProblemLocked()
	m.messenger.BroadcastToRoom(roomID, EventTimeUp, map[string]interface{}{})
	m.notify(roomID, fmt.Sprintf("Time is up for %q! Moving on.", prob.Name))
	s.mu.Unlock()

	m.advance(roomID, gen)
}

// ----------------------- advancement -----------------------

// scheduleNextProblemLocked arms the delayed Active -> AwaitingNext ->
// Active(k+1) transition. First-solver-advances: the first verified solve on
// the current problem schedules it; later solves in the window still score
// but never re-arm. Caller holds s.mu.
func (m *Machine) scheduleNextProblemLocked(s *Session) {
	if s.nextProblemTimer != nil {
		return
	}
	s.State = StateAwaitingNext
	roomID := s.RoomID
	gen := s.problemGen
	m.notify(roomID, fmt.Sprintf("Next problem in %d seconds...", int(m.NextProblemDelay/time.Second)))
	s.nextProblemTimer = time.AfterFunc(m.NextProblemDelay, func() {
		m.advance(roomID, gen)
	})
}

// advance moves the room past problem generation gen: to the next problem,
// or to Finished when none remains. A stale gen means another path already
// advanced past that problem (or teardown ran) and the call is a no-op, so
// time-up and next-problem timers racing each other can never double-advance.
func (m *Machine) advance(roomID string, gen int) {
	s, ok := m.registry.Get(roomID)
	if !ok {
		return
	}

	s.mu.Lock()
	if !s.Started || s.problemGen != gen {
		s.mu.Unlock()
		return
	}
	// A timer armed after this call was scheduled may still be pending; stop
	// it before dropping the reference. Stop on the timer that fired us is a
	// no-op.
	if s.nextProblemTimer != nil {
		s.nextProblemTimer.Stop()
		s.nextProblemTimer = nil
	}
	if s.problemTimer != nil {
		s.problemTimer.Stop()
		s.problemTimer = nil
	}
	s.problemGen++
	s.CurrentProblemIndex++

	if next, ok := s.currentProblemLocked(); ok {
		s.solved = make(map[string]bool)
		s.State = StateActive
		m.notify(roomID, "A new problem has been assigned!")
		m.messenger.BroadcastToRoom(roomID, EventNewProblem, map[string]interface{}{"problem": next})
		idx := s.CurrentProblemIndex
		scores := s.copyScoresLocked()
		m.armProblemTimerLocked(s, s.Settings)
		s.mu.Unlock()

		logger.Info.Printf("[advance] Room %s advanced to problem %s", roomID, next.Key())
		m.persistProgress(roomID, idx, scores, false)
		return
	}

	// No further problem: Finished. Scores freeze here.
	s.Started = false
	s.State = StateFinished
	scores := s.copyScoresLocked()
	idx := s.CurrentProblemIndex
	m.notify(roomID, "Contest Finished! Well done!")
	m.messenger.BroadcastToRoom(roomID, EventContestFinished, map[string]interface{}{"scores": scores})
	s.mu.Unlock()

	logger.Info.Printf("[advance] Room %s finished", roomID)
	m.persistProgress(roomID, idx, scores, true)
}

// persistProgress writes the session's view of the room to the durable copy.
// Failures are logged and swallowed; the in-memory session stays
// authoritative and the next checkpoint retries.
func (m *Machine) persistProgress(roomID string, problemIndex int, scores map[string]int, finished bool) {
	ctx := context.Background()
	room, err := m.rooms.Get(ctx, roomID)
	if err != nil {
		logger.Error.Printf("[persistProgress] Could not load room %s: %v", roomID, err)
		return
	}
	room.CurrentProblemIndex = problemIndex
	room.Scores = scores
	if finished {
		room.ContestIsActive = false
		now := time.Now()
		room.ContestEndTime = &now
	}
	if err := m.rooms.Save(ctx, room); err != nil {
		logger.Error.Printf("[persistProgress] Failed to persist room %s: %v", roomID, err)
	}
}

// ----------------------- leaving / teardown -----------------------

// LeaveRoom removes username from the roster. The last participant leaving
// cancels every pending timer, deletes the session and the durable record.
// Losing quorum during the start countdown reverts the room to Waiting.
// Like JoinRoom, the roster read-modify-write runs under the session lock so
// concurrent leaves (or a leave racing a join) never lose an update.
func (m *Machine) LeaveRoom(ctx context.Context, roomID, username string) error {
	room, err := m.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}

	s := m.registry.GetOrCreate(roomID, room)
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err = m.rooms.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			s.cancelTimersLocked()
			m.registry.detach(roomID)
		}
		return err
	}

	room.RemoveParticipant(username)
	delete(room.Scores, username)
	delete(s.Scores, username)

	if err := m.users.SetCurrentRoom(ctx, username, ""); err != nil {
		logger.Warn.Printf("[LeaveRoom] Could not clear current room for %s: %v", username, err)
	}

	if len(room.Participants) == 0 {
		s.cancelTimersLocked()
		s.Started = false
		m.registry.detach(roomID)
		if err := m.rooms.Delete(ctx, roomID); err != nil {
			logger.Error.Printf("[LeaveRoom] Failed to delete empty room %s: %v", roomID, err)
		}
		logger.Info.Printf("[LeaveRoom] Room %s emptied and torn down", roomID)
		return nil
	}

	if room.Host == username {
		room.Host = room.Participants[0]
	}
	if err := m.rooms.Save(ctx, room); err != nil {
		logger.Error.Printf("[LeaveRoom] Failed to persist roster of room %s: %v", roomID, err)
	}

	if s.State == StateCountdown && len(room.Participants) < Quorum {
		s.cancelTimersLocked()
		s.State = StateWaiting
		m.notify(roomID, "A player left before the start. Waiting for an opponent again.")
	}
	m.notify(roomID, fmt.Sprintf("%s has left the room.", username))
	return nil
}

// ----------------------- snapshots & chat -----------------------

// Snapshot is what a (re)connecting client needs to reconstruct the room:
// broadcasts are not replayed, the durable/session state is.
type Snapshot struct {
	CurrentProblem *models.Problem `json:"currentProblem"`
	Scores         map[string]int  `json:"scores"`
	Started        bool            `json:"started"`
}

// Snapshot returns the live view of a room, preferring the session over the
// durable copy.
func (m *Machine) Snapshot(ctx context.Context, roomID string) (*Snapshot, error) {
	if s, ok := m.registry.Get(roomID); ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		snap := &Snapshot{
			Scores:  s.copyScoresLocked(),
			Started: s.Started,
		}
		if s.Started {
			if p, ok := s.currentProblemLocked(); ok {
				snap.CurrentProblem = &p
			}
		}
		return snap, nil
	}

	room, err := m.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Scores: room.Scores, Started: false}
	return snap, nil
}

// AppendChat records a chat line durably (best-effort) and relays it to the
// room.
func (m *Machine) AppendChat(ctx context.Context, roomID, username, text string) (models.ChatMessage, error) {
	msg := models.ChatMessage{Username: username, Text: text, Timestamp: time.Now()}

	room, err := m.rooms.Get(ctx, roomID)
	if err != nil {
		return models.ChatMessage{}, err
	}
	room.Chat = append(room.Chat, msg)
	if err := m.rooms.Save(ctx, room); err != nil {
		logger.Warn.Printf("[AppendChat] Failed to persist chat for room %s: %v", roomID, err)
	}

	m.messenger.BroadcastToRoom(roomID, EventChatMessage, map[string]interface{}{
		"username":  msg.Username,
		"text":      msg.Text,
		"timestamp": msg.Timestamp,
	})
	return msg, nil
}
