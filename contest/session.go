// File: contest/session.go
package contest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"blitzcup/logger"
	"blitzcup/models"
)

// ----------------------- room lifecycle states -----------------------

// State is where a room sits in its contest lifecycle.
type State int

const (
	StateWaiting State = iota
	StateCountdown
	StateActive
	StateAwaitingNext
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateCountdown:
		return "countdown"
	case StateActive:
		return "active"
	case StateAwaitingNext:
		return "awaiting-next"
	case StateFinished:
		return "finished"
	}
	return "unknown"
}

// ----------------------- session -----------------------

// Session is the volatile, process-local runtime state of one room. All
// fields are guarded by mu; every handler path for a room serializes through
// it, so two participants acting in the same tick can never interleave their
// mutations.
type Session struct {
	RoomID string

	mu sync.Mutex

	State               State
	Started             bool
	Settings            models.Settings
	Problems            []models.Problem
	CurrentProblemIndex int
	Scores              map[string]int

	// solved is the per-current-problem solved set, keyed user#problemKey.
	// Reset exactly on problem advancement.
	solved map[string]bool

	// problemGen fences stale timer callbacks and in-flight verifications:
	// it increments on every advancement, and anything that captured an older
	// generation must not mutate the session.
	problemGen int

	countdownCancel  context.CancelFunc
	nextProblemTimer *time.Timer
	problemTimer     *time.Timer
}

func solvedKey(username string, p models.Problem) string {
	return fmt.Sprintf("%s#%s", username, p.Key())
}

// currentProblemLocked returns the active problem, if any. Caller holds mu.
func (s *Session) currentProblemLocked() (models.Problem, bool) {
	if s.CurrentProblemIndex < 0 || s.CurrentProblemIndex >= len(s.Problems) {
		return models.Problem{}, false
	}
	return s.Problems[s.CurrentProblemIndex], true
}

// copyScoresLocked snapshots the live scores. Caller holds mu.
func (s *Session) copyScoresLocked() map[string]int {
	out := make(map[string]int, len(s.Scores))
	for k, v := range s.Scores {
		out[k] = v
	}
	return out
}

// cancelTimersLocked stops every armed timer for the room. A cancelled timer
// must not execute its body; the problemGen fence catches the window where a
// timer already fired but has not yet taken the lock. Caller holds mu.
func (s *Session) cancelTimersLocked() {
	if s.countdownCancel != nil {
		s.countdownCancel()
		s.countdownCancel = nil
	}
	if s.nextProblemTimer != nil {
		s.nextProblemTimer.Stop()
		s.nextProblemTimer = nil
	}
	if s.problemTimer != nil {
		s.problemTimer.Stop()
		s.problemTimer = nil
	}
	s.problemGen++
}

// ----------------------- session registry -----------------------

// Registry is the process-wide map from room id to its Session. Sessions are
// created on first reference and destroyed when the room empties; they are
// rebuildable from the durable room record, except for in-flight timers.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate fetches the session for roomID, seeding a new one from the
// durable record if none exists yet.
func (r *Registry) GetOrCreate(roomID string, seed *models.Room) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[roomID]; ok {
		return s
	}

	logger.Info.Printf("Creating new session for room %s", roomID)
	s := &Session{
		RoomID: roomID,
		State:  StateWaiting,
		Scores: make(map[string]int),
		solved: make(map[string]bool),
	}
	if seed != nil {
		s.Settings = seed.Settings
		s.Problems = seed.Problems
		s.CurrentProblemIndex = seed.CurrentProblemIndex
		for name, score := range seed.Scores {
			s.Scores[name] = score
		}
		if !seed.ContestIsActive {
			s.State = StateFinished
		}
	}
	r.sessions[roomID] = s
	return s
}

// Get returns the session for roomID if one exists.
func (r *Registry) Get(roomID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[roomID]
	return s, ok
}

// detach removes the session from the registry without touching its timers.
// For callers that already hold the session lock and cancel them directly;
// Delete would deadlock there.
func (r *Registry) detach(roomID string) {
	r.mu.Lock()
	delete(r.sessions, roomID)
	r.mu.Unlock()
}

// Delete cancels any armed timers for roomID and removes its session.
// Cancelling first is mandatory: an orphaned callback must never mutate a
// deleted session.
func (r *Registry) Delete(roomID string) {
	r.mu.Lock()
	s, ok := r.sessions[roomID]
	delete(r.sessions, roomID)
	r.mu.Unlock()

	if !ok {
		logger.Warn.Printf("Attempted to delete non-existent session for room %s", roomID)
		return
	}
	s.mu.Lock()
	s.cancelTimersLocked()
	s.Started = false
	s.mu.Unlock()
	logger.Info.Printf("Deleted session for room %s", roomID)
}
