// File: contest/verify.go
package contest

import (
	"context"
	"fmt"

	"blitzcup/logger"
	"blitzcup/models"
)

// VerifyResult is returned to the acting participant.
type VerifyResult struct {
	Message       string         `json:"msg"`
	Scores        map[string]int `json:"scores"`
	AlreadySolved bool           `json:"-"`
}

// Verify runs the verification pipeline for username's claim of having
// solved the active problem in roomID.
//
// Preconditions are checked in order, each with its own rejection reason:
// contest active, session started, a current problem, not already solved
// (idempotent — a repeat after success is a benign result, not an error),
// and a registered judge handle. Only then is the judge consulted; a judge
// failure surfaces as the distinct upstream class, never as "not solved".
// Because the judge call suspends without the session lock, every
// precondition is re-validated after it returns.
func (m *Machine) Verify(ctx context.Context, roomID, username string) (*VerifyResult, error) {
	room, err := m.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.ContestIsActive {
		return nil, ErrContestNotActive
	}

	user, err := m.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	s, ok := m.registry.Get(roomID)
	if !ok {
		return nil, ErrContestNotStarted
	}

	s.mu.Lock()
	// A finished session outranks the durable flag: the final persistence
	// checkpoint may have failed, leaving contestIsActive stale.
	if s.State == StateFinished {
		s.mu.Unlock()
		return nil, ErrContestNotActive
	}
	if !s.Started {
		s.mu.Unlock()
		return nil, ErrContestNotStarted
	}
	prob, ok := s.currentProblemLocked()
	if !ok {
		s.mu.Unlock()
		return nil, ErrNoActiveProblem
	}
	key := solvedKey(username, prob)
	if s.solved[key] {
		res := &VerifyResult{
			Message:       "You have already solved this problem.",
			Scores:        s.copyScoresLocked(),
			AlreadySolved: true,
		}
		s.mu.Unlock()
		return res, nil
	}
	if user.Handle == "" {
		s.mu.Unlock()
		return nil, ErrNoHandle
	}
	gen := s.problemGen
	s.mu.Unlock()

	accepted, err := m.judge.HasAcceptedSubmission(ctx, user.Handle, prob)
	if err != nil {
		logger.Warn.Printf("[Verify] Judge lookup failed for %s in room %s: %v", username, roomID, err)
		return nil, err
	}
	if !accepted {
		m.notify(roomID, fmt.Sprintf("%s's verification failed (No accepted solution found).", username))
		return nil, ErrNoAcceptedSubmission
	}

	// The judge call was in flight for a while; the contest may have moved.
	s.mu.Lock()
	if !s.Started {
		s.mu.Unlock()
		return nil, ErrContestNotActive
	}
	if s.problemGen != gen {
		s.mu.Unlock()
		return nil, ErrNoActiveProblem
	}
	if s.solved[key] {
		res := &VerifyResult{
			Message:       "You have already solved this problem.",
			Scores:        s.copyScoresLocked(),
			AlreadySolved: true,
		}
		s.mu.Unlock()
		return res, nil
	}

	s.solved[key] = true
	points := prob.Points
	if points == 0 {
		points = 100
	}
	s.Scores[username] += points
	scores := s.copyScoresLocked()

	m.notify(roomID, fmt.Sprintf("%s solved %q!", username, prob.Name))
	m.messenger.BroadcastToRoom(roomID, EventScoreUpdate, map[string]interface{}{"scores": scores})
	m.messenger.BroadcastToRoom(roomID, EventProblemSolved, map[string]interface{}{
		"username": username,
		"problem":  prob,
	})
	m.scheduleNextProblemLocked(s)
	s.mu.Unlock()

	logger.Info.Printf("[Verify] %s solved %s in room %s (+%d)", username, prob.Key(), roomID, points)
	m.persistVerification(roomID, username, prob, scores)

	return &VerifyResult{Message: "Solution verified successfully!", Scores: scores}, nil
}

// persistVerification writes the new scores and the solver record to the
// durable copy. Best-effort: on failure the session stays authoritative and
// the next checkpoint carries the scores again.
func (m *Machine) persistVerification(roomID, username string, prob models.Problem, scores map[string]int) {
	ctx := context.Background()
	room, err := m.rooms.Get(ctx, roomID)
	if err != nil {
		logger.Error.Printf("[persistVerification] Could not load room %s: %v", roomID, err)
		return
	}
	room.Scores = scores
	if room.SolvedProblems == nil {
		room.SolvedProblems = map[string][]string{}
	}
	room.SolvedProblems[prob.Key()] = append(room.SolvedProblems[prob.Key()], username)
	if err := m.rooms.Save(ctx, room); err != nil {
		logger.Error.Printf("[persistVerification] Failed to persist room %s: %v", roomID, err)
	}
}
