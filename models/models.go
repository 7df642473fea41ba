// Package models defines data structures used across the application.
// File: models/models.go
package models

import (
	"fmt"
	"time"
)

// ----------------------- problem model -----------------------

// Problem is a single judge problem assigned to a room. Immutable once
// assigned.
type Problem struct {
	ContestID int      `json:"contestId"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	Tags      []string `json:"tags"`
	Points    int      `json:"points"`
}

// Key returns the composite judge key, e.g. "1700A".
func (p Problem) Key() string {
	return fmt.Sprintf("%d%s", p.ContestID, p.Index)
}

// ----------------------- room model -----------------------

// Settings are the host-chosen contest parameters.
type Settings struct {
	ProblemCount  int `json:"problemCount"`
	MinDifficulty int `json:"minDifficulty"`
	MaxDifficulty int `json:"maxDifficulty"`
	Timer         int `json:"timer"` // minutes per problem
}

// ChatMessage is one line of a room's chat transcript.
type ChatMessage struct {
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Room is the durable record of a contest room.
type Room struct {
	RoomID              string              `json:"roomId"`
	Host                string              `json:"host"`
	Participants        []string            `json:"participants"` // join order
	Settings            Settings            `json:"settings"`
	Problems            []Problem           `json:"problems"`
	Scores              map[string]int      `json:"scores"`
	SolvedProblems      map[string][]string `json:"solvedProblems"` // problem key -> usernames
	Chat                []ChatMessage       `json:"chat"`
	CurrentProblemIndex int                 `json:"currentProblemIndex"`
	ContestIsActive     bool                `json:"contestIsActive"`
	ContestStartTime    *time.Time          `json:"contestStartTime"`
	ContestEndTime      *time.Time          `json:"contestEndTime"`
	CreatedAt           time.Time           `json:"createdAt"`
}

// HasParticipant reports whether username is on the roster.
func (r *Room) HasParticipant(username string) bool {
	for _, p := range r.Participants {
		if p == username {
			return true
		}
	}
	return false
}

// RemoveParticipant drops username from the roster, preserving join order.
func (r *Room) RemoveParticipant(username string) {
	kept := r.Participants[:0]
	for _, p := range r.Participants {
		if p != username {
			kept = append(kept, p)
		}
	}
	r.Participants = kept
}

// ----------------------- user model -----------------------

// User is an account. Password holds the bcrypt hash, never plaintext.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	Password      string `json:"-"`
	Handle        string `json:"codeforcesUsername"` // judge handle for verification
	CurrentRoomID string `json:"currentRoomId"`
	ConnectionID  string `json:"-"` // volatile, cleared on disconnect
}
