// Package contest implements the room contest state machine: session
// registry, lifecycle transitions, and the solution verification pipeline.
// File: contest/errors.go
package contest

import "errors"

// Precondition failures surfaced to the acting client with a human-readable
// reason. Upstream judge failures are a separate class (see the judge
// package) and are never reinterpreted as one of these.
var (
	ErrContestNotActive     = errors.New("this contest has already finished")
	ErrContestNotStarted    = errors.New("contest has not started yet")
	ErrNoActiveProblem      = errors.New("there is no active problem in this room")
	ErrNoHandle             = errors.New("please set your Codeforces handle in your profile to verify")
	ErrNoAcceptedSubmission = errors.New("no accepted submission was found for this problem")
	ErrInsufficientProblems = errors.New("could not fetch enough problems with the specified criteria")
)
