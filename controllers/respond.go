// Package controllers holds the gin handlers for the REST surface.
// File: controllers/respond.go
package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"blitzcup/contest"
	"blitzcup/judge"
	"blitzcup/logger"
	"blitzcup/store"
)

// httpStatusFromError maps domain errors to HTTP status codes. Precondition
// failures are the client's problem, upstream judge failures are a distinct
// "try again" class, everything unexpected is a 500.
func httpStatusFromError(err error) int {
	switch {
	case errors.Is(err, store.ErrRoomNotFound), errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrUserExists):
		return http.StatusBadRequest
	case errors.Is(err, contest.ErrContestNotActive),
		errors.Is(err, contest.ErrContestNotStarted),
		errors.Is(err, contest.ErrNoActiveProblem),
		errors.Is(err, contest.ErrNoHandle),
		errors.Is(err, contest.ErrNoAcceptedSubmission),
		errors.Is(err, contest.ErrInsufficientProblems):
		return http.StatusBadRequest
	case errors.Is(err, judge.ErrUpstreamTimeout), errors.Is(err, judge.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError sends the rejection reason to the acting client only.
func respondError(c *gin.Context, err error) {
	status := httpStatusFromError(err)
	if status == http.StatusInternalServerError {
		logger.Error.Printf("Unexpected error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(status, gin.H{"msg": "Server Error"})
		return
	}
	c.JSON(status, gin.H{"msg": err.Error()})
}
