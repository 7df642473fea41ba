// controllers/room_controller_test.go
package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blitzcup/contest"
	"blitzcup/middleware"
	"blitzcup/models"
	"blitzcup/security"
	"blitzcup/store"
)

type nopMessenger struct{}

func (nopMessenger) BroadcastToRoom(string, string, interface{}) {}

// stubJudge serves a fixed pool and never reports accepted submissions.
type stubJudge struct {
	pool []models.Problem
	err  error
}

func (s *stubJudge) FetchCandidatePool(_ context.Context, count, _, _ int) ([]models.Problem, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.pool) > count {
		return s.pool[:count], nil
	}
	return s.pool, nil
}

func (s *stubJudge) FetchSolvedSet(context.Context, string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (s *stubJudge) HasAcceptedSubmission(context.Context, string, models.Problem) (bool, error) {
	return false, s.err
}

func stubPool(n int) []models.Problem {
	out := make([]models.Problem, n)
	for i := range out {
		out[i] = models.Problem{ContestID: 1800 + i, Index: "A", Name: fmt.Sprintf("P%d", i), Points: 1000}
	}
	return out
}

type roomTestEnv struct {
	router *gin.Engine
	rooms  *store.MemoryRoomStore
	users  *store.MemoryUserStore
	token  string
}

func newRoomTestEnv(t *testing.T, j contest.JudgeService) *roomTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rooms := store.NewMemoryRoomStore()
	users := store.NewMemoryUserStore()
	alice := models.User{Username: "alice", Email: "alice@example.com", Password: "x", Handle: "alice_cf"}
	require.NoError(t, users.Create(context.Background(), &alice))

	machine := contest.NewMachine(contest.NewRegistry(), rooms, users, j, nopMessenger{})
	rc := NewRoomController(machine, rooms, "https://blitzcup.example.com")

	r := gin.New()
	api := r.Group("/api", middleware.AuthRequired(testSecret))
	api.POST("/rooms/create", rc.Create)
	api.POST("/rooms/join", rc.Join)
	api.POST("/rooms/leave", rc.Leave)
	api.GET("/rooms/details/:roomId", rc.Details)
	api.POST("/rooms/verify", rc.Verify)
	api.GET("/rooms/:roomId/qrcode", rc.QRCode)

	token, err := security.CreateToken(testSecret, "alice", time.Hour)
	require.NoError(t, err)

	return &roomTestEnv{router: r, rooms: rooms, users: users, token: token}
}

func (e *roomTestEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+e.token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *roomTestEnv) createRoom(t *testing.T) models.Room {
	t.Helper()
	rec := postJSON(t, e.router, "/api/rooms/create", gin.H{"problemCount": 2}, e.token)
	require.Equal(t, http.StatusOK, rec.Code)
	var room models.Room
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &room))
	return room
}

func TestRoomCreate(t *testing.T) {
	env := newRoomTestEnv(t, &stubJudge{pool: stubPool(6)})

	room := env.createRoom(t)
	assert.Len(t, room.RoomID, 6)
	assert.Equal(t, "alice", room.Host)
	assert.Len(t, room.Problems, 2)
}

func TestRoomCreate_RequiresAuth(t *testing.T) {
	env := newRoomTestEnv(t, &stubJudge{pool: stubPool(6)})

	rec := postJSON(t, env.router, "/api/rooms/create", gin.H{"problemCount": 2}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoomCreate_InsufficientPoolIsClientError(t *testing.T) {
	env := newRoomTestEnv(t, &stubJudge{pool: stubPool(1)})

	rec := postJSON(t, env.router, "/api/rooms/create", gin.H{"problemCount": 4}, env.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoomJoin_UnknownRoomIs404(t *testing.T) {
	env := newRoomTestEnv(t, &stubJudge{pool: stubPool(6)})

	rec := postJSON(t, env.router, "/api/rooms/join", gin.H{"roomId": "NOPE12"}, env.token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "room not found")
}

func TestRoomJoin_MissingRoomID(t *testing.T) {
	env := newRoomTestEnv(t, &stubJudge{pool: stubPool(6)})

	rec := postJSON(t, env.router, "/api/rooms/join", gin.H{}, env.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoomDetails(t *testing.T) {
	env := newRoomTestEnv(t, &stubJudge{pool: stubPool(6)})
	room := env.createRoom(t)

	rec := env.get(t, "/api/rooms/details/"+room.RoomID)
	assert.Equal(t, http.StatusOK, rec.Code)

	var got models.Room
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, room.RoomID, got.RoomID)
	assert.Equal(t, []string{"alice"}, got.Participants)
}

func TestRoomLeave(t *testing.T) {
	env := newRoomTestEnv(t, &stubJudge{pool: stubPool(6)})
	room := env.createRoom(t)

	rec := postJSON(t, env.router, "/api/rooms/leave", gin.H{"roomId": room.RoomID}, env.token)
	assert.Equal(t, http.StatusOK, rec.Code)

	// the last participant leaving deletes the room
	rec = env.get(t, "/api/rooms/details/"+room.RoomID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoomVerify_BeforeStartIsClientError(t *testing.T) {
	env := newRoomTestEnv(t, &stubJudge{pool: stubPool(6)})
	room := env.createRoom(t)

	rec := postJSON(t, env.router, "/api/rooms/verify", gin.H{"roomId": room.RoomID}, env.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "has not started")
}

func TestRoomQRCode(t *testing.T) {
	env := newRoomTestEnv(t, &stubJudge{pool: stubPool(6)})
	room := env.createRoom(t)

	rec := env.get(t, "/api/rooms/"+room.RoomID+"/qrcode")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())

	rec = env.get(t, "/api/rooms/NOPE12/qrcode")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
