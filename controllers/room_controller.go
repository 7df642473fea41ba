// File: controllers/room_controller.go
package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"blitzcup/contest"
	"blitzcup/logger"
	"blitzcup/middleware"
	"blitzcup/models"
	"blitzcup/services"
	"blitzcup/store"
)

// Health responds to load-balancer health checks.
func Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// RoomController handles the room lifecycle REST surface. All contest logic
// lives in the machine; these handlers only bind, delegate and respond.
type RoomController struct {
	machine        *contest.Machine
	rooms          store.RoomStore
	applicationURL string
}

// NewRoomController wires a RoomController.
func NewRoomController(machine *contest.Machine, rooms store.RoomStore, applicationURL string) *RoomController {
	return &RoomController{machine: machine, rooms: rooms, applicationURL: applicationURL}
}

// Create makes a new contest room with the caller as host.
func (rc *RoomController) Create(c *gin.Context) {
	var settings models.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid room settings"})
		return
	}

	username := c.GetString(middleware.UsernameKey)
	room, err := rc.machine.CreateRoom(c.Request.Context(), username, settings)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

type roomRequest struct {
	RoomID string `json:"roomId"`
}

// Join adds the caller to an existing room.
func (rc *RoomController) Join(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Room ID required"})
		return
	}

	username := c.GetString(middleware.UsernameKey)
	room, err := rc.machine.JoinRoom(c.Request.Context(), req.RoomID, username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// Leave removes the caller from their room.
func (rc *RoomController) Leave(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Room ID required"})
		return
	}

	username := c.GetString(middleware.UsernameKey)
	if err := rc.machine.LeaveRoom(c.Request.Context(), req.RoomID, username); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "Successfully left the room"})
}

// Details returns the durable room snapshot, the reconnect path for clients
// that missed broadcasts.
func (rc *RoomController) Details(c *gin.Context) {
	room, err := rc.rooms.Get(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// Verify runs the solution verification pipeline for the caller.
func (rc *RoomController) Verify(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Room ID required"})
		return
	}

	username := c.GetString(middleware.UsernameKey)
	result, err := rc.machine.Verify(c.Request.Context(), req.RoomID, username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// QRCode renders the room's join URL as a PNG so the host can share the
// token by screen.
func (rc *RoomController) QRCode(c *gin.Context) {
	roomID := c.Param("roomId")
	exists, err := rc.rooms.Exists(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !exists {
		respondError(c, store.ErrRoomNotFound)
		return
	}

	png, err := services.GenerateRoomQR(rc.applicationURL, roomID, 256)
	if err != nil {
		logger.Error.Printf("[QRCode] Failed to render QR for room %s: %v", roomID, err)
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
