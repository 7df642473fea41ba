// File: controllers/auth_controller.go
package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"blitzcup/logger"
	"blitzcup/middleware"
	"blitzcup/models"
	"blitzcup/security"
	"blitzcup/store"
)

// AuthController handles account registration and login.
type AuthController struct {
	users     store.UserStore
	jwtSecret []byte
	jwtExpiry time.Duration
}

// NewAuthController wires an AuthController.
func NewAuthController(users store.UserStore, jwtSecret []byte, jwtExpiry time.Duration) *AuthController {
	return &AuthController{users: users, jwtSecret: jwtSecret, jwtExpiry: jwtExpiry}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Handle   string `json:"codeforcesUsername"`
}

// Register creates an account and returns an auth token.
func (a *AuthController) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Provide username, email and password"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(c, err)
		return
	}

	user := &models.User{
		Username: req.Username,
		Email:    req.Email,
		Password: string(hash),
		Handle:   req.Handle,
	}
	if err := a.users.Create(c.Request.Context(), user); err != nil {
		respondError(c, err)
		return
	}

	token, err := security.CreateToken(a.jwtSecret, user.Username, a.jwtExpiry)
	if err != nil {
		respondError(c, err)
		return
	}
	logger.Info.Printf("[Register] New user %s", user.Username)
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login checks credentials and returns an auth token. Wrong email and wrong
// password reject identically.
func (a *AuthController) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Provide email and password"})
		return
	}

	user, err := a.users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid Credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid Credentials"})
		return
	}

	token, err := security.CreateToken(a.jwtSecret, user.Username, a.jwtExpiry)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Me returns the authenticated user's profile.
func (a *AuthController) Me(c *gin.Context) {
	username := c.GetString(middleware.UsernameKey)
	user, err := a.users.GetByUsername(c.Request.Context(), username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
