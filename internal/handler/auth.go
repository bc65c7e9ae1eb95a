package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/picshare/internal/identity"
	"go.uber.org/zap"
)

// AuthHandler handles password accounts and the signed-in account's profile.
type AuthHandler struct {
	accounts accountSvc
	sessions *identity.SessionIssuer
	logger   *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(accounts accountSvc, sessions *identity.SessionIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, sessions: sessions, logger: logger}
}

// Register mounts all auth routes. mw runs before each of them.
func (h *AuthHandler) Register(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	auth := rg.Group("/auth", mw...)
	auth.POST("/signup", h.Signup)
	auth.POST("/login", h.Login)

	me := identity.RequireAccount(h.sessions, h.accounts)
	auth.GET("/me", me, h.Me)
	auth.PATCH("/me", me, h.UpdateMe)
	auth.PUT("/password", me, h.SetPassword)
}

type signupRequest struct {
	Email       string `json:"email"        binding:"required"`
	Password    string `json:"password"     binding:"required"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

type setPasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password" binding:"required"`
}

type updateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatar_url"`
}

// Signup handles POST /auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}

	a, err := h.accounts.Signup(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	tok, err := h.sessions.Issue(a)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account": a, "token": tok, "token_type": "Bearer"})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}

	a, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	tok, err := h.sessions.Issue(a)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": a, "token": tok, "token_type": "Bearer"})
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"account": identity.CurrentAccount(c)})
}

// UpdateMe handles PATCH /auth/me. Omitted fields keep their value.
func (h *AuthHandler) UpdateMe(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid profile body")
		return
	}
	a := identity.CurrentAccount(c)
	displayName, bio, avatar := a.DisplayName, a.Bio, a.AvatarURL
	if req.DisplayName != nil {
		displayName = *req.DisplayName
	}
	if req.Bio != nil {
		bio = *req.Bio
	}
	if req.AvatarURL != nil {
		avatar = *req.AvatarURL
	}

	updated, err := h.accounts.UpdateProfile(c.Request.Context(), a.ID, displayName, bio, avatar)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": updated})
}

// SetPassword handles PUT /auth/password. Accounts created through a social
// login set their first password without a current one.
func (h *AuthHandler) SetPassword(c *gin.Context) {
	var req setPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "new_password is required")
		return
	}
	a := identity.CurrentAccount(c)
	if err := h.accounts.SetPassword(c.Request.Context(), a.ID, req.CurrentPassword, req.NewPassword); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}
