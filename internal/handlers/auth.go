package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"telecare-server/internal/config"
	"telecare-server/internal/errs"
	"telecare-server/internal/middleware"
	"telecare-server/internal/models"
	"telecare-server/internal/utils"
)

const refreshCookieName = "refresh_token"

// Accounts is the user store behind authentication.
type Accounts interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

// RefreshTokens stores issued refresh tokens.
type RefreshTokens interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindActive(ctx context.Context, token, userID string, now time.Time) (*models.RefreshToken, error)
	Revoke(ctx context.Context, token string, now time.Time) (bool, error)
}

// AuthHandler handles authentication-related requests.
type AuthHandler struct {
	Users  Accounts
	Tokens RefreshTokens
	Cfg    *config.Config
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users Accounts, tokens RefreshTokens, cfg *config.Config) *AuthHandler {
	return &AuthHandler{Users: users, Tokens: tokens, Cfg: cfg}
}

// RegisterRequest represents the request body for user registration. Self-registration is
// open to patients and doctors; admins are created by other admins.
type RegisterRequest struct {
	FirstName string `json:"firstName" binding:"required,max=100"`
	LastName  string `json:"lastName" binding:"required,max=100"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	Role      string `json:"role" binding:"required,oneof=patient doctor PATIENT DOCTOR"`
	Specialty string `json:"specialty" binding:"max=100"`
}

// Register handles user registration.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	role, _ := models.ParseRole(req.Role)
	user, err := newUser(req.FirstName, req.LastName, req.Email, req.Password, role, req.Specialty)
	if err != nil {
		utils.InternalServerError(c, "Failed to hash password")
		return
	}
	if err := h.Users.Create(c.Request.Context(), user); err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.Created(c, "User registered successfully", user.Sanitize())
}

// LoginRequest represents the request body for user login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the response body for successful login.
type LoginResponse struct {
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken"`
	User         models.UserSanitized `json:"user"`
}

// Login handles user login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	user, err := h.Users.FindByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			utils.Unauthorized(c, "Invalid email or password")
			return
		}
		utils.RespondError(c, err)
		return
	}
	if !user.CheckPassword(req.Password) {
		utils.Unauthorized(c, "Invalid email or password")
		return
	}

	accessToken, refreshToken, err := h.issueTokens(c, user)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.Success(c, "Login successful", LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user.Sanitize(),
	})
}

// RefreshTokenRequest represents the request body for token refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshTokenResponse represents the response body for successful token refresh.
type RefreshTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken rotates a refresh token: the presented token is revoked and a new pair issued.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	// Cookie first, request body as fallback.
	presented, err := c.Cookie(refreshCookieName)
	if err != nil || presented == "" {
		var req RefreshTokenRequest
		if !utils.BindAndValidate(c, &req) {
			return
		}
		presented = req.RefreshToken
	}

	claims, err := utils.ValidateToken(presented, h.Cfg.JWTRefreshSecret)
	if err != nil {
		utils.Unauthorized(c, "Invalid refresh token")
		return
	}

	ctx := c.Request.Context()
	now := time.Now()
	if _, err := h.Tokens.FindActive(ctx, presented, claims.UserID, now); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			utils.Unauthorized(c, "Refresh token not found, expired, or revoked")
			return
		}
		utils.RespondError(c, err)
		return
	}

	user, err := h.Users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			utils.Unauthorized(c, "User no longer exists")
			return
		}
		utils.RespondError(c, err)
		return
	}

	if _, err := h.Tokens.Revoke(ctx, presented, now); err != nil {
		utils.RespondError(c, err)
		return
	}

	accessToken, refreshToken, err := h.issueTokens(c, user)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.Success(c, "Access token refreshed successfully", RefreshTokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

// LogoutRequest represents the request body for user logout.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Logout revokes the presented refresh token and clears the cookie. Unknown tokens are
// accepted so logout is idempotent.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if !utils.BindOptional(c, &req) {
		return
	}
	if req.RefreshToken == "" {
		req.RefreshToken, _ = c.Cookie(refreshCookieName)
	}
	if req.RefreshToken == "" {
		utils.BadRequest(c, "Refresh token is required")
		return
	}

	revoked, err := h.Tokens.Revoke(c.Request.Context(), req.RefreshToken, time.Now())
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	h.setRefreshCookie(c, "", -1)
	if !revoked {
		utils.Success(c, "Logout successful (token not found or already invalid).", nil)
		return
	}
	utils.Success(c, "Logout successful. Refresh token has been invalidated.", nil)
}

// GetProfile handles fetching the currently authenticated user's profile.
func (h *AuthHandler) GetProfile(c *gin.Context) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	user, err := h.Users.FindByID(c.Request.Context(), userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, "Profile fetched successfully", user.Sanitize())
}

func (h *AuthHandler) issueTokens(c *gin.Context, user *models.User) (string, string, error) {
	accessToken, refreshToken, err := utils.GenerateTokens(user, h.Cfg)
	if err != nil {
		return "", "", err
	}

	ttl := time.Duration(h.Cfg.JWTRefreshExpirationHours) * time.Hour
	stored := &models.RefreshToken{
		UserID:    user.ID,
		Token:     refreshToken,
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := h.Tokens.Create(c.Request.Context(), stored); err != nil {
		return "", "", err
	}

	h.setRefreshCookie(c, refreshToken, int(ttl.Seconds()))
	return accessToken, refreshToken, nil
}

// setRefreshCookie writes the HTTP-only refresh cookie; a negative maxAge deletes it.
func (h *AuthHandler) setRefreshCookie(c *gin.Context, value string, maxAge int) {
	c.SetCookie(refreshCookieName, value, maxAge, "/", "", h.Cfg.Environment != "development", true)
}

func newUser(firstName, lastName, email, password string, role models.Role, specialty string) (*models.User, error) {
	user := &models.User{
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Role:      role,
	}
	if role == models.RoleDoctor {
		user.Specialty = specialty
	}
	if err := user.SetPassword(password); err != nil {
		return nil, err
	}
	return user, nil
}
