// Account HTTP handlers: registration, login, password reset and change,
// and the caller's usage snapshot.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-study-sidebar/internal/domain"
	"github.com/tbourn/go-study-sidebar/internal/http/middleware"
	"github.com/tbourn/go-study-sidebar/internal/services"
)

// AuthService defines account operations consumed by HTTP handlers.
type AuthService interface {
	Register(ctx context.Context, email, password, name string) (services.AuthResult, error)
	Login(ctx context.Context, email, password string) (services.AuthResult, error)
	ForgotPassword(ctx context.Context, email string) (token string, expires time.Time, err error)
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, userID, current, next string) error
	SetSubscription(ctx context.Context, userID, status string) error
}

// RegisterRequest is the JSON payload for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required" example:"ada@example.com"`
	Password string `json:"password" binding:"required" example:"correct horse"`
	Name     string `json:"name" example:"Ada"`
}

// LoginRequest is the JSON payload for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required" example:"ada@example.com"`
	Password string `json:"password" binding:"required" example:"correct horse"`
}

// ForgotPasswordRequest is the JSON payload for POST /auth/forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required" example:"ada@example.com"`
}

// ResetPasswordRequest is the JSON payload for POST /auth/reset-password.
type ResetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ChangePasswordRequest is the JSON payload for POST /auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

// SubscriptionRequest is the JSON payload for PUT /internal/users/{id}/subscription.
type SubscriptionRequest struct {
	Status string `json:"subscriptionStatus" binding:"required" enums:"freemium,premium" example:"premium"`
}

// UserView is the public part of an account.
type UserView struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	Name               string `json:"name"`
	SubscriptionStatus string `json:"subscriptionStatus" enums:"freemium,premium"`
}

// AuthResponse carries a bearer token and the account it was issued for.
type AuthResponse struct {
	Token string   `json:"token"`
	User  UserView `json:"user"`
}

// ForgotPasswordResponse carries the one-time reset token.
type ForgotPasswordResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func authResponse(res services.AuthResult) AuthResponse {
	var u domain.User
	if res.User != nil {
		u = *res.User
	}
	return AuthResponse{
		Token: res.Token,
		User: UserView{
			ID:                 u.ID,
			Email:              u.Email,
			Name:               u.Name,
			SubscriptionStatus: u.SubscriptionStatus,
		},
	}
}

// Register godoc
// @Summary      Create an account
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      RegisterRequest  true  "Credentials"
// @Success      201   {object}  AuthResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      409   {object}  ErrorResponse
// @Router       /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		failErr(c, err, h.now())
		return
	}
	ok(c, http.StatusCreated, authResponse(res))
}

// Login godoc
// @Summary      Sign in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      LoginRequest  true  "Credentials"
// @Success      200   {object}  AuthResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      401   {object}  ErrorResponse
// @Router       /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		failErr(c, err, h.now())
		return
	}
	ok(c, http.StatusOK, authResponse(res))
}

// ForgotPassword godoc
// @Summary      Issue a password reset token
// @Description  The token is valid for one hour and can be used once.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      ForgotPasswordRequest  true  "Account email"
// @Success      200   {object}  ForgotPasswordResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      404   {object}  ErrorResponse
// @Router       /auth/forgot-password [post]
func (h *Handlers) ForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	token, expires, err := h.auth.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		failErr(c, err, h.now())
		return
	}
	ok(c, http.StatusOK, ForgotPasswordResponse{Token: token, ExpiresAt: expires})
}

// ResetPassword godoc
// @Summary      Set a new password with a reset token
// @Tags         auth
// @Accept       json
// @Param        body  body  ResetPasswordRequest  true  "Token and new password"
// @Success      204
// @Failure      400  {object}  ErrorResponse
// @Router       /auth/reset-password [post]
func (h *Handlers) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		failErr(c, err, h.now())
		return
	}
	noContent(c)
}

// ChangePassword godoc
// @Summary      Change the caller's password
// @Tags         auth
// @Accept       json
// @Security     BearerAuth
// @Param        body  body  ChangePasswordRequest  true  "Current and new password"
// @Success      204
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /auth/change-password [post]
func (h *Handlers) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.ChangePassword(c.Request.Context(), userID(c), req.CurrentPassword, req.NewPassword); err != nil {
		failErr(c, err, h.now())
		return
	}
	noContent(c)
}

// GetUsage godoc
// @Summary      Current enhancement usage
// @Description  Applies a due window reset before reading, so an expired window reports zero used.
// @Tags         user
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  UsageView
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /user/usage [get]
func (h *Handlers) GetUsage(c *gin.Context) {
	snap, err := h.quota.Snapshot(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, h.now())
		return
	}
	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, h.usageView(snap))
}

// SetSubscription godoc
// @Summary      Change an account's plan
// @Description  Internal route for billing webhooks. Mounted only when ADMIN_TOKEN is set.
// @Tags         internal
// @Accept       json
// @Param        X-Admin-Token  header  string               true  "Shared admin secret"
// @Param        id             path    string               true  "User ID"
// @Param        body           body    SubscriptionRequest  true  "New plan"
// @Success      204
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /internal/users/{id}/subscription [put]
func (h *Handlers) SetSubscription(c *gin.Context) {
	var req SubscriptionRequest
	if !bindJSON(c, &req) {
		return
	}
	id := c.Param("id")
	if err := h.auth.SetSubscription(c.Request.Context(), id, req.Status); err != nil {
		failErr(c, err, h.now())
		return
	}
	middleware.LoggerFrom(c).Info().Str("target_user", id).Str("status", req.Status).Msg("subscription changed")
	noContent(c)
}
