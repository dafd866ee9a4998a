// Package services – AuthService
//
// AuthService owns account registration, password login, password reset and
// bearer tokens. Tokens are HS256 JWTs carrying the user ID as subject.
// Password reset tokens are random 32-byte values handed to the user once;
// only their SHA-256 is stored, and each is consumed at most once.
package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/go-study-sidebar/internal/domain"
	"github.com/tbourn/go-study-sidebar/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 8

// Claims are the JWT claims issued to users.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Token string
	User  *domain.User
}

// AuthService manages accounts and tokens.
type AuthService struct {
	DB            *gorm.DB
	Secret        []byte
	TokenTTL      time.Duration
	ResetTokenTTL time.Duration
	FreeLimit     int // enhancements for new accounts; zero means the default

	// Usage is told about plan changes when it caches them (see PlanSyncer).
	Usage UsageStore

	BcryptCost int // zero means bcrypt.DefaultCost
	Now        func() time.Time
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AuthService) cost() int {
	if s.BcryptCost > 0 {
		return s.BcryptCost
	}
	return bcrypt.DefaultCost
}

// Register creates a freemium account and signs a token for it.
func (s *AuthService) Register(ctx context.Context, email, password, name string) (AuthResult, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Register")
	defer span.End()

	email, err := normalizeEmail(email)
	if err != nil {
		return AuthResult{}, err
	}
	if err := checkPassword(password); err != nil {
		return AuthResult{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost())
	if err != nil {
		return AuthResult{}, err
	}
	limit := s.FreeLimit
	if limit <= 0 {
		limit = domain.DefaultEnhancementsLimit
	}

	u, err := repo.CreateUser(ctx, s.DB, email, strings.TrimSpace(name), string(hash), limit, s.now())
	if errors.Is(err, repo.ErrDuplicate) {
		return AuthResult{}, ErrEmailTaken
	}
	if err != nil {
		return AuthResult{}, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID))

	tok, err := s.issue(u)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Token: tok, User: u}, nil
}

// Login checks credentials and signs a token. Unknown emails and wrong
// passwords yield the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (AuthResult, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Login")
	defer span.End()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return AuthResult{}, invalid("email and password are required")
	}

	u, err := repo.GetUserByEmail(ctx, s.DB, email)
	if errors.Is(err, repo.ErrNotFound) {
		return AuthResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return AuthResult{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return AuthResult{}, ErrInvalidCredentials
	}

	tok, err := s.issue(u)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Token: tok, User: u}, nil
}

// ForgotPassword issues a one-time reset token valid for ResetTokenTTL.
// Delivering it to the user is the caller's concern.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (string, time.Time, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "ForgotPassword")
	defer span.End()

	email, err := normalizeEmail(email)
	if err != nil {
		return "", time.Time{}, err
	}
	u, err := repo.GetUserByEmail(ctx, s.DB, email)
	if errors.Is(err, repo.ErrNotFound) {
		return "", time.Time{}, ErrUserNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, err
	}
	token := hex.EncodeToString(buf)

	ttl := s.ResetTokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	expires := s.now().Add(ttl).UTC()
	if _, err := repo.CreatePasswordReset(ctx, s.DB, u.ID, hashResetToken(token), expires); err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// ResetPassword consumes a reset token and sets a new password.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "ResetPassword")
	defer span.End()

	token = strings.TrimSpace(token)
	if token == "" {
		return invalid("token is required")
	}
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost())
	if err != nil {
		return err
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pr, err := repo.ConsumePasswordReset(ctx, tx, hashResetToken(token), s.now())
		if errors.Is(err, repo.ErrNotFound) {
			return ErrResetTokenInvalid
		}
		if err != nil {
			return err
		}
		err = repo.UpdatePasswordHash(ctx, tx, pr.UserID, string(hash))
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	})
}

// ChangePassword replaces the password of a signed-in user after checking
// the current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "ChangePassword", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if current == "" {
		return invalid("currentPassword is required")
	}
	if err := checkPassword(next); err != nil {
		return err
	}

	u, err := repo.GetUserByID(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost())
	if err != nil {
		return err
	}
	return repo.UpdatePasswordHash(ctx, s.DB, userID, string(hash))
}

// VerifyToken validates a bearer token and returns its claims.
func (s *AuthService) VerifyToken(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return s.Secret, nil
		},
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GetUser loads the account behind a token.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	u, err := repo.GetUserByID(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// SetSubscription changes an account's plan. Billing itself lives elsewhere;
// this is the hook its webhooks call.
func (s *AuthService) SetSubscription(ctx context.Context, userID, status string) error {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "SetSubscription",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("status", status),
		),
	)
	defer span.End()

	if !domain.ValidSubscription(status) {
		return invalid("subscription status must be freemium or premium")
	}
	err := repo.SetSubscription(ctx, s.DB, userID, status)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if ps, ok := s.Usage.(PlanSyncer); ok {
		return ps.SyncPlan(ctx, userID)
	}
	return nil
}

func (s *AuthService) issue(u *domain.User) (string, error) {
	now := s.now().UTC()
	ttl := s.TokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	claims := Claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", invalid("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("email is not valid")
	}
	return email, nil
}

func checkPassword(p string) error {
	if len(p) < MinPasswordLen {
		return invalid("password must be at least %d characters", MinPasswordLen)
	}
	return nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
