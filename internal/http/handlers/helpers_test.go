package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-study-sidebar/internal/domain"
	"github.com/tbourn/go-study-sidebar/internal/quiz"
	"github.com/tbourn/go-study-sidebar/internal/services"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ---------- fakes ----------

type fakeQuota struct {
	mu         sync.Mutex
	usage      services.UsageSnapshot
	authorized []string
	err        error
}

func (f *fakeQuota) Authorize(_ context.Context, userID, artifact string) (services.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return services.Ticket{}, f.err
	}
	f.authorized = append(f.authorized, userID+":"+artifact)
	f.usage.EnhancementsUsed++
	return services.Ticket{UserID: userID, Artifact: artifact, Usage: f.usage}, nil
}

func (f *fakeQuota) Snapshot(context.Context, string) (services.UsageSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage, nil
}

func (f *fakeQuota) charged() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.authorized)
}

type fakeGen struct {
	premiumSeconds int
	err            error
	calls          []string
	cards          []services.Flashcard
	lastChat       services.ChatInput
	lastAnswer     services.AnswerInput
}

func (f *fakeGen) CheckVideoAccess(d int, u services.UsageSnapshot) error {
	if f.premiumSeconds > 0 && d > f.premiumSeconds && !u.IsPremium() {
		return services.ErrPremiumRequired
	}
	return nil
}

func (f *fakeGen) Summarize(_ context.Context, in services.SummaryInput) (services.Summary, error) {
	f.calls = append(f.calls, "summary")
	if f.err != nil {
		return services.Summary{}, f.err
	}
	return services.Summary{HTML: "<p>" + in.Title + "</p>", TargetWords: 300}, nil
}

func (f *fakeGen) GenerateQuiz(context.Context, services.QuizInput) (services.Quiz, error) {
	f.calls = append(f.calls, "quiz")
	if f.err != nil {
		return services.Quiz{}, f.err
	}
	qs := []quiz.Question{{Question: "Q1", Options: []string{"a", "b", "c"}, Answer: 1}}
	return services.Quiz{HTML: `<div class="quiz"></div>`, Questions: qs}, nil
}

func (f *fakeGen) GenerateFlashcards(context.Context, services.FlashcardsInput) ([]services.Flashcard, error) {
	f.calls = append(f.calls, "flashcards")
	return f.cards, f.err
}

func (f *fakeGen) AnswerQuestion(_ context.Context, in services.AnswerInput) (string, error) {
	f.calls = append(f.calls, "answer")
	f.lastAnswer = in
	return "Because of diffusion.", f.err
}

func (f *fakeGen) Chat(_ context.Context, in services.ChatInput) (string, error) {
	f.calls = append(f.calls, "chat")
	f.lastChat = in
	return "Hello!", f.err
}

type fakeAuth struct {
	users   map[string]string // email -> password
	reset   map[string]bool
	changed []string
	plans   map[string]string // user id -> subscription
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{users: map[string]string{}, reset: map[string]bool{}, plans: map[string]string{}}
}

func (f *fakeAuth) result(email string) services.AuthResult {
	return services.AuthResult{Token: "tok-" + email, User: &domain.User{
		ID: "id-" + email, Email: email, SubscriptionStatus: domain.SubscriptionFreemium,
	}}
}

func (f *fakeAuth) Register(_ context.Context, email, password, _ string) (services.AuthResult, error) {
	if _, ok := f.users[email]; ok {
		return services.AuthResult{}, services.ErrEmailTaken
	}
	if len(password) < services.MinPasswordLen {
		return services.AuthResult{}, &services.ValidationError{Msg: "password must be at least 8 characters"}
	}
	f.users[email] = password
	return f.result(email), nil
}

func (f *fakeAuth) Login(_ context.Context, email, password string) (services.AuthResult, error) {
	if p, ok := f.users[email]; !ok || p != password {
		return services.AuthResult{}, services.ErrInvalidCredentials
	}
	return f.result(email), nil
}

func (f *fakeAuth) ForgotPassword(_ context.Context, email string) (string, time.Time, error) {
	if _, ok := f.users[email]; !ok {
		return "", time.Time{}, services.ErrUserNotFound
	}
	f.reset["reset-"+email] = true
	return "reset-" + email, testNow.Add(time.Hour), nil
}

func (f *fakeAuth) ResetPassword(_ context.Context, token, _ string) error {
	if !f.reset[token] {
		return services.ErrResetTokenInvalid
	}
	delete(f.reset, token)
	return nil
}

func (f *fakeAuth) ChangePassword(_ context.Context, userID, current, next string) error {
	if current == next {
		return &services.ValidationError{Msg: "new password must differ"}
	}
	f.changed = append(f.changed, userID)
	return nil
}

func (f *fakeAuth) SetSubscription(_ context.Context, userID, status string) error {
	if !domain.ValidSubscription(status) {
		return &services.ValidationError{Msg: "subscription status must be freemium or premium"}
	}
	if userID != "id-ada@example.com" {
		return services.ErrUserNotFound
	}
	f.plans[userID] = status
	return nil
}

// ---------- harness ----------

// newTestRouter mounts h behind a stand-in for the Auth middleware that
// trusts X-Test-User.
func newTestRouter(h *Handlers, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			c.Set("userID", uid)
		}
		c.Next()
	})
	r.Use(extra...)
	api := r.Group("/api")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/forgot-password", h.ForgotPassword)
	api.POST("/auth/reset-password", h.ResetPassword)
	api.POST("/auth/change-password", h.ChangePassword)
	api.GET("/user/usage", h.GetUsage)
	api.POST("/summarize", h.Summarize)
	api.POST("/quiz", h.GenerateQuiz)
	api.POST("/flashcards", h.GenerateFlashcards)
	api.POST("/chat", h.Chat)
	api.PUT("/internal/users/:id/subscription", h.SetSubscription)
	return r
}

func newTestHandlers() (*Handlers, *fakeAuth, *fakeQuota, *fakeGen) {
	a := newFakeAuth()
	q := &fakeQuota{usage: services.UsageSnapshot{
		EnhancementsLimit:  10,
		SubscriptionStatus: domain.SubscriptionFreemium,
		ResetsAt:           testNow.Add(5 * time.Hour),
	}}
	g := &fakeGen{}
	h := New(a, q, g, nil)
	h.Now = func() time.Time { return testNow }
	return h, a, q, g
}

func do(t *testing.T, r http.Handler, method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v (body %s)", err, w.Body.String())
	}
	return v
}
