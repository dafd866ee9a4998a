// Package sidebar is the client core behind the study sidebar. An Enhancer
// serves artifacts for the content on screen from the local cache, falls
// through to the API on a miss and tells subscribers when an artifact is
// ready.
package sidebar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-study-sidebar/internal/client"
	"github.com/tbourn/go-study-sidebar/internal/contentcache"
	"github.com/tbourn/go-study-sidebar/internal/domain"
	"github.com/tbourn/go-study-sidebar/internal/kv"
	"github.com/tbourn/go-study-sidebar/internal/quiz"
	"github.com/tbourn/go-study-sidebar/internal/quotamirror"
)

// Keys of the enhancer's own state in the kv store.
const (
	TokenKey      = "authToken"
	LastUploadKey = "lastUploadAt"
)

// DefaultUploadInterval is the minimum gap between two image uploads.
const DefaultUploadInterval = 10 * time.Second

var (
	// ErrSignInRequired is returned when there is no token and no offline
	// generator to fall back on.
	ErrSignInRequired = errors.New("sidebar: sign in required")
	// ErrUploadTooSoon is returned when an image is sent before the upload
	// interval has elapsed. Nothing is charged.
	ErrUploadTooSoon = errors.New("sidebar: image uploads are rate limited")
	// ErrUnknownArtifact is returned by Regenerate for an unknown type.
	ErrUnknownArtifact = errors.New("sidebar: unknown artifact type")
)

// Generator produces artifacts. *client.Client satisfies it, and so does
// LocalGenerator.
type Generator interface {
	Summarize(ctx context.Context, req client.SummarizeRequest) (client.SummarizeResponse, error)
	Quiz(ctx context.Context, req client.QuizRequest) (client.QuizResponse, error)
	Flashcards(ctx context.Context, req client.FlashcardsRequest) (client.FlashcardsResponse, error)
	Chat(ctx context.Context, req client.ChatRequest) (client.ChatResponse, error)
}

// Backend is the API the enhancer talks to.
type Backend interface {
	Generator
	Token() string
	SetToken(token string)
	Login(ctx context.Context, email, password string) (client.AuthResponse, error)
	Usage(ctx context.Context) (client.Usage, error)
}

// Content is the item on screen.
type Content struct {
	URL             string
	ID              string // stable id when URL is not usable
	Title           string
	Text            string // transcript or page text
	DurationSeconds int
	Source          string // video|page|pdf
	Language        string
	Difficulty      string
}

// Identity is the cache key of c; "" means do not cache.
func (c Content) Identity() string {
	if id := strings.TrimSpace(c.ID); id != "" {
		return id
	}
	return contentcache.ContentIdentity(c.URL)
}

// Summary is the cached summary artifact.
type Summary struct {
	HTML      string `json:"html"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Quiz is the cached quiz artifact.
type Quiz struct {
	HTML      string          `json:"html"`
	Questions []quiz.Question `json:"questions"`
}

// Navigator starts a navigation over the quiz questions.
func (q Quiz) Navigator() *quiz.Navigator { return quiz.NewNavigator(q.Questions) }

// Flashcards is the cached flashcard artifact.
type Flashcards struct {
	Cards []client.Flashcard `json:"cards"`
}

// Transcript is the cached chat artifact.
type Transcript struct {
	Turns []client.Turn `json:"turns"`
}

// Usage is the quota shown to the user. Advisory is set when it comes from
// the local mirror rather than the server.
type Usage struct {
	client.Usage
	Advisory bool `json:"advisory"`
}

// Listener receives artifacts as they become ready.
type Listener func(artifact string, payload json.RawMessage)

// Enhancer serves study artifacts. Construct it once per process.
type Enhancer struct {
	API     Backend
	Offline Generator // optional; used without a token or when the API is unreachable
	Cache   *contentcache.Cache
	Quota   *quotamirror.Mirror
	Store   kv.Store

	UploadInterval time.Duration
	Now            func() time.Time

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// New wires an enhancer over one kv store.
func New(api Backend, store kv.Store) *Enhancer {
	return &Enhancer{
		API:            api,
		Cache:          contentcache.New(store),
		Quota:          quotamirror.New(store),
		Store:          store,
		UploadInterval: DefaultUploadInterval,
		Now:            time.Now,
	}
}

func (e *Enhancer) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Start restores the saved token and sweeps expired cache entries.
func (e *Enhancer) Start(ctx context.Context) error {
	var token string
	switch err := e.Store.Get(ctx, TokenKey, &token); {
	case err == nil:
		e.API.SetToken(token)
	case !errors.Is(err, kv.ErrNotFound):
		return err
	}
	n, err := e.Cache.SweepExpired(ctx)
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Debug().Int("removed", n).Msg("swept expired cache entries")
	return nil
}

// SignIn logs in and persists the token.
func (e *Enhancer) SignIn(ctx context.Context, email, password string) (client.User, error) {
	res, err := e.API.Login(ctx, email, password)
	if err != nil {
		return client.User{}, err
	}
	if err := e.Store.Set(ctx, TokenKey, res.Token); err != nil {
		return client.User{}, err
	}
	return res.User, nil
}

// SignOut forgets the token.
func (e *Enhancer) SignOut(ctx context.Context) error {
	e.API.SetToken("")
	return e.Store.Delete(ctx, TokenKey)
}

// Subscribe registers fn and returns a function that removes it.
func (e *Enhancer) Subscribe(fn Listener) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[int]Listener)
	}
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *Enhancer) publish(ctx context.Context, artifact string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("artifact", artifact).Msg("encode artifact")
		return
	}
	e.mu.Lock()
	fns := make([]Listener, 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(artifact, raw)
	}
}

// Usage returns the server's counters, or the local mirror's when signed
// out or offline.
func (e *Enhancer) Usage(ctx context.Context) (Usage, error) {
	if e.API.Token() != "" {
		u, err := e.API.Usage(ctx)
		switch {
		case err == nil:
			e.reconcile(ctx, u)
			return Usage{Usage: u}, nil
		case errors.Is(err, client.ErrUnauthorized):
			e.dropToken(ctx)
		case !client.IsUnreachable(err):
			return Usage{}, err
		}
	}
	m, err := e.Quota.Usage(ctx)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Usage: e.fromMirror(m), Advisory: true}, nil
}

// Summary returns the summary of c, generating it on a cache miss.
func (e *Enhancer) Summary(ctx context.Context, c Content) (Summary, error) {
	return e.summary(ctx, c, false)
}

// Quiz returns the quiz for c, generating it on a cache miss.
func (e *Enhancer) Quiz(ctx context.Context, c Content) (Quiz, error) {
	return e.quiz(ctx, c, false)
}

// Flashcards returns the flashcards for c, generating them on a cache miss.
func (e *Enhancer) Flashcards(ctx context.Context, c Content) (Flashcards, error) {
	return e.flashcards(ctx, c, false)
}

// Regenerate generates artifact for c again, replacing the cached copy.
// The result reaches subscribers.
func (e *Enhancer) Regenerate(ctx context.Context, artifact string, c Content) error {
	var err error
	switch artifact {
	case domain.ArtifactSummary:
		_, err = e.summary(ctx, c, true)
	case domain.ArtifactQuiz:
		_, err = e.quiz(ctx, c, true)
	case domain.ArtifactFlashcards:
		_, err = e.flashcards(ctx, c, true)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownArtifact, artifact)
	}
	return err
}

func (e *Enhancer) summary(ctx context.Context, c Content, fresh bool) (Summary, error) {
	return cached(ctx, e, c.Identity(), domain.ArtifactSummary, fresh, func(g Generator) (Summary, client.Usage, error) {
		res, err := g.Summarize(ctx, client.SummarizeRequest{
			Text:            c.Text,
			Title:           c.Title,
			DurationSeconds: c.DurationSeconds,
			Source:          c.Source,
			Language:        c.Language,
		})
		return Summary{HTML: res.Summary, Truncated: res.Truncated}, res.Usage, err
	})
}

func (e *Enhancer) quiz(ctx context.Context, c Content, fresh bool) (Quiz, error) {
	identity := c.Identity()
	var sum Summary
	if _, err := e.Cache.Get(ctx, identity, domain.ArtifactSummary, &sum); err != nil {
		return Quiz{}, err
	}
	return cached(ctx, e, identity, domain.ArtifactQuiz, fresh, func(g Generator) (Quiz, client.Usage, error) {
		res, err := g.Quiz(ctx, client.QuizRequest{
			Transcript: c.Text,
			Summary:    sum.HTML,
			Difficulty: c.Difficulty,
			Title:      c.Title,
			Language:   c.Language,
		})
		return Quiz{HTML: res.Quiz, Questions: res.Questions}, res.Usage, err
	})
}

func (e *Enhancer) flashcards(ctx context.Context, c Content, fresh bool) (Flashcards, error) {
	return cached(ctx, e, c.Identity(), domain.ArtifactFlashcards, fresh, func(g Generator) (Flashcards, client.Usage, error) {
		res, err := g.Flashcards(ctx, client.FlashcardsRequest{
			Text:     c.Text,
			Title:    c.Title,
			Source:   c.Source,
			Language: c.Language,
		})
		return Flashcards{Cards: res.Flashcards}, res.Usage, err
	})
}

// Transcript returns the cached chat about c.
func (e *Enhancer) Transcript(ctx context.Context, c Content) (Transcript, error) {
	var t Transcript
	_, err := e.Cache.Get(ctx, c.Identity(), domain.ArtifactChat, &t)
	return t, err
}

// ClearChat drops the cached chat about c.
func (e *Enhancer) ClearChat(ctx context.Context, c Content) error {
	return e.Cache.Invalidate(ctx, c.Identity(), domain.ArtifactChat)
}

// Ask sends message about c, with an optional image data URL, and returns
// the updated transcript. Without an image and with content text the
// message is answered from the content; otherwise it is free chat.
func (e *Enhancer) Ask(ctx context.Context, c Content, message, image string) (Transcript, error) {
	identity := c.Identity()
	t, err := e.Transcript(ctx, c)
	if err != nil {
		return Transcript{}, err
	}
	if image != "" {
		if err := e.checkUpload(ctx); err != nil {
			return t, err
		}
	}

	req := client.ChatRequest{
		Message:  message,
		History:  t.Turns,
		Image:    image,
		Language: c.Language,
		Context:  c.Title,
	}
	if image == "" && strings.TrimSpace(c.Text) != "" {
		var sum Summary
		if _, err := e.Cache.Get(ctx, identity, domain.ArtifactSummary, &sum); err != nil {
			return t, err
		}
		req.Mode = "qa"
		req.Content = c.Text
		req.Summary = sum.HTML
		req.Source = c.Source
	}

	reply, err := generate(ctx, e, func(g Generator) (string, client.Usage, error) {
		res, err := g.Chat(ctx, req)
		return res.Reply, res.Usage, err
	})
	if err != nil {
		return t, err
	}
	if image != "" {
		if err := e.Store.Set(ctx, LastUploadKey, e.now().UTC()); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("record upload time")
		}
	}

	t.Turns = append(t.Turns,
		client.Turn{Role: "user", Content: message},
		client.Turn{Role: "assistant", Content: reply},
	)
	if err := e.Cache.Put(ctx, identity, domain.ArtifactChat, t); err != nil {
		return t, err
	}
	e.publish(ctx, domain.ArtifactChat, t)
	return t, nil
}

func (e *Enhancer) checkUpload(ctx context.Context) error {
	if e.UploadInterval <= 0 {
		return nil
	}
	var last time.Time
	switch err := e.Store.Get(ctx, LastUploadKey, &last); {
	case errors.Is(err, kv.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	if wait := e.UploadInterval - e.now().Sub(last); wait > 0 {
		return fmt.Errorf("%w: retry in %s", ErrUploadTooSoon, wait.Round(time.Second))
	}
	return nil
}

// cached serves artifact from the cache unless fresh is set, and otherwise
// generates, stores and publishes it.
func cached[T any](ctx context.Context, e *Enhancer, identity, artifact string, fresh bool, call func(Generator) (T, client.Usage, error)) (T, error) {
	var v T
	if !fresh {
		hit, err := e.Cache.Get(ctx, identity, artifact, &v)
		if err != nil {
			return v, err
		}
		if hit {
			return v, nil
		}
	}
	v, err := generate(ctx, e, call)
	if err != nil {
		return v, err
	}
	if err := e.Cache.Put(ctx, identity, artifact, v); err != nil {
		return v, err
	}
	e.publish(ctx, artifact, v)
	return v, nil
}

// generate calls the API, or the offline generator when there is no token
// or the API cannot be reached.
func generate[T any](ctx context.Context, e *Enhancer, call func(Generator) (T, client.Usage, error)) (T, error) {
	if e.API.Token() == "" {
		return offline(ctx, e, call, ErrSignInRequired)
	}
	v, usage, err := call(e.API)
	var qe *client.QuotaError
	switch {
	case err == nil:
		e.reconcile(ctx, usage)
	case errors.As(err, &qe):
		e.reconcileQuota(ctx, qe)
	case errors.Is(err, client.ErrUnauthorized):
		e.dropToken(ctx)
	case client.IsUnreachable(err):
		return offline(ctx, e, call, err)
	}
	return v, err
}

// offline charges the local mirror before generating, matching the server's
// charge-before-call rule.
func offline[T any](ctx context.Context, e *Enhancer, call func(Generator) (T, client.Usage, error), cause error) (T, error) {
	var zero T
	if e.Offline == nil {
		return zero, cause
	}
	u, err := e.Quota.Increment(ctx)
	if errors.Is(err, quotamirror.ErrLimitReached) {
		return zero, e.localQuotaError(u)
	}
	if err != nil {
		return zero, err
	}
	v, _, err := call(e.Offline)
	return v, err
}

func (e *Enhancer) dropToken(ctx context.Context) {
	e.API.SetToken("")
	if err := e.Store.Delete(ctx, TokenKey); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("clear token")
	}
}

func (e *Enhancer) reconcile(ctx context.Context, u client.Usage) {
	if u.EnhancementsLimit == 0 && u.SubscriptionStatus == "" {
		return
	}
	err := e.Quota.Reconcile(ctx, quotamirror.Usage{
		EnhancementsUsed:   u.EnhancementsUsed,
		EnhancementsLimit:  u.EnhancementsLimit,
		SubscriptionStatus: u.SubscriptionStatus,
		LastResetAt:        u.LastResetAt,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("reconcile usage")
	}
}

func (e *Enhancer) reconcileQuota(ctx context.Context, qe *client.QuotaError) {
	window := e.Quota.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	// The error carries hours until reset, so the window start is derived.
	last := e.now().Add(time.Duration(qe.ResetsInHours)*time.Hour - window).UTC()
	e.reconcile(ctx, client.Usage{
		EnhancementsUsed:   qe.EnhancementsUsed,
		EnhancementsLimit:  qe.EnhancementsLimit,
		SubscriptionStatus: domain.SubscriptionFreemium,
		LastResetAt:        last,
	})
}

func (e *Enhancer) fromMirror(m quotamirror.Usage) client.Usage {
	window := e.Quota.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	resets := m.LastResetAt.Add(window)
	hours := int(math.Ceil(resets.Sub(e.now()).Hours()))
	if hours < 0 {
		hours = 0
	}
	remaining := m.EnhancementsLimit - m.EnhancementsUsed
	if remaining < 0 {
		remaining = 0
	}
	return client.Usage{
		EnhancementsUsed:   m.EnhancementsUsed,
		EnhancementsLimit:  m.EnhancementsLimit,
		SubscriptionStatus: m.SubscriptionStatus,
		LastResetAt:        m.LastResetAt,
		ResetsAt:           resets,
		Remaining:          remaining,
		ResetsInHours:      hours,
	}
}

func (e *Enhancer) localQuotaError(m quotamirror.Usage) error {
	u := e.fromMirror(m)
	return &client.QuotaError{
		APIError: client.APIError{
			Status:  http.StatusForbidden,
			Code:    "quota_exceeded",
			Message: "enhancement limit reached",
		},
		EnhancementsUsed:  u.EnhancementsUsed,
		EnhancementsLimit: u.EnhancementsLimit,
		ResetsInHours:     u.ResetsInHours,
	}
}
