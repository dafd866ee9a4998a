// Generation HTTP handlers.
//
// This file exposes the artifact endpoints:
//   - POST /summarize
//   - POST /quiz
//   - POST /flashcards
//   - POST /chat        (free chat, or Q&A about the content with mode=qa)
//
// Each request is validated first, then charged one enhancement through the
// quota service, then generated. A failed generation is not refunded.
// Requests carrying an Idempotency-Key that already completed are answered
// from the stored response without charging again.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-study-sidebar/internal/domain"
	"github.com/tbourn/go-study-sidebar/internal/http/middleware"
	"github.com/tbourn/go-study-sidebar/internal/quiz"
	"github.com/tbourn/go-study-sidebar/internal/services"
)

//
// Service contracts (context-aware)
//

// QuotaService spends and reports enhancements.
type QuotaService interface {
	// Authorize spends one enhancement for artifact or returns a
	// *services.QuotaExceededError.
	Authorize(ctx context.Context, userID, artifact string) (services.Ticket, error)
	// Snapshot returns the caller's counters after applying a due reset.
	Snapshot(ctx context.Context, userID string) (services.UsageSnapshot, error)
}

// GenerationService produces artifacts through the completion provider.
type GenerationService interface {
	CheckVideoAccess(durationSeconds int, usage services.UsageSnapshot) error
	Summarize(ctx context.Context, in services.SummaryInput) (services.Summary, error)
	GenerateQuiz(ctx context.Context, in services.QuizInput) (services.Quiz, error)
	GenerateFlashcards(ctx context.Context, in services.FlashcardsInput) ([]services.Flashcard, error)
	AnswerQuestion(ctx context.Context, in services.AnswerInput) (string, error)
	Chat(ctx context.Context, in services.ChatInput) (string, error)
}

// ReplayRecorder persists a completed response under the caller's
// Idempotency-Key for route.
type ReplayRecorder func(ctx context.Context, userID, route, key string, status int, body []byte) error

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	auth   AuthService
	quota  QuotaService
	gen    GenerationService
	record ReplayRecorder

	// Now is the clock used for resetsInHours; defaults to time.Now.
	Now func() time.Time
}

// New constructs a Handlers instance bound to the given services. record may
// be nil, in which case Idempotency-Key results are not stored.
func New(auth AuthService, quota QuotaService, gen GenerationService, record ReplayRecorder) *Handlers {
	return &Handlers{auth: auth, quota: quota, gen: gen, record: record, Now: time.Now}
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// userID returns the account id set by the Auth middleware.
func userID(c *gin.Context) string {
	return c.GetString("userID")
}

//
// DTOs
//

// UsageView is the quota snapshot returned to clients.
type UsageView struct {
	services.UsageSnapshot
	Remaining     int `json:"remaining" example:"7"`
	ResetsInHours int `json:"resetsInHours" example:"18"`
}

func (h *Handlers) usageView(s services.UsageSnapshot) UsageView {
	return UsageView{UsageSnapshot: s, Remaining: s.Remaining(), ResetsInHours: s.ResetsInHours(h.now())}
}

// SummarizeRequest is the JSON payload for POST /summarize.
type SummarizeRequest struct {
	// Text is the transcript or page text; Transcript is accepted as an alias.
	Text            string `json:"text" example:"Today we look at cell membranes..."`
	Transcript      string `json:"transcript,omitempty"`
	Context         string `json:"context,omitempty" example:"focus on exam topics"`
	Title           string `json:"title,omitempty" example:"Cell Biology 101"`
	DurationSeconds int    `json:"durationSeconds,omitempty" example:"1260"`
	Source          string `json:"source,omitempty" enums:"video,page,pdf"`
	Language        string `json:"language,omitempty" example:"en"`
}

// SummarizeResponse carries the HTML summary and the caller's counters.
type SummarizeResponse struct {
	Summary     string    `json:"summary"`
	TargetWords int       `json:"targetWords"`
	Truncated   bool      `json:"truncated"`
	Usage       UsageView `json:"usage"`
}

// QuizRequest is the JSON payload for POST /quiz.
type QuizRequest struct {
	Transcript string `json:"transcript"`
	Summary    string `json:"summary,omitempty"`
	Difficulty string `json:"difficulty,omitempty" example:"medium"`
	Title      string `json:"title,omitempty"`
	Language   string `json:"language,omitempty"`
}

// QuizResponse carries the rendered quiz and its structured questions.
type QuizResponse struct {
	Quiz      string          `json:"quiz"`
	Questions []quiz.Question `json:"questions"`
	Usage     UsageView       `json:"usage"`
}

// FlashcardsRequest is the JSON payload for POST /flashcards.
type FlashcardsRequest struct {
	Text     string `json:"text"`
	Title    string `json:"title,omitempty"`
	Source   string `json:"source,omitempty" enums:"video,page,pdf"`
	Language string `json:"language,omitempty"`
}

// FlashcardsResponse carries the flashcard set.
type FlashcardsResponse struct {
	Flashcards []services.Flashcard `json:"flashcards"`
	Usage      UsageView            `json:"usage"`
}

// ChatRequest is the JSON payload for POST /chat. Mode "qa" answers Message
// about Content (and Summary); any other mode is free chat with an optional
// image.
type ChatRequest struct {
	Message  string          `json:"message" example:"What is osmosis?"`
	History  []services.Turn `json:"history,omitempty"`
	Context  string          `json:"context,omitempty"`
	Image    string          `json:"image,omitempty" example:"data:image/png;base64,iVBORw0..."`
	Language string          `json:"language,omitempty"`
	Mode     string          `json:"mode,omitempty" enums:"chat,qa"`
	Content  string          `json:"content,omitempty"`
	Summary  string          `json:"summary,omitempty"`
	Source   string          `json:"source,omitempty"`
}

// ChatResponse carries the assistant reply.
type ChatResponse struct {
	Reply string    `json:"reply"`
	Usage UsageView `json:"usage"`
}

//
// Handlers
//

// Summarize godoc
// @Summary      Summarize content
// @Description  Spends one enhancement and returns an HTML summary sized to the content. Videos over the premium threshold require a premium account.
// @Tags         generation
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        Idempotency-Key  header  string            false  "Replay key"
// @Param        body             body    SummarizeRequest  true   "Content"
// @Success      200  {object}  SummarizeResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  QuotaErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /summarize [post]
func (h *Handlers) Summarize(c *gin.Context) {
	if serveReplay(c) {
		return
	}
	var req SummarizeRequest
	if !bindJSON(c, &req) {
		return
	}
	text := req.Text
	if strings.TrimSpace(text) == "" {
		text = req.Transcript
	}
	in := services.SummaryInput{
		Text:            text,
		Context:         req.Context,
		Title:           req.Title,
		DurationSeconds: req.DurationSeconds,
		Source:          req.Source,
		Language:        req.Language,
	}
	if err := in.Validate(); err != nil {
		failErr(c, err, h.now())
		return
	}

	ctx, uid := c.Request.Context(), userID(c)
	if in.DurationSeconds > 0 {
		snap, err := h.quota.Snapshot(ctx, uid)
		if err != nil {
			failErr(c, err, h.now())
			return
		}
		if err := h.gen.CheckVideoAccess(in.DurationSeconds, snap); err != nil {
			failErr(c, err, h.now())
			return
		}
	}

	ticket, err := h.quota.Authorize(ctx, uid, domain.ArtifactSummary)
	if err != nil {
		failErr(c, err, h.now())
		return
	}
	sum, err := h.gen.Summarize(ctx, in)
	if err != nil {
		failErr(c, err, h.now())
		return
	}
	h.respond(c, http.StatusOK, SummarizeResponse{
		Summary:     sum.HTML,
		TargetWords: sum.TargetWords,
		Truncated:   sum.Truncated,
		Usage:       h.usageView(ticket.Usage),
	})
}

// GenerateQuiz godoc
// @Summary      Generate a quiz
// @Description  Spends one enhancement and returns a three-question quiz as HTML plus the structured questions.
// @Tags         generation
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        Idempotency-Key  header  string       false  "Replay key"
// @Param        body             body    QuizRequest  true   "Content"
// @Success      200  {object}  QuizResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  QuotaErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /quiz [post]
func (h *Handlers) GenerateQuiz(c *gin.Context) {
	if serveReplay(c) {
		return
	}
	var req QuizRequest
	if !bindJSON(c, &req) {
		return
	}
	in := services.QuizInput{
		Transcript: req.Transcript,
		Summary:    req.Summary,
		Difficulty: req.Difficulty,
		Title:      req.Title,
		Language:   req.Language,
	}
	if err := in.Validate(); err != nil {
		failErr(c, err, h.now())
		return
	}

	ctx := c.Request.Context()
	ticket, err := h.quota.Authorize(ctx, userID(c), domain.ArtifactQuiz)
	if err != nil {
		failErr(c, err, h.now())
		return
	}
	q, err := h.gen.GenerateQuiz(ctx, in)
	if err != nil {
		failErr(c, err, h.now())
		return
	}
	h.respond(c, http.StatusOK, QuizResponse{Quiz: q.HTML, Questions: q.Questions, Usage: h.usageView(ticket.Usage)})
}

// GenerateFlashcards godoc
// @Summary      Generate flashcards
// @Description  Spends one enhancement and returns up to ten question/answer cards.
// @Tags         generation
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        Idempotency-Key  header  string             false  "Replay key"
// @Param        body             body    FlashcardsRequest  true   "Content"
// @Success      200  {object}  FlashcardsResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  QuotaErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /flashcards [post]
func (h *Handlers) GenerateFlashcards(c *gin.Context) {
	if serveReplay(c) {
		return
	}
	var req FlashcardsRequest
	if !bindJSON(c, &req) {
		return
	}
	in := services.FlashcardsInput{Text: req.Text, Title: req.Title, Source: req.Source, Language: req.Language}
	if err := in.Validate(); err != nil {
		failErr(c, err, h.now())
		return
	}

	ctx := c.Request.Context()
	ticket, err := h.quota.Authorize(ctx, userID(c), domain.ArtifactFlashcards)
	if err != nil {
		failErr(c, err, h.now())
		return
	}
	cards, err := h.gen.GenerateFlashcards(ctx, in)
	if err != nil {
		failErr(c, err, h.now())
		return
	}
	if cards == nil {
		cards = []services.Flashcard{}
	}
	h.respond(c, http.StatusOK, FlashcardsResponse{Flashcards: cards, Usage: h.usageView(ticket.Usage)})
}

// Chat godoc
// @Summary      Chat about the content
// @Description  Spends one enhancement. mode=qa answers the message from the supplied content; otherwise free chat, optionally about an attached image.
// @Tags         generation
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        Idempotency-Key  header  string       false  "Replay key"
// @Param        body             body    ChatRequest  true   "Message"
// @Success      200  {object}  ChatResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  QuotaErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /chat [post]
func (h *Handlers) Chat(c *gin.Context) {
	if serveReplay(c) {
		return
	}
	var req ChatRequest
	if !bindJSON(c, &req) {
		return
	}

	var generate func(context.Context) (string, error)
	if strings.EqualFold(strings.TrimSpace(req.Mode), "qa") {
		in := services.AnswerInput{
			Question: req.Message,
			History:  req.History,
			Content:  req.Content,
			Summary:  req.Summary,
			Source:   req.Source,
			Language: req.Language,
		}
		if err := in.Validate(); err != nil {
			failErr(c, err, h.now())
			return
		}
		generate = func(ctx context.Context) (string, error) { return h.gen.AnswerQuestion(ctx, in) }
	} else {
		in := services.ChatInput{
			Message:  req.Message,
			History:  req.History,
			Context:  req.Context,
			Image:    req.Image,
			Language: req.Language,
		}
		if err := in.Validate(); err != nil {
			failErr(c, err, h.now())
			return
		}
		generate = func(ctx context.Context) (string, error) { return h.gen.Chat(ctx, in) }
	}

	ctx := c.Request.Context()
	ticket, err := h.quota.Authorize(ctx, userID(c), domain.ArtifactChat)
	if err != nil {
		failErr(c, err, h.now())
		return
	}
	reply, err := generate(ctx)
	if err != nil {
		failErr(c, err, h.now())
		return
	}
	h.respond(c, http.StatusOK, ChatResponse{Reply: reply, Usage: h.usageView(ticket.Usage)})
}

//
// Helpers
//

// bindJSON decodes the body into dst, answering 400 (or 413 for an
// oversized body) on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return false
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// serveReplay writes the stored response for a repeated Idempotency-Key.
func serveReplay(c *gin.Context) bool {
	stored, ok := middleware.StoredReplay(c)
	if !ok {
		return false
	}
	c.Header(middleware.HeaderIdempotentReplay, "true")
	c.Data(stored.Status, "application/json; charset=utf-8", stored.Body)
	c.Abort()
	return true
}

// respond writes body and, when the request carried an Idempotency-Key,
// stores it for replay. A failed store is logged; the artifact is still
// returned.
func (h *Handlers) respond(c *gin.Context, status int, body any) {
	key, hasKey := middleware.GetIdempotencyKey(c)
	if !hasKey || h.record == nil {
		ok(c, status, body)
		return
	}
	raw, err := json.Marshal(body)
	if err != nil {
		failErr(c, err, h.now())
		return
	}
	if err := h.record(c.Request.Context(), userID(c), c.FullPath(), key, status, raw); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("route", c.FullPath()).Msg("idempotency record not stored")
	}
	c.Data(status, "application/json; charset=utf-8", raw)
}
