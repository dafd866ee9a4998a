// Package services – GenerationService
//
// GenerationService builds provider prompts for each artifact type, calls the
// completion provider and post-processes the reply: quiz JSON is verified and
// rendered to fixed markup, flashcard JSON is extracted or repaired from free
// text, and chat history is threaded as alternating turns.
//
// It does not touch the quota. Callers authorize through QuotaGate first; a
// provider failure surfaces as *GenerationError and is never retried here.
//
// Observability: every public method opens an OpenTelemetry span and the
// provider call is measured by the generation_* Prometheus collectors.
package services

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-study-sidebar/internal/config"
	"github.com/tbourn/go-study-sidebar/internal/domain"
	"github.com/tbourn/go-study-sidebar/internal/llm"
	"github.com/tbourn/go-study-sidebar/internal/quiz"
	"github.com/tbourn/go-study-sidebar/internal/search"
	"github.com/tbourn/go-study-sidebar/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Content sources.
const (
	SourceVideo = "video"
	SourcePage  = "page"
	SourcePDF   = "pdf"
)

// artifactAnswer keys provider parameters for Q&A. Q&A is billed as chat.
const artifactAnswer = "answer"

// maxHistoryTurns is how many prior chat turns are sent to the provider.
const maxHistoryTurns = 10

// Default per-artifact provider parameters, overridden by Params.
var defaultParams = map[string]config.GenerationParams{
	domain.ArtifactSummary:    {Temperature: llm.Float(0.5)},
	domain.ArtifactQuiz:       {Temperature: llm.Float(0.7), MaxTokens: llm.Int(1000)},
	domain.ArtifactFlashcards: {Temperature: llm.Float(0.5), MaxTokens: llm.Int(1500)},
	domain.ArtifactChat:       {Temperature: llm.Float(0.7), MaxTokens: llm.Int(800)},
	artifactAnswer:            {Temperature: llm.Float(0.3), MaxTokens: llm.Int(300)},
}

// GenerationService produces artifacts through a completion provider.
type GenerationService struct {
	Provider llm.Provider

	// Params overrides temperature/max tokens per artifact
	// (summary, quiz, flashcards, chat, answer).
	Params map[string]config.GenerationParams

	// PremiumVideoSeconds is the longest video a freemium account may
	// summarize; zero disables the gate.
	PremiumVideoSeconds int
}

// SummaryInput is the content to summarize.
type SummaryInput struct {
	Text            string // transcript or page/PDF text
	Context         string // optional focus hint
	Title           string
	DurationSeconds int    // video length; zero for pages
	Source          string // video|page|pdf; empty infers from DurationSeconds
	Language        string // optional BCP-47 output language
}

func (in SummaryInput) isVideo() bool {
	if in.Source != "" {
		return in.Source == SourceVideo
	}
	return in.DurationSeconds > 0
}

func (in SummaryInput) sourceLabel() string {
	if in.Source == SourcePDF {
		return "PDF"
	}
	return "web page"
}

// Summary is an HTML summary.
type Summary struct {
	HTML        string
	TargetWords int
	Truncated   bool // the source text was cut before sending
}

// QuizInput is the content a quiz is generated from.
type QuizInput struct {
	Transcript string
	Summary    string
	Difficulty string
	Title      string
	Language   string
}

// Quiz is a rendered quiz together with its structured questions.
type Quiz struct {
	HTML      string
	Questions []quiz.Question
}

// FlashcardsInput is the content flashcards are generated from.
type FlashcardsInput struct {
	Text     string
	Title    string
	Source   string
	Language string
}

// Turn is one prior chat message.
type Turn struct {
	Role    string `json:"role"` // user|assistant
	Content string `json:"content"`
}

// AnswerInput is a question about the current content.
type AnswerInput struct {
	Question string
	History  []Turn
	Content  string
	Summary  string
	Source   string
	Language string
}

// ChatInput is a free-form chat message with an optional image.
type ChatInput struct {
	Message  string
	History  []Turn
	Context  string
	Image    string // data URL or http(s) URL
	Language string
}

// Validate reports missing or malformed input. Handlers call it before the
// quota is charged.
func (in SummaryInput) Validate() error {
	if strings.TrimSpace(in.Text) == "" {
		return invalid("text is required")
	}
	if in.DurationSeconds < 0 {
		return invalid("durationSeconds must be >= 0")
	}
	switch in.Source {
	case "", SourceVideo, SourcePage, SourcePDF:
	default:
		return invalid("source must be one of: video, page, pdf")
	}
	_, err := languageName(in.Language)
	return err
}

// Validate reports missing or malformed input.
func (in QuizInput) Validate() error {
	if strings.TrimSpace(in.Transcript) == "" && strings.TrimSpace(in.Summary) == "" {
		return invalid("transcript or summary is required")
	}
	_, err := languageName(in.Language)
	return err
}

// Validate reports missing or malformed input.
func (in FlashcardsInput) Validate() error {
	if strings.TrimSpace(in.Text) == "" {
		return invalid("text is required")
	}
	_, err := languageName(in.Language)
	return err
}

// Validate reports missing or malformed input.
func (in AnswerInput) Validate() error {
	if strings.TrimSpace(in.Question) == "" {
		return invalid("question is required")
	}
	_, err := languageName(in.Language)
	return err
}

// Validate reports missing or malformed input.
func (in ChatInput) Validate() error {
	image := strings.TrimSpace(in.Image)
	if strings.TrimSpace(in.Message) == "" && image == "" {
		return invalid("message is required")
	}
	if image != "" && !validImageURL(image) {
		return invalid("image must be a data:image URL or an http(s) URL")
	}
	_, err := languageName(in.Language)
	return err
}

// CheckVideoAccess returns ErrPremiumRequired when a video is longer than
// PremiumVideoSeconds and the account is not premium.
func (s *GenerationService) CheckVideoAccess(durationSeconds int, usage UsageSnapshot) error {
	if s.PremiumVideoSeconds > 0 && durationSeconds > s.PremiumVideoSeconds && !usage.IsPremium() {
		return ErrPremiumRequired
	}
	return nil
}

// TargetWords returns the summary length for the input: for videos, the
// words read in a tenth of the running time at 200 wpm, clamped to
// [300, 2000]; otherwise 15% of the source words, clamped to [200, 2000].
func TargetWords(in SummaryInput) int {
	if in.isVideo() {
		minutes := float64(in.DurationSeconds) / 60
		return utils.Clamp(int(math.Round(minutes/10*wordsPerMinute)), minVideoWords, maxSummaryWords)
	}
	words := float64(utils.WordCount(in.Text))
	return utils.Clamp(int(math.Round(words*pageSummaryRate)), minPageWords, maxSummaryWords)
}

// Summarize returns an HTML summary of the content.
func (s *GenerationService) Summarize(ctx context.Context, in SummaryInput) (Summary, error) {
	tr := otel.Tracer("services/GenerationService")
	ctx, span := tr.Start(ctx, "Summarize",
		trace.WithAttributes(
			attribute.Int("duration_seconds", in.DurationSeconds),
			attribute.Int("text_runes", len([]rune(in.Text))),
		),
	)
	defer span.End()

	if err := in.Validate(); err != nil {
		return Summary{}, err
	}
	lang, _ := languageName(in.Language)

	target := TargetWords(in)
	text, cut := utils.Truncate(prepareContent(in.Text, in.Source), maxSummarySourceRunes)
	span.SetAttributes(attribute.Int("target_words", target), attribute.Bool("truncated", cut))

	req := llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: withLanguage(summarySystem, lang)},
			{Role: llm.RoleUser, Content: summaryPrompt(in, text, target)},
		},
	}
	// Leave room for markup: roughly two tokens per target word.
	if p := s.params(domain.ArtifactSummary); p.MaxTokens == nil {
		req.MaxTokens = llm.Int(utils.Clamp(target*2, 800, 4096))
	}

	reply, err := s.complete(ctx, domain.ArtifactSummary, domain.ArtifactSummary, req)
	if err != nil {
		return Summary{}, err
	}
	return Summary{HTML: stripFences(reply), TargetWords: target, Truncated: cut}, nil
}

// GenerateQuiz returns a quiz of quiz.Size questions. A different question
// count from the provider is logged and kept; a reply with no usable
// question is a *GenerationError.
func (s *GenerationService) GenerateQuiz(ctx context.Context, in QuizInput) (Quiz, error) {
	tr := otel.Tracer("services/GenerationService")
	ctx, span := tr.Start(ctx, "GenerateQuiz", trace.WithAttributes(attribute.String("difficulty", in.Difficulty)))
	defer span.End()

	if err := in.Validate(); err != nil {
		return Quiz{}, err
	}
	lang, _ := languageName(in.Language)

	transcript, _ := utils.Truncate(strings.TrimSpace(in.Transcript), maxQuizSourceRunes)
	summary, _ := utils.Truncate(strings.TrimSpace(in.Summary), maxSummaryRunes)

	reply, err := s.complete(ctx, domain.ArtifactQuiz, domain.ArtifactQuiz, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: withLanguage(quizSystem, lang)},
			{Role: llm.RoleUser, Content: quizPrompt(transcript, summary, in.Difficulty, in.Title)},
		},
	})
	if err != nil {
		return Quiz{}, err
	}

	questions, err := quiz.Parse(reply)
	if err != nil {
		generationFailures.WithLabelValues(domain.ArtifactQuiz).Inc()
		return Quiz{}, &GenerationError{Artifact: domain.ArtifactQuiz, Err: err}
	}
	if len(questions) != quiz.Size {
		zerolog.Ctx(ctx).Warn().
			Int("want", quiz.Size).
			Int("got", len(questions)).
			Msg("quiz question count mismatch")
	}
	span.SetAttributes(attribute.Int("questions", len(questions)))

	html, err := quiz.RenderHTML(questions)
	if err != nil {
		return Quiz{}, err
	}
	return Quiz{HTML: html, Questions: questions}, nil
}

// GenerateFlashcards returns up to MaxFlashcards cards. Replies that are not
// JSON are split into naive pairs instead of failing.
func (s *GenerationService) GenerateFlashcards(ctx context.Context, in FlashcardsInput) ([]Flashcard, error) {
	tr := otel.Tracer("services/GenerationService")
	ctx, span := tr.Start(ctx, "GenerateFlashcards")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	lang, _ := languageName(in.Language)

	text, _ := utils.Truncate(prepareContent(in.Text, in.Source), maxFlashcardRunes)
	reply, err := s.complete(ctx, domain.ArtifactFlashcards, domain.ArtifactFlashcards, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: withLanguage(flashcardsSystem, lang)},
			{Role: llm.RoleUser, Content: flashcardsPrompt(text, in.Title)},
		},
	})
	if err != nil {
		return nil, err
	}

	cards, fallback := parseFlashcards(reply)
	if fallback {
		zerolog.Ctx(ctx).Warn().Int("cards", len(cards)).Msg("flashcards reply was not JSON; used line fallback")
	}
	span.SetAttributes(attribute.Int("cards", len(cards)), attribute.Bool("fallback", fallback))
	return cards, nil
}

// AnswerQuestion answers a question about the content in a few sentences.
// Content over the cap is reduced to the passages most relevant to the
// question; when none match, the head of the content is used.
func (s *GenerationService) AnswerQuestion(ctx context.Context, in AnswerInput) (string, error) {
	tr := otel.Tracer("services/GenerationService")
	ctx, span := tr.Start(ctx, "AnswerQuestion", trace.WithAttributes(attribute.Int("history", len(in.History))))
	defer span.End()

	if err := in.Validate(); err != nil {
		return "", err
	}
	question := strings.TrimSpace(in.Question)
	lang, _ := languageName(in.Language)

	content, how := selectContent(prepareContent(in.Content, in.Source), question, maxAnswerContentRunes)
	span.SetAttributes(attribute.String("content_selection", how))
	summary, _ := utils.Truncate(strings.TrimSpace(in.Summary), maxSummaryRunes)

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: withLanguage(answerSystem, lang) + answerContext(content, summary)}}
	msgs = append(msgs, historyMessages(in.History)...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: question})

	return s.complete(ctx, domain.ArtifactChat, artifactAnswer, llm.Request{Messages: msgs})
}

// Chat replies to a free-form message. An attached image routes the call to
// the vision model and tells the provider it can read images.
func (s *GenerationService) Chat(ctx context.Context, in ChatInput) (string, error) {
	tr := otel.Tracer("services/GenerationService")
	ctx, span := tr.Start(ctx, "Chat",
		trace.WithAttributes(
			attribute.Int("history", len(in.History)),
			attribute.Bool("image", in.Image != ""),
		),
	)
	defer span.End()

	if err := in.Validate(); err != nil {
		return "", err
	}
	message := strings.TrimSpace(in.Message)
	image := strings.TrimSpace(in.Image)
	lang, _ := languageName(in.Language)

	system := chatSystem
	if c, _ := utils.Truncate(strings.TrimSpace(in.Context), maxChatContextRunes); c != "" {
		system += "\n\nThe student is viewing this content:\n" + c
	}
	if image != "" {
		system += "\n\n" + visionCapability
		if message == "" {
			message = "What does this image show?"
		}
	}

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: withLanguage(system, lang)}}
	msgs = append(msgs, historyMessages(in.History)...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: message, ImageURL: image})

	return s.complete(ctx, domain.ArtifactChat, domain.ArtifactChat, llm.Request{Messages: msgs, Vision: image != ""})
}

// ----------------------------------------------------------------------------
// Helpers

func (s *GenerationService) params(key string) config.GenerationParams {
	p := defaultParams[key]
	if o, ok := s.Params[key]; ok {
		if o.Temperature != nil {
			p.Temperature = o.Temperature
		}
		if o.MaxTokens != nil {
			p.MaxTokens = o.MaxTokens
		}
	}
	return p
}

// complete calls the provider once and returns the trimmed reply.
func (s *GenerationService) complete(ctx context.Context, artifact, paramsKey string, req llm.Request) (string, error) {
	if s.Provider == nil {
		return "", &GenerationError{Artifact: artifact, Err: llm.ErrProviderUnavailable}
	}
	p := s.params(paramsKey)
	if req.Temperature == nil {
		req.Temperature = p.Temperature
	}
	if req.MaxTokens == nil {
		req.MaxTokens = p.MaxTokens
	}

	start := time.Now()
	resp, err := s.Provider.Complete(ctx, req)
	generationDuration.WithLabelValues(artifact).Observe(time.Since(start).Seconds())
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = llm.ErrEmptyCompletion
	}
	if err != nil {
		generationFailures.WithLabelValues(artifact).Inc()
		trace.SpanFromContext(ctx).RecordError(err)
		return "", &GenerationError{Artifact: artifact, Err: err}
	}
	return strings.TrimSpace(resp.Content), nil
}

// prepareContent flattens markdown tables in page and PDF text.
func prepareContent(text, source string) string {
	text = strings.TrimSpace(text)
	if source == SourceVideo || text == "" {
		return text
	}
	return strings.TrimSpace(search.FlattenTables(text))
}

// selectContent fits text into max runes. It reports how: "full",
// "excerpts" or "truncated".
func selectContent(text, question string, max int) (string, string) {
	if len([]rune(text)) <= max {
		return text, "full"
	}
	if ex, ok := search.Excerpts(text, question, max); ok {
		return ex, "excerpts"
	}
	head, _ := utils.Truncate(text, max)
	return head, "truncated"
}

// historyMessages keeps the last maxHistoryTurns user/assistant turns.
func historyMessages(history []Turn) []llm.Message {
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	out := make([]llm.Message, 0, len(history))
	for _, t := range history {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		switch strings.ToLower(t.Role) {
		case llm.RoleUser:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: content})
		case llm.RoleAssistant, "bot", "ai":
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: content})
		}
	}
	return out
}

func validImageURL(s string) bool {
	return strings.HasPrefix(s, "data:image/") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "http://")
}

// stripFences removes a surrounding markdown code fence such as ```html.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return strings.Trim(s, "`")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

