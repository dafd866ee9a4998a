package client

import (
	"time"

	"github.com/tbourn/go-study-sidebar/internal/quiz"
)

// User is the public part of an account.
type User struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	Name               string `json:"name"`
	SubscriptionStatus string `json:"subscriptionStatus"`
}

// AuthResponse is returned by Register and Login.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// ResetToken is returned by ForgotPassword.
type ResetToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Usage is the caller's enhancement counters.
type Usage struct {
	EnhancementsUsed   int       `json:"enhancementsUsed"`
	EnhancementsLimit  int       `json:"enhancementsLimit"`
	SubscriptionStatus string    `json:"subscriptionStatus"`
	LastResetAt        time.Time `json:"lastResetAt"`
	ResetsAt           time.Time `json:"resetsAt"`
	Remaining          int       `json:"remaining"`
	ResetsInHours      int       `json:"resetsInHours"`
}

// Turn is one prior chat message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type SummarizeRequest struct {
	Text            string `json:"text"`
	Context         string `json:"context,omitempty"`
	Title           string `json:"title,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	Source          string `json:"source,omitempty"`
	Language        string `json:"language,omitempty"`
}

type SummarizeResponse struct {
	Summary     string `json:"summary"`
	TargetWords int    `json:"targetWords"`
	Truncated   bool   `json:"truncated"`
	Usage       Usage  `json:"usage"`
}

type QuizRequest struct {
	Transcript string `json:"transcript"`
	Summary    string `json:"summary,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Title      string `json:"title,omitempty"`
	Language   string `json:"language,omitempty"`
}

type QuizResponse struct {
	Quiz      string          `json:"quiz"`
	Questions []quiz.Question `json:"questions"`
	Usage     Usage           `json:"usage"`
}

type FlashcardsRequest struct {
	Text     string `json:"text"`
	Title    string `json:"title,omitempty"`
	Source   string `json:"source,omitempty"`
	Language string `json:"language,omitempty"`
}

// Flashcard is one question/answer pair.
type Flashcard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type FlashcardsResponse struct {
	Flashcards []Flashcard `json:"flashcards"`
	Usage      Usage       `json:"usage"`
}

// ChatRequest is free chat, or Q&A about Content when Mode is "qa".
type ChatRequest struct {
	Message  string `json:"message"`
	History  []Turn `json:"history,omitempty"`
	Context  string `json:"context,omitempty"`
	Image    string `json:"image,omitempty"`
	Language string `json:"language,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Content  string `json:"content,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Source   string `json:"source,omitempty"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
	Usage Usage  `json:"usage"`
}
