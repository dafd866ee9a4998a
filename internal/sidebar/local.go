package sidebar

import (
	"context"
	"strings"

	"github.com/tbourn/go-study-sidebar/internal/client"
	"github.com/tbourn/go-study-sidebar/internal/services"
)

// LocalGenerator generates artifacts in-process with a completion provider
// of its own. It is the offline fallback; usage is tracked by the local
// mirror, so its responses carry no usage.
type LocalGenerator struct {
	Service *services.GenerationService
}

func (g LocalGenerator) Summarize(ctx context.Context, req client.SummarizeRequest) (client.SummarizeResponse, error) {
	in := services.SummaryInput{
		Text:            req.Text,
		Context:         req.Context,
		Title:           req.Title,
		DurationSeconds: req.DurationSeconds,
		Source:          req.Source,
		Language:        req.Language,
	}
	s, err := g.Service.Summarize(ctx, in)
	if err != nil {
		return client.SummarizeResponse{}, err
	}
	return client.SummarizeResponse{Summary: s.HTML, TargetWords: s.TargetWords, Truncated: s.Truncated}, nil
}

func (g LocalGenerator) Quiz(ctx context.Context, req client.QuizRequest) (client.QuizResponse, error) {
	in := services.QuizInput{
		Transcript: req.Transcript,
		Summary:    req.Summary,
		Difficulty: req.Difficulty,
		Title:      req.Title,
		Language:   req.Language,
	}
	q, err := g.Service.GenerateQuiz(ctx, in)
	if err != nil {
		return client.QuizResponse{}, err
	}
	return client.QuizResponse{Quiz: q.HTML, Questions: q.Questions}, nil
}

func (g LocalGenerator) Flashcards(ctx context.Context, req client.FlashcardsRequest) (client.FlashcardsResponse, error) {
	in := services.FlashcardsInput{Text: req.Text, Title: req.Title, Source: req.Source, Language: req.Language}
	cards, err := g.Service.GenerateFlashcards(ctx, in)
	if err != nil {
		return client.FlashcardsResponse{}, err
	}
	out := make([]client.Flashcard, 0, len(cards))
	for _, c := range cards {
		out = append(out, client.Flashcard{Question: c.Question, Answer: c.Answer})
	}
	return client.FlashcardsResponse{Flashcards: out}, nil
}

func (g LocalGenerator) Chat(ctx context.Context, req client.ChatRequest) (client.ChatResponse, error) {
	history := make([]services.Turn, 0, len(req.History))
	for _, t := range req.History {
		history = append(history, services.Turn{Role: t.Role, Content: t.Content})
	}

	var (
		reply string
		err   error
	)
	if strings.EqualFold(strings.TrimSpace(req.Mode), "qa") {
		in := services.AnswerInput{
			Question: req.Message,
			History:  history,
			Content:  req.Content,
			Summary:  req.Summary,
			Source:   req.Source,
			Language: req.Language,
		}
		reply, err = g.Service.AnswerQuestion(ctx, in)
	} else {
		in := services.ChatInput{
			Message:  req.Message,
			History:  history,
			Context:  req.Context,
			Image:    req.Image,
			Language: req.Language,
		}
		reply, err = g.Service.Chat(ctx, in)
	}
	if err != nil {
		return client.ChatResponse{}, err
	}
	return client.ChatResponse{Reply: reply}, nil
}
