// Package quiz holds the fixed-size multiple-choice quiz: the question model,
// parsing of provider output, HTML rendering and the navigation/scoring
// state machine used by clients.
package quiz

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tbourn/go-study-sidebar/internal/utils"
)

// Size is the number of questions in every quiz.
const Size = 3

// Choices is the number of options per question.
const Choices = 3

// ErrMalformed is returned when provider output contains no usable question.
var ErrMalformed = errors.New("quiz: malformed questions")

// Question is a fixed-choice question with exactly one correct option.
type Question struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   int      `json:"answer"` // index into Options
}

// valid reports whether q has text, exactly Choices options and an in-range answer.
func (q Question) valid() bool {
	if strings.TrimSpace(q.Question) == "" || len(q.Options) != Choices {
		return false
	}
	for _, o := range q.Options {
		if strings.TrimSpace(o) == "" {
			return false
		}
	}
	return q.Answer >= 0 && q.Answer < len(q.Options)
}

// Parse extracts questions from a provider reply. The reply may wrap the JSON
// in prose or code fences, and may use either a bare array or an object with
// a "questions" field. Invalid questions are dropped. The returned count may
// differ from Size; callers decide how to react.
func Parse(reply string) ([]Question, error) {
	var out []Question
	utils.ExtractJSONFunc(reply, func(raw []byte) bool {
		out = decode(raw)
		return len(out) > 0
	})
	if len(out) == 0 {
		return nil, ErrMalformed
	}
	return out, nil
}

// decode returns the valid questions in raw, or nil when raw is not a
// question list.
func decode(raw []byte) []Question {
	var qs []Question
	if raw[0] == '{' {
		var wrapper struct {
			Questions []Question `json:"questions"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil
		}
		qs = wrapper.Questions
	} else if err := json.Unmarshal(raw, &qs); err != nil {
		return nil
	}

	out := make([]Question, 0, len(qs))
	for _, q := range qs {
		q.Question = strings.TrimSpace(q.Question)
		for i := range q.Options {
			q.Options[i] = strings.TrimSpace(q.Options[i])
		}
		if q.valid() {
			out = append(out, q)
		}
	}
	return out
}
