package quiz

import "errors"

// Tier classifies a quiz result.
type Tier string

// Result tiers for a 3-question quiz: 3/3 win, 2/3 ok, 1/3 partial, 0/3 fail.
const (
	TierWin     Tier = "win"
	TierOK      Tier = "ok"
	TierPartial Tier = "partial"
	TierFail    Tier = "fail"
)

// ErrChoiceOutOfRange is returned by Select for an invalid option index.
var ErrChoiceOutOfRange = errors.New("quiz: choice out of range")

// Result is the outcome of Submit.
type Result struct {
	Correct  int
	Total    int
	Answered int
	Tier     Tier
}

// Classify maps a correct count to its tier.
func Classify(correct, total int) Tier {
	switch {
	case total <= 0 || correct <= 0:
		return TierFail
	case correct >= total:
		return TierWin
	case correct*3 >= total*2:
		return TierOK
	default:
		return TierPartial
	}
}

// Navigator is a cursor over a fixed question list. The index is always in
// [0, len-1]; stepping past either end is a no-op. It is not safe for
// concurrent use.
type Navigator struct {
	questions []Question
	index     int
	selected  []int // -1 when unanswered
}

// NewNavigator starts at the first question.
func NewNavigator(questions []Question) *Navigator {
	sel := make([]int, len(questions))
	for i := range sel {
		sel[i] = -1
	}
	return &Navigator{questions: questions, selected: sel}
}

// Len returns the number of questions.
func (n *Navigator) Len() int { return len(n.questions) }

// Index returns the current position.
func (n *Navigator) Index() int { return n.index }

// Current returns the question at the cursor; ok is false for an empty quiz.
func (n *Navigator) Current() (Question, bool) {
	if len(n.questions) == 0 {
		return Question{}, false
	}
	return n.questions[n.index], true
}

// Next moves forward, stopping at the last question.
func (n *Navigator) Next() int {
	if n.index < len(n.questions)-1 {
		n.index++
	}
	return n.index
}

// Previous moves back, stopping at the first question.
func (n *Navigator) Previous() int {
	if n.index > 0 {
		n.index--
	}
	return n.index
}

// Select records the chosen option for the current question.
func (n *Navigator) Select(choice int) error {
	q, ok := n.Current()
	if !ok || choice < 0 || choice >= len(q.Options) {
		return ErrChoiceOutOfRange
	}
	n.selected[n.index] = choice
	return nil
}

// Selected returns the recorded choice for question i, or -1.
func (n *Navigator) Selected(i int) int {
	if i < 0 || i >= len(n.selected) {
		return -1
	}
	return n.selected[i]
}

// Submit scores the recorded choices. It does not move the cursor;
// unanswered questions count as wrong.
func (n *Navigator) Submit() Result {
	r := Result{Total: len(n.questions)}
	for i, q := range n.questions {
		if n.selected[i] < 0 {
			continue
		}
		r.Answered++
		if n.selected[i] == q.Answer {
			r.Correct++
		}
	}
	r.Tier = Classify(r.Correct, r.Total)
	return r
}
