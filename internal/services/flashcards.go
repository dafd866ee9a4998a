package services

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tbourn/go-study-sidebar/internal/utils"
)

// MaxFlashcards caps every flashcard set.
const MaxFlashcards = 10

// Flashcard is one question/answer pair.
type Flashcard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// rawCard accepts the key spellings providers commonly use.
type rawCard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Front    string `json:"front"`
	Back     string `json:"back"`
	Q        string `json:"q"`
	A        string `json:"a"`
}

func (r rawCard) card() Flashcard {
	return Flashcard{
		Question: strings.TrimSpace(firstNonEmpty(r.Question, r.Front, r.Q)),
		Answer:   strings.TrimSpace(firstNonEmpty(r.Answer, r.Back, r.A)),
	}
}

// parseFlashcards extracts cards from a provider reply. JSON (a bare array,
// or an object with a "flashcards" or "cards" field) is preferred, even when
// wrapped in prose or code fences. Anything else goes through the line
// splitter. It never fails; the result holds at most MaxFlashcards cards and
// reports whether the fallback was used.
func parseFlashcards(reply string) ([]Flashcard, bool) {
	if cards, ok := parseFlashcardJSON(reply); ok {
		return cards, false
	}
	return splitFlashcardLines(reply), true
}

func parseFlashcardJSON(reply string) ([]Flashcard, bool) {
	var cards []Flashcard
	utils.ExtractJSONFunc(reply, func(raw []byte) bool {
		cards = decodeFlashcards(raw)
		return len(cards) > 0
	})
	return cards, len(cards) > 0
}

// decodeFlashcards returns the complete cards in raw, or nil when raw is not
// a card list.
func decodeFlashcards(raw []byte) []Flashcard {
	var items []rawCard
	if raw[0] == '{' {
		var wrapper struct {
			Flashcards []rawCard `json:"flashcards"`
			Cards      []rawCard `json:"cards"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil
		}
		items = wrapper.Flashcards
		if len(items) == 0 {
			items = wrapper.Cards
		}
	} else if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return keepComplete(items)
}

func keepComplete(items []rawCard) []Flashcard {
	out := make([]Flashcard, 0, min(len(items), MaxFlashcards))
	for _, it := range items {
		c := it.card()
		if c.Question == "" || c.Answer == "" {
			continue
		}
		out = append(out, c)
		if len(out) == MaxFlashcards {
			break
		}
	}
	return out
}

var (
	listMarkerRE = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s*`)
	questionRE   = regexp.MustCompile(`(?i)^(?:q|question|front)\s*\d*\s*[:.)-]\s*`)
	answerRE     = regexp.MustCompile(`(?i)^(?:a|answer|back)\s*\d*\s*[:.)-]\s*`)
)

// splitFlashcardLines builds naive pairs from free text. Lines labelled
// "Q:"/"A:" are paired by label; otherwise consecutive lines are paired.
func splitFlashcardLines(reply string) []Flashcard {
	var lines []string
	labelled := false
	for _, l := range strings.Split(reply, "\n") {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "```") {
			continue
		}
		l = strings.TrimSpace(listMarkerRE.ReplaceAllString(l, ""))
		l = strings.Trim(l, "*_ ")
		if l == "" {
			continue
		}
		if questionRE.MatchString(l) || answerRE.MatchString(l) {
			labelled = true
		}
		lines = append(lines, l)
	}

	var items []rawCard
	if labelled {
		var cur rawCard
		for _, l := range lines {
			switch {
			case questionRE.MatchString(l):
				if cur.Question != "" && cur.Answer != "" {
					items = append(items, cur)
				}
				cur = rawCard{Question: questionRE.ReplaceAllString(l, "")}
			case answerRE.MatchString(l):
				if cur.Question != "" {
					cur.Answer = strings.TrimSpace(cur.Answer + " " + answerRE.ReplaceAllString(l, ""))
				}
			case cur.Answer != "":
				cur.Answer += " " + l
			}
		}
		if cur.Question != "" && cur.Answer != "" {
			items = append(items, cur)
		}
	} else {
		for i := 0; i+1 < len(lines); i += 2 {
			items = append(items, rawCard{Question: lines[i], Answer: lines[i+1]})
		}
	}
	return keepComplete(items)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
