package services

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestParseFlashcards_JSONShapes(t *testing.T) {
	cases := map[string]string{
		"fenced array":  "```json\n[{\"question\":\"Q\",\"answer\":\"A\"}]\n```",
		"wrapped":       `{"flashcards":[{"question":"Q","answer":"A"}]}`,
		"cards wrapper": `Result: {"cards":[{"front":"Q","back":"A"}]}`,
		"short keys":    `[{"q":"Q","a":"A"}]`,
	}
	want := []Flashcard{{Question: "Q", Answer: "A"}}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			cards, fallback := parseFlashcards(reply)
			if fallback {
				t.Fatalf("unexpected line fallback")
			}
			if !reflect.DeepEqual(cards, want) {
				t.Fatalf("cards = %+v; want %+v", cards, want)
			}
		})
	}
}

func TestParseFlashcards_SkipsCitationsInProse(t *testing.T) {
	reply := "Here are 2 flashcards covering sections [1] and [2] of the page:\n" +
		`[{"question":"What is osmosis?","answer":"Water moving across a membrane."},` +
		`{"question":"What is diffusion?","answer":"Particles spreading from high to low concentration."}]`
	cards, fallback := parseFlashcards(reply)
	if fallback {
		t.Fatalf("citations pushed the reply into the line fallback: %+v", cards)
	}
	if len(cards) != 2 {
		t.Fatalf("len(cards) = %d; want 2", len(cards))
	}
	if cards[0].Question != "What is osmosis?" || cards[1].Answer != "Particles spreading from high to low concentration." {
		t.Fatalf("cards = %+v", cards)
	}
}

func TestParseFlashcards_DropsIncompleteAndCaps(t *testing.T) {
	var items []string
	items = append(items, `{"question":"","answer":"no question"}`, `{"question":"no answer","answer":" "}`)
	for i := 0; i < 14; i++ {
		items = append(items, fmt.Sprintf(`{"question":"q%d","answer":"a%d"}`, i, i))
	}
	cards, fallback := parseFlashcards("[" + strings.Join(items, ",") + "]")
	if fallback {
		t.Fatalf("unexpected line fallback")
	}
	if len(cards) != MaxFlashcards {
		t.Fatalf("len(cards) = %d; want %d", len(cards), MaxFlashcards)
	}
	if cards[0].Question != "q0" {
		t.Fatalf("first card = %+v", cards[0])
	}
}

func TestParseFlashcards_LabelledFallback(t *testing.T) {
	reply := `Here are some flashcards:

1. **Q: What is osmosis?**
   A: Movement of water across a membrane.
2. Q: What is diffusion?
   A: Movement of particles
   from high to low concentration.
3. Q: Orphan question without answer
`
	cards, fallback := parseFlashcards(reply)
	if !fallback {
		t.Fatalf("expected line fallback")
	}
	want := []Flashcard{
		{Question: "What is osmosis?", Answer: "Movement of water across a membrane."},
		{Question: "What is diffusion?", Answer: "Movement of particles from high to low concentration."},
	}
	if !reflect.DeepEqual(cards, want) {
		t.Fatalf("cards = %+v; want %+v", cards, want)
	}
}

func TestParseFlashcards_UnlabelledPairsConsecutiveLines(t *testing.T) {
	reply := "What is a cell?\nThe basic unit of life.\n\n- What is a gene?\n- A unit of heredity.\nDangling line"
	cards, fallback := parseFlashcards(reply)
	if !fallback {
		t.Fatalf("expected line fallback")
	}
	want := []Flashcard{
		{Question: "What is a cell?", Answer: "The basic unit of life."},
		{Question: "What is a gene?", Answer: "A unit of heredity."},
	}
	if !reflect.DeepEqual(cards, want) {
		t.Fatalf("cards = %+v; want %+v", cards, want)
	}
}

func TestParseFlashcards_NeverErrorsOnGarbage(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	cards, fallback := parseFlashcards(b.String())
	if !fallback || len(cards) > MaxFlashcards {
		t.Fatalf("fallback=%v len=%d", fallback, len(cards))
	}

	if cards, _ = parseFlashcards(""); len(cards) != 0 {
		t.Fatalf("empty reply gave %+v", cards)
	}
}
