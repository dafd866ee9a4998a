package services

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Input caps, in runes, applied before text is sent to the provider.
const (
	maxSummarySourceRunes = 8000
	maxChatContextRunes   = 8000
	maxQuizSourceRunes    = 6000
	maxFlashcardRunes     = 4000
	maxAnswerContentRunes = 4000
	maxSummaryRunes       = 1000
)

// Summary length targets, in words.
const (
	wordsPerMinute  = 200
	minVideoWords   = 300
	minPageWords    = 200
	maxSummaryWords = 2000
	pageSummaryRate = 0.15
)

const (
	summarySystem = `You are a study assistant that writes clear, well-structured summaries for students.
Respond with an HTML fragment only: use <h3> for section headings, <p> for paragraphs and <ul><li> for key points.
Do not wrap the answer in code fences and do not include <html>, <head> or <body> tags.`

	quizSystem = `You are a study assistant that writes multiple-choice quizzes.
Respond with JSON only, no prose and no code fences, in exactly this shape:
[{"question": "...", "options": ["...", "...", "..."], "answer": 0}]
Write exactly 3 questions. Each question has exactly 3 options and exactly one correct option; "answer" is the zero-based index of the correct option.`

	flashcardsSystem = `You are a study assistant that writes flashcards.
Respond with JSON only, no prose and no code fences, as an array of 5 to 10 objects:
[{"question": "...", "answer": "..."}]
Questions test one idea each; answers are one or two sentences.`

	answerSystem = `You are a study assistant answering questions about the content below.
Answer in at most 3 sentences. Use the content first; if it does not contain the answer, say so briefly and then answer from general knowledge.`

	chatSystem = `You are a friendly study assistant helping a student understand the content they are viewing.
Keep answers focused and concise.`

	visionCapability = `You can see images. The user has attached an image to this message; read it directly (including any text, diagrams, charts or handwriting in it) and answer based on what it shows. Never claim that you are unable to view images.`
)

// languageName turns an optional BCP-47 tag into an English language name
// for prompt instructions. An empty tag yields "".
func languageName(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", nil
	}
	t, err := language.Parse(tag)
	if err != nil {
		return "", invalid("language %q is not a valid BCP-47 tag", tag)
	}
	name := display.English.Tags().Name(t)
	if name == "" {
		return "", invalid("language %q is not supported", tag)
	}
	return name, nil
}

func withLanguage(system, lang string) string {
	if lang == "" {
		return system
	}
	return system + "\nWrite your entire response in " + lang + "."
}

func summaryPrompt(in SummaryInput, text string, targetWords int) string {
	var b strings.Builder
	if t := strings.TrimSpace(in.Title); t != "" {
		fmt.Fprintf(&b, "Title: %s\n", t)
	}
	if in.isVideo() {
		fmt.Fprintf(&b, "Source: video transcript (%d minutes)\n", in.DurationSeconds/60)
	} else {
		fmt.Fprintf(&b, "Source: %s text\n", in.sourceLabel())
	}
	if c := strings.TrimSpace(in.Context); c != "" {
		fmt.Fprintf(&b, "Focus: %s\n", c)
	}
	fmt.Fprintf(&b, "Write a summary of about %d words.\n\n", targetWords)
	b.WriteString(text)
	return b.String()
}

func quizPrompt(transcript, summary, difficulty, title string) string {
	var b strings.Builder
	if title = strings.TrimSpace(title); title != "" {
		fmt.Fprintf(&b, "Title: %s\n", title)
	}
	if difficulty = strings.TrimSpace(difficulty); difficulty != "" {
		fmt.Fprintf(&b, "Difficulty: %s\n", difficulty)
	}
	if summary != "" {
		fmt.Fprintf(&b, "\nSummary:\n%s\n", summary)
	}
	if transcript != "" {
		fmt.Fprintf(&b, "\nContent:\n%s\n", transcript)
	}
	return b.String()
}

func flashcardsPrompt(text, title string) string {
	var b strings.Builder
	if title = strings.TrimSpace(title); title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", title)
	}
	b.WriteString("Create flashcards for this content:\n\n")
	b.WriteString(text)
	return b.String()
}

func answerContext(content, summary string) string {
	var b strings.Builder
	if summary != "" {
		fmt.Fprintf(&b, "\n\nSummary:\n%s", summary)
	}
	if content != "" {
		fmt.Fprintf(&b, "\n\nContent:\n%s", content)
	}
	return b.String()
}
