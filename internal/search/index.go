// Package search provides a small, deterministic, concurrency-safe in-memory
// index over the paragraphs of one piece of content (page text, PDF text or a
// video transcript). It is used to pick the passages most relevant to a
// question when the whole content does not fit the provider budget.
//
//   - No logging in the library (callers decide how/what to log)
//   - Unicode-aware tokenization with optional stop-word removal
//   - Immutable after construction (safe for concurrent use)
//   - Deterministic scoring and ordering (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// passage's token set: score = |Q ∩ P| / |Q ∪ P|.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Result is a ranked passage with its similarity score and its position in
// the source content.
type Result struct {
	Snippet  string
	Score    float64
	Position int
}

// Index is the minimal interface implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Result
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	minParagraphRunes int
	chunkRunes        int
	stopwords         map[string]struct{}
	maxDocs           int
}

func defaultConfig() config {
	return config{
		minParagraphRunes: 40,
		chunkRunes:        600,
		stopwords:         defaultStopwords,
		maxDocs:           0,
	}
}

// WithMinParagraphRunes drops passages shorter than n runes.
func WithMinParagraphRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minParagraphRunes = n
		}
	}
}

// WithChunkRunes splits passages longer than n runes at sentence boundaries.
// Transcripts usually arrive without blank lines, so this is what turns them
// into rankable passages. n <= 0 disables splitting.
func WithChunkRunes(n int) Option {
	return func(c *config) { c.chunkRunes = n }
}

// WithStopwords replaces the default English stop-word list.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		c.stopwords = m
	}
}

// WithMaxDocs caps the number of indexed passages.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type doc struct {
	text   string
	tokens map[string]struct{}
	tLen   int
	pos    int
}

type index struct {
	cfg  config
	docs []doc
}

// NewIndexFromText builds an Index from raw content. Paragraphs are split on
// blank lines and long paragraphs are chunked at sentence boundaries.
func NewIndexFromText(text string, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return buildIndex(Passages(text, cfg.chunkRunes), cfg)
}

// NewIndexFromStrings builds an Index directly from a slice of passages.
func NewIndexFromStrings(paragraphs []string, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return buildIndex(paragraphs, cfg)
}

func buildIndex(paragraphs []string, cfg config) *index {
	docs := make([]doc, 0, len(paragraphs))
	for pos, raw := range paragraphs {
		t := strings.TrimSpace(normalizeWhitespace(raw))
		if t == "" {
			continue
		}
		if cfg.minParagraphRunes > 0 && utf8.RuneCountInString(t) < cfg.minParagraphRunes {
			continue
		}
		toks := tokenize(t, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		docs = append(docs, doc{text: t, tokens: toks, tLen: len(toks), pos: pos})
		if cfg.maxDocs > 0 && len(docs) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: docs}
}

// TopK returns up to k best-matching passages by Jaccard similarity.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 || strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	type scored struct {
		d        doc
		score    float64
		lenRunes int
	}

	buf := make([]scored, 0, min(k*4, len(i.docs)))
	for _, d := range i.docs {
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + d.tLen - over)
		if union <= 0 {
			continue
		}
		buf = append(buf, scored{d: d, score: float64(over) / union, lenRunes: utf8.RuneCountInString(d.text)})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].lenRunes != buf[b].lenRunes {
			return buf[a].lenRunes < buf[b].lenRunes
		}
		return buf[a].d.pos < buf[b].d.pos
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for j := 0; j < k; j++ {
		out[j] = Result{Snippet: buf[j].d.text, Score: buf[j].score, Position: buf[j].d.pos}
	}
	return out
}

// Excerpts returns the passages of text most relevant to query, restored to
// document order and joined by blank lines, using at most budget runes.
// ok is false when nothing in text matches the query.
func Excerpts(text, query string, budget int, opts ...Option) (string, bool) {
	idx := NewIndexFromText(text, opts...)
	hits := idx.TopK(query, 50)
	if len(hits) == 0 {
		return "", false
	}

	picked := make([]Result, 0, len(hits))
	used := 0
	for _, h := range hits {
		n := utf8.RuneCountInString(h.Snippet) + 2
		if budget > 0 && used+n > budget {
			continue
		}
		picked = append(picked, h)
		used += n
	}
	if len(picked) == 0 {
		return "", false
	}
	sort.Slice(picked, func(a, b int) bool { return picked[a].Position < picked[b].Position })

	parts := make([]string, len(picked))
	for j, p := range picked {
		parts[j] = p.Snippet
	}
	return strings.Join(parts, "\n\n"), true
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

var defaultStopwords = func() map[string]struct{} {
	m := map[string]struct{}{}
	for _, w := range strings.Fields(`a an and are as at be by do does for from how in is it of on or
		that the this to was what when where which who why with you your`) {
		m[w] = struct{}{}
	}
	return m
}()

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

var (
	paraSplitRE   = regexp.MustCompile(`\n\s*\n`)
	sentenceEndRE = regexp.MustCompile(`[.!?]["')\]]?\s+`)
)

// Passages splits text on blank lines, then chunks paragraphs longer than
// chunkRunes at sentence boundaries.
func Passages(text string, chunkRunes int) []string {
	chunks := paraSplitRE.Split(text, -1)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		t := strings.TrimSpace(c)
		if t == "" {
			continue
		}
		if chunkRunes <= 0 || utf8.RuneCountInString(t) <= chunkRunes {
			out = append(out, t)
			continue
		}
		out = append(out, chunkSentences(t, chunkRunes)...)
	}
	return out
}

func chunkSentences(p string, limit int) []string {
	var out []string
	var cur strings.Builder
	start := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, loc := range sentenceEndRE.FindAllStringIndex(p, -1) {
		sent := p[start:loc[1]]
		start = loc[1]
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+utf8.RuneCountInString(sent) > limit {
			flush()
		}
		cur.WriteString(sent)
	}
	if rest := p[start:]; rest != "" {
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+utf8.RuneCountInString(rest) > limit {
			flush()
		}
		cur.WriteString(rest)
	}
	flush()
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
