// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RedactingLogger writes one access log line per request with identifiers
// scrubbed from the query string and headers. Bodies are never logged: they
// carry transcripts, page text and chat images.
package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Patterns are applied in this order; the phone pattern is the loosest and
// would otherwise eat digit runs inside ids and tokens.
var (
	dataURLRE = regexp.MustCompile(`(?i)data:image/[a-z0-9.+\-]+;base64,[a-z0-9+/=%]+`)
	jwtRE     = regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`)
	uuidRE    = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE   = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE   = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

const redacted = "[REDACTED]"

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are masked in full, in addition to Authorization, Cookie
	// and Set-Cookie. Case-insensitive.
	MaskHeaders []string
}

// Redactor scrubs personal data from strings and headers.
type Redactor struct {
	mask map[string]struct{}
}

// NewRedactor returns a Redactor that fully masks the given headers and the
// built-in sensitive ones.
func NewRedactor(maskHeaders ...string) *Redactor {
	mask := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range maskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}
	return &Redactor{mask: mask}
}

// String replaces image data, tokens, ids, emails and phone numbers in s.
func (r *Redactor) String(s string) string {
	if s == "" {
		return s
	}
	s = dataURLRE.ReplaceAllString(s, "[REDACTED:image]")
	s = jwtRE.ReplaceAllString(s, "[REDACTED:token]")
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// Headers returns a loggable copy of h. The Referer keeps only its origin:
// the full URL names the page a student is studying.
func (r *Redactor) Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		key := strings.ToLower(k)
		if _, ok := r.mask[key]; ok {
			out[k] = redacted
			continue
		}
		val := strings.Join(vv, ", ")
		if key == "referer" {
			val = originOf(val)
		}
		out[k] = r.String(val)
	}
	return out
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return redacted
	}
	return u.Scheme + "://" + u.Host
}

// RedactingLogger attaches the request-scoped logger (request_id, method,
// path; Auth adds user_id) and logs the request when it completes: info for
// 2xx/3xx, warn for 4xx, error for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	red := NewRedactor(opts.MaskHeaders...)

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}
		query := red.String(truncate(c.Request.URL.RawQuery, maxQueryLogLength))
		headers := red.Headers(c.Request.Header)

		attachLogger(c, log.With().
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger())

		c.Next()

		lg := LoggerFrom(c)
		status := c.Writer.Status()
		ev := lg.Info()
		switch {
		case status >= http.StatusInternalServerError:
			ev = lg.Error()
		case status >= http.StatusBadRequest:
			ev = lg.Warn()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.
			Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Bool("replayed", c.Writer.Header().Get(HeaderIdempotentReplay) == "true").
			Interface("headers", headers).
			Msg("http_request")
	}
}
