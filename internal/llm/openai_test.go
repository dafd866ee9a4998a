package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler(t *testing.T, capture *map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, capture); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	}
}

func TestComplete_TextRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(okHandler(t, &got))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1/", "sk-test", "text-model", WithVisionModel("vision-model"))
	resp, err := c.Complete(context.Background(), Request{
		Messages:    []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
		Temperature: Float(0.4),
		MaxTokens:   Int(100),
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hello" || resp.FinishReason != "stop" || resp.Usage.TotalTokens != 4 {
		t.Fatalf("response = %+v", resp)
	}

	if got["model"] != "text-model" || got["temperature"] != 0.4 || got["max_tokens"] != float64(100) {
		t.Fatalf("request = %v", got)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 || msgs[1].(map[string]any)["content"] != "hi" {
		t.Fatalf("messages = %v", got["messages"])
	}
}

func TestComplete_VisionRequestUsesContentParts(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(okHandler(t, &got))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1", "sk-test", "text-model", WithVisionModel("vision-model"))
	_, err := c.Complete(context.Background(), Request{
		Vision:   true,
		Messages: []Message{{Role: RoleUser, Content: "what is this?", ImageURL: "data:image/png;base64,AAAA"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if got["model"] != "vision-model" {
		t.Fatalf("model = %v", got["model"])
	}
	if _, hasTemp := got["temperature"]; hasTemp {
		t.Fatalf("unset temperature must be omitted")
	}

	parts, _ := got["messages"].([]any)[0].(map[string]any)["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("content parts = %v", parts)
	}
	if parts[0].(map[string]any)["type"] != "text" {
		t.Fatalf("first part = %v", parts[0])
	}
	img := parts[1].(map[string]any)
	if img["type"] != "image_url" || img["image_url"].(map[string]any)["url"] != "data:image/png;base64,AAAA" {
		t.Fatalf("image part = %v", img)
	}
}

func TestComplete_MapsHTTPErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
		msg    string
	}{
		{http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, ErrRateLimited, "slow down"},
		{http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, ErrAuthFailed, "bad key"},
		{http.StatusBadRequest, `context length exceeded`, ErrInvalidRequest, "context length exceeded"},
		{http.StatusBadGateway, ``, ErrProviderUnavailable, ""},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "sk-test", "m").Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v; want %v", err, tc.want)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T", err)
			}
			if apiErr.Status != tc.status || apiErr.Message != tc.msg {
				t.Fatalf("APIError = %+v", apiErr)
			}
		})
	}
}

func TestComplete_EmptyChoicesAndTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	_, err := NewClient(srv.URL, "", "m").Complete(context.Background(), Request{})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("empty choices err = %v", err)
	}
	srv.Close()

	// Closed server: connection refused.
	_, err = NewClient(srv.URL, "", "m", WithTimeout(time.Second)).Complete(context.Background(), Request{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("transport failure err = %v", err)
	}
}

func TestProviderFunc(t *testing.T) {
	var p Provider = ProviderFunc(func(_ context.Context, req Request) (Response, error) {
		return Response{Content: req.Messages[0].Content}, nil
	})
	resp, err := p.Complete(context.Background(), Request{Messages: []Message{{Content: "echo"}}})
	if err != nil || resp.Content != "echo" {
		t.Fatalf("Complete = %+v, %v", resp, err)
	}
}
