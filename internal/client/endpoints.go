package client

import (
	"context"
	"net/http"
)

// Register creates an account and keeps the returned token.
func (c *Client) Register(ctx context.Context, email, password, name string) (AuthResponse, error) {
	var out AuthResponse
	in := map[string]string{"email": email, "password": password, "name": name}
	if err := c.do(ctx, call{method: http.MethodPost, path: "/auth/register", in: in, out: &out}); err != nil {
		return AuthResponse{}, err
	}
	c.SetToken(out.Token)
	return out, nil
}

// Login authenticates and keeps the returned token.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	var out AuthResponse
	in := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, call{method: http.MethodPost, path: "/auth/login", in: in, out: &out}); err != nil {
		return AuthResponse{}, err
	}
	c.SetToken(out.Token)
	return out, nil
}

func (c *Client) ForgotPassword(ctx context.Context, email string) (ResetToken, error) {
	var out ResetToken
	err := c.do(ctx, call{method: http.MethodPost, path: "/auth/forgot-password", in: map[string]string{"email": email}, out: &out})
	return out, err
}

func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	in := map[string]string{"token": token, "password": password}
	return c.do(ctx, call{method: http.MethodPost, path: "/auth/reset-password", in: in})
}

func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	in := map[string]string{"currentPassword": current, "newPassword": next}
	return c.do(ctx, call{method: http.MethodPost, path: "/auth/change-password", in: in})
}

// Usage fetches the caller's counters without charging.
func (c *Client) Usage(ctx context.Context) (Usage, error) {
	var out Usage
	err := c.do(ctx, call{method: http.MethodGet, path: "/user/usage", out: &out})
	return out, err
}

func (c *Client) Summarize(ctx context.Context, req SummarizeRequest) (SummarizeResponse, error) {
	var out SummarizeResponse
	err := c.do(ctx, call{method: http.MethodPost, path: "/summarize", in: req, out: &out, charged: true})
	return out, err
}

func (c *Client) Quiz(ctx context.Context, req QuizRequest) (QuizResponse, error) {
	var out QuizResponse
	err := c.do(ctx, call{method: http.MethodPost, path: "/quiz", in: req, out: &out, charged: true})
	return out, err
}

func (c *Client) Flashcards(ctx context.Context, req FlashcardsRequest) (FlashcardsResponse, error) {
	var out FlashcardsResponse
	err := c.do(ctx, call{method: http.MethodPost, path: "/flashcards", in: req, out: &out, charged: true})
	return out, err
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var out ChatResponse
	err := c.do(ctx, call{method: http.MethodPost, path: "/chat", in: req, out: &out, charged: true})
	return out, err
}
