package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ashureev/mira-client/internal/domain"
)

const (
	requestCodePath = "/auth/request-code/"
	verifyCodePath  = "/auth/verify-code/"
)

// ErrMissingTokens means a token endpoint answered 2xx without a usable
// access/refresh pair.
var ErrMissingTokens = errors.New("token response missing access or refresh token")

// RequestLoginCode asks the backend to email a one-time login code.
func (c *Client) RequestLoginCode(ctx context.Context, email string) error {
	if _, err := c.Request(ctx, http.MethodPost, requestCodePath, map[string]string{"email": email}); err != nil {
		return fmt.Errorf("request login code: %w", err)
	}
	return nil
}

// VerifyLoginCode exchanges the emailed code for a token pair and persists
// it. Multiple backend key spellings are accepted.
func (c *Client) VerifyLoginCode(ctx context.Context, email, code string) (*domain.TokenPair, error) {
	raw, err := c.Request(ctx, http.MethodPost, verifyCodePath, map[string]string{
		"email": email,
		"code":  code,
	})
	if err != nil {
		return nil, fmt.Errorf("verify login code: %w", err)
	}

	pair := pairFromPayload(raw)
	if !pair.Valid() {
		return nil, ErrMissingTokens
	}
	if err := c.creds.Save(ctx, pair); err != nil {
		return nil, fmt.Errorf("persist credentials: %w", err)
	}
	return pair, nil
}

// Logout destroys the stored credential pair.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.creds.Clear(ctx); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// pairFromPayload extracts a token pair from a decoded JSON object,
// accepting the access|access_token|token and refresh|refresh_token key
// spellings. Returns nil when the payload is not an object.
func pairFromPayload(raw any) *domain.TokenPair {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	return &domain.TokenPair{
		Access:  firstString(obj, "access", "access_token", "token"),
		Refresh: firstString(obj, "refresh", "refresh_token"),
	}
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
