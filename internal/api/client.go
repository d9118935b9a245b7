// Package api provides the authenticated HTTP client for the Mira backend.
//
// Every request carries the stored bearer token; a 401 triggers exactly one
// silent token refresh and one retry of the original request. Anything
// beyond that surfaces as an *Error.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/mira-client/internal/domain"
	"github.com/ashureev/mira-client/internal/store"
)

const (
	requestedWithHeader = "X-Requested-With"
	requestedWithValue  = "XMLHttpRequest"

	// CSRF defends the session-cookie-based /auth/ endpoints only; bearer
	// endpoints don't need it.
	csrfHeader     = "X-CSRFTOKEN"
	csrfCookieName = "csrftoken"
	authPathPrefix = "/auth/"

	refreshPath = "/auth/token/refresh/"
)

// Error is a failed API call: the HTTP status and the decoded response body.
type Error struct {
	Status int
	Body   any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("api error: status %d", e.Status)
}

// Client wraps outbound HTTP calls to the Mira backend.
type Client struct {
	baseURL string
	http    *http.Client
	creds   store.CredentialStore
	logger  *slog.Logger
}

// NewClient creates a client for the given API base URL. The credential
// store supplies the bearer token and receives refreshed pairs.
func NewClient(baseURL string, creds store.CredentialStore, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		creds:  creds,
		logger: logger,
	}
}

// Request performs one API call and returns the decoded response body.
// JSON bodies decode into generic values (json.Number for numbers), 204
// returns nil, anything else returns the raw text. Non-2xx responses fail
// with an *Error carrying the status and decoded body.
//
// A 401 is recovered once: the refresh token mints a new pair, the store is
// replaced wholesale and the original request retried with the new access
// token. A 401 on the retry, or any refresh failure, clears the store and
// surfaces as an *Error.
func (c *Client) Request(ctx context.Context, method, path string, body any) (any, error) {
	res, err := c.do(ctx, method, path, body, "")
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusUnauthorized {
		return c.finish(res)
	}

	pair, loadErr := c.creds.Load(ctx)
	if loadErr != nil {
		c.logger.Warn("failed to load credentials during 401 recovery", "error", loadErr)
	}
	if !pair.Valid() {
		parsed, _ := parseBody(res)
		if clearErr := c.creds.Clear(ctx); clearErr != nil {
			c.logger.Warn("failed to clear credentials", "error", clearErr)
		}
		return nil, &Error{Status: http.StatusUnauthorized, Body: parsed}
	}
	drain(res)

	newPair, err := c.refresh(ctx, pair.Refresh)
	if err != nil {
		if clearErr := c.creds.Clear(ctx); clearErr != nil {
			c.logger.Warn("failed to clear credentials", "error", clearErr)
		}
		return nil, err
	}
	if err := c.creds.Save(ctx, newPair); err != nil {
		return nil, fmt.Errorf("persist refreshed credentials: %w", err)
	}
	c.logger.Debug("access token refreshed, retrying request", "method", method, "path", path)

	res, err = c.do(ctx, method, path, body, newPair.Access)
	if err != nil {
		return nil, err
	}
	// A second 401 surfaces like any other error status; no further refresh.
	return c.finish(res)
}

// do performs a single HTTP round trip with header injection.
func (c *Client) do(ctx context.Context, method, path string, body any, accessOverride string) (*http.Response, error) {
	target := path
	if !isAbsoluteURL(path) {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		target = c.baseURL + path
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set(requestedWithHeader, requestedWithValue)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.shouldAttachCSRF(path, method) {
		if token := c.cookieValue(csrfCookieName); token != "" {
			req.Header.Set(csrfHeader, token)
		}
	}

	access := accessOverride
	if access == "" {
		if pair, err := c.creds.Load(ctx); err == nil && pair.Valid() {
			access = pair.Access
		}
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	return res, nil
}

// refresh performs the single token renewal call.
func (c *Client) refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	data, err := json.Marshal(map[string]string{"refresh": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("encode refresh body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+refreshPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestedWithHeader, requestedWithValue)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	parsed, parseErr := parseBody(res)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &Error{Status: res.StatusCode, Body: parsed}
	}
	if parseErr != nil {
		return nil, fmt.Errorf("decode refresh response: %w", parseErr)
	}

	pair := pairFromPayload(parsed)
	if pair == nil || pair.Access == "" {
		return nil, ErrMissingTokens
	}
	// The backend may not rotate the refresh token; keep the old one then.
	if pair.Refresh == "" {
		pair.Refresh = refreshToken
	}
	return pair, nil
}

// finish decodes the response body and maps non-2xx statuses to *Error.
func (c *Client) finish(res *http.Response) (any, error) {
	parsed, err := parseBody(res)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &Error{Status: res.StatusCode, Body: parsed}
	}
	if err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return parsed, nil
}

// parseBody decodes a response by content type: JSON when declared, nil for
// 204, raw text otherwise. The body is always closed.
func parseBody(res *http.Response) (any, error) {
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if strings.Contains(res.Header.Get("Content-Type"), "application/json") {
		var v any
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode json body: %w", err)
		}
		return v, nil
	}
	return string(data), nil
}

func drain(res *http.Response) {
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

// shouldAttachCSRF reports whether the forgery header applies: unsafe method
// and a path under the auth prefix. Path normalization here only drives the
// decision; it never changes the request URI.
func (c *Client) shouldAttachCSRF(path, method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return strings.HasPrefix(normalizePath(path), authPathPrefix)
}

func normalizePath(path string) string {
	if isAbsoluteURL(path) {
		u, err := url.Parse(path)
		if err != nil || u.Path == "" {
			return "/"
		}
		return u.Path
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func isAbsoluteURL(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// cookieValue reads a cookie for the API base URL from the client's jar.
func (c *Client) cookieValue(name string) string {
	u, err := url.Parse(c.baseURL)
	if err != nil || c.http.Jar == nil {
		return ""
	}
	for _, cookie := range c.http.Jar.Cookies(u) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}
