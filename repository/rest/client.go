// Package rest implements the domain repositories over the booking backend's
// HTTP API.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/wricardo/courtside/domain"
	"github.com/wricardo/courtside/jsoncodec"
)

// TokenSource yields the bearer token for requests, or "" for anonymous ones.
type TokenSource interface {
	Token() (string, error)
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error: %d", e.Status)
	}
	return e.Message
}

// Unwrap maps well-known statuses to domain errors.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return nil
}

// Client is a thin JSON client for the backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the API at baseURL. tokens may be nil.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		tokens: tokens,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// apiCall sends body (if any) as JSON and decodes the response into result
// (if any).
func (c *Client) apiCall(ctx context.Context, method, path string, query url.Values, body, result any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := jsoncodec.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("failed to read access token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if result == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := jsoncodec.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage extracts the backend's error text. It answers with either
// {"error": ...} or {"detail": ...}.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, key := range []string{"error", "detail"} {
		if v := gjson.GetBytes(body, key); v.Exists() {
			return v.String()
		}
	}
	return ""
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
