// Package remote is the wire adapter for the lesson progress API.
//
//	GET  /progress                     -> {"progress":[{lesson_id, seconds_watched, completed, updated_at}]}
//	POST /lessons/{lesson_id}/progress <- {"seconds_watched": n, "completed": bool?}
//
// Every request carries "Authorization: Bearer <token>". The client keeps no
// state between calls and never retries.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxBody = 1 << 20

// Row is one lesson as reported by the server. UpdatedAt is carried but unused.
type Row struct {
	LessonID       string  `json:"lesson_id"`
	SecondsWatched int     `json:"seconds_watched"`
	Completed      bool    `json:"completed"`
	UpdatedAt      *string `json:"updated_at"`
}

type progressResponse struct {
	Progress *[]Row `json:"progress"`
}

type pushBody struct {
	SecondsWatched int   `json:"seconds_watched"`
	Completed      *bool `json:"completed,omitempty"`
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenProvider
	CB         *gobreaker.CircuitBreaker
	Log        *zap.Logger
}

// Option configures the Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithCircuitBreaker makes the client fail fast with ErrTransport while the
// breaker is open. It does not add retries.
func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *Client) { c.CB = cb }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.Log = log
		}
	}
}

func New(baseURL string, tokens TokenProvider, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: invalid base url %q", baseURL)
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	c := &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Tokens:     tokens,
		Log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// NewBreaker returns the breaker settings used by the sync agent: trip after
// five consecutive transport failures or 5xx answers, probe again after 30s.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: breakerSuccessful,
	})
}

// breakerSuccessful reports whether err says nothing about the server's health.
// A 401 or 4xx is the caller's problem and must reach it unchanged.
func breakerSuccessful(err error) bool {
	var se *StatusError
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrUnauthorized):
		return true
	case errors.As(err, &se):
		return se.Code < http.StatusInternalServerError
	case errors.Is(err, context.Canceled):
		return true
	default:
		return false
	}
}

// FetchAll returns every progress row the server holds for the current user.
func (c *Client) FetchAll(ctx context.Context) ([]Row, error) {
	b, err := c.do(ctx, http.MethodGet, "/progress", nil)
	if err != nil {
		return nil, err
	}
	var out progressResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %w body=%q", ErrDecode, err, snippet(b))
	}
	if out.Progress == nil {
		return nil, fmt.Errorf("%w: missing progress field body=%q", ErrDecode, snippet(b))
	}
	rows := make([]Row, 0, len(*out.Progress))
	for i, r := range *out.Progress {
		if strings.TrimSpace(r.LessonID) == "" {
			c.Log.Warn("skipping progress row without lesson_id", zap.Int("row", i))
			continue
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// Push reports a position for lessonID. completed=nil omits the field.
func (c *Client) Push(ctx context.Context, lessonID string, secondsWatched int, completed *bool) error {
	body, err := json.Marshal(pushBody{SecondsWatched: secondsWatched, Completed: completed})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	_, err = c.do(ctx, http.MethodPost, "/lessons/"+url.PathEscape(lessonID)+"/progress", body)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	token, ok := c.Tokens.CurrentToken()
	if !ok || token == "" {
		return nil, ErrNoToken
	}
	if c.CB == nil {
		return c.roundTrip(ctx, method, path, token, body)
	}
	res, err := c.CB.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, method, path, token, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return nil, err
	}
	return res.([]byte), nil
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, body []byte) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}

	c.Log.Debug("progress api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet(b)}
	}
	return b, nil
}

func snippet(b []byte) string {
	return string(b[:min(len(b), 200)])
}
