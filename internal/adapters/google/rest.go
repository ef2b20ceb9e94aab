// Package google talks to the Google Cloud Speech-to-Text and Text-to-Speech
// REST APIs using an API key.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

var ErrMissingKey = errors.New("google API key not configured")

// StatusError is a non-2xx reply from the service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

type Option func(*client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.http = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *client) { c.logger = l.With().Str("module", "google").Logger() }
}

// WithBreaker overrides how many consecutive failures open the breaker and
// how long it stays open.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(c *client) {
		c.tripAfter = failures
		c.cooldown = cooldown
	}
}

type client struct {
	name      string
	endpoint  string
	apiKey    string
	http      *http.Client
	logger    zerolog.Logger
	tripAfter uint32
	cooldown  time.Duration
}

func newClient(name, endpoint, apiKey string, opts []Option) client {
	c := client{
		name:      name,
		endpoint:  endpoint,
		apiKey:    apiKey,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    zerolog.Nop(),
		tripAfter: 5,
		cooldown:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func newBreaker[T any](c client) *gobreaker.CircuitBreaker[T] {
	logger := c.logger
	tripAfter := c.tripAfter
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        c.name,
		MaxRequests: 1,
		Timeout:     c.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

func (c client) url() (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingKey
	}
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// doJSON posts body as JSON and decodes a 2xx reply into dest.
func (c client) doJSON(ctx context.Context, body, dest any) error {
	endpoint, err := c.url()
	if err != nil {
		return err
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
