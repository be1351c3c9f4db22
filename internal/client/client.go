// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

// Package client talks to a classfeed server over HTTP and its websocket.
//
// Client implements events.Source, so every watcher and board in the
// admission, presentation and sidechannel packages runs unchanged on a
// remote machine:
//
//	c, _ := client.New(client.Config{BaseURL: "http://localhost:8080"})
//	p, token, _ := c.Join(ctx, "K7Q2ZD", "Ana")
//	c.SetToken(token)
//	w, _ := admission.Watch(ctx, c, p.SessionCode, p.ID, admission.WatchOptions{})
//
// Push runs over one websocket shared by all subscriptions and reconnects
// with backoff; while it is down, followers keep up by polling.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/twistedtree83/classfeedback/internal/models"
)

// DefaultFeedbackCooldown spaces out feedback taps from one client.
const DefaultFeedbackCooldown = 3 * time.Second

// DefaultTimeout bounds each HTTP request.
const DefaultTimeout = 15 * time.Second

// Errors for HTTP failures that have no domain sentinel.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrRateLimited  = errors.New("rate limited")
	ErrCooldown     = errors.New("feedback cooldown active")
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string

	// HTTPClient defaults to a client with Timeout.
	HTTPClient *http.Client
	Timeout    time.Duration

	// FeedbackCooldown defaults to DefaultFeedbackCooldown. Negative
	// disables it.
	FeedbackCooldown time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	base *url.URL
	http *http.Client

	tokenMu sync.RWMutex
	token   string

	cooldown *rate.Limiter
	push     *pushConn
}

// New returns a Client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{base: base, http: hc, token: cfg.Token}

	switch cd := cfg.FeedbackCooldown; {
	case cd < 0:
		c.cooldown = rate.NewLimiter(rate.Inf, 1)
	case cd == 0:
		c.cooldown = rate.NewLimiter(rate.Every(DefaultFeedbackCooldown), 1)
	default:
		c.cooldown = rate.NewLimiter(rate.Every(cd), 1)
	}

	c.push = newPushConn(c)
	return c, nil
}

// SetToken replaces the bearer token. Push subscriptions keep the token
// they connected with until the next reconnect.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// Close stops push delivery.
func (c *Client) Close() error {
	return c.push.close()
}

// Error is a failed API call.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the response onto the shared sentinels so callers can use
// errors.Is(err, models.ErrNotFound) on either side of the wire.
func (e *Error) Unwrap() error {
	switch e.Code {
	case "NOT_FOUND":
		return models.ErrNotFound
	case "INVALID_TRANSITION":
		return models.ErrInvalidTransition
	case "VALIDATION_ERROR":
		return models.ErrValidation
	}
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

type response struct {
	Status   string           `json:"status"`
	Data     json.RawMessage  `json:"data"`
	Metadata models.Metadata  `json:"metadata"`
	Error    *models.APIError `json:"error"`
}

// do sends one request under /api/v1 and decodes the data into out. path
// must already be escaped.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	// path segments arrive escaped; url.Parse keeps %2F in RawPath.
	target := c.base.String() + "/api/v1" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &Error{Status: resp.StatusCode, Code: "BAD_RESPONSE", Message: err.Error()}
	}
	if resp.StatusCode >= 400 || env.Status == "error" {
		e := &Error{Status: resp.StatusCode}
		if env.Error != nil {
			e.Code, e.Message, e.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return e
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// Poll implements events.Source.
func (c *Client) Poll(ctx context.Context, kind models.Kind, partition string, since uint64) ([]models.Envelope, error) {
	q := url.Values{}
	q.Set("since", fmt.Sprint(since))
	var out []models.Envelope
	path := "/events/" + url.PathEscape(string(kind)) + "/" + url.PathEscape(partition)
	if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
