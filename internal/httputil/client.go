// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "iwantit"
	maxBody          = 8 << 20
)

// Client issues JSON requests to one service.
type Client struct {
	// Service names the remote in error messages.
	Service string

	HTTP       *http.Client
	UserAgent  string
	MaxRetries int

	// Header is added to every request.
	Header http.Header
}

// NewClient returns a client for service configured from cfg.
func NewClient(service string, cfg types.HTTPConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		Service:   service,
		HTTP:      &http.Client{Timeout: timeout},
		UserAgent: ua,
		Header:    http.Header{},
	}
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.Do(ctx, http.MethodGet, url, nil, out)
}

// PostJSON sends in as JSON and decodes the response into out. A nil out
// discards the body.
func (c *Client) PostJSON(ctx context.Context, url string, in, out any) error {
	return c.Do(ctx, http.MethodPost, url, in, out)
}

// Do performs a JSON request. Failures are *steperr.Error values: transport
// failures and throttling are retryable, other non-2xx statuses fatal.
func (c *Client) Do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return steperr.Fatal(steperr.ReasonInput, fmt.Errorf("encoding %s request: %w", c.Service, err))
		}
		body = bytes.NewReader(payload)
	}

	data, err := c.send(ctx, method, url, body, "application/json", in != nil)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return steperr.Fatal(steperr.ReasonInvalidOutput, fmt.Errorf("decoding %s response: %w", c.Service, err))
	}
	return nil
}

// Fetch returns the raw body of a GET request, used for HTML pages.
func (c *Client) Fetch(ctx context.Context, url, accept string) ([]byte, error) {
	return c.send(ctx, http.MethodGet, url, nil, accept, false)
}

func (c *Client) send(ctx context.Context, method, url string, body io.Reader, accept string, isJSON bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, steperr.Fatal(steperr.ReasonConfig, fmt.Errorf("building %s request: %w", c.Service, err))
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.UserAgent)
	if isJSON {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := DoWithRetry(ctx, c.HTTP, req, c.MaxRetries)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Service: c.Service, Code: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return steperr.Retryable(steperr.ReasonNetwork, fmt.Errorf("%s request failed: %w", c.Service, err))
}

// StatusError is a non-2xx response. Its classification follows
// steperr.FromStatus.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return steperr.FromStatus(e.Service, e.Code, e.Body).Error()
}

// Unwrap exposes the classified form to errors.As.
func (e *StatusError) Unwrap() error {
	return steperr.FromStatus(e.Service, e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
