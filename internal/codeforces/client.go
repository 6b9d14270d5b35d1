package codeforces

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL    = "https://codeforces.com/api"
	DefaultWindow     = 30 * time.Minute
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
	DefaultFetchCount = 10
	DefaultTimeout    = 15 * time.Second
)

type Options struct {
	BaseURL string
	Window  time.Duration
	// MaxRetries is the total number of attempts per call.
	MaxRetries int
	// RetryDelay is multiplied by the attempt number. Zero disables the wait.
	RetryDelay time.Duration
	FetchCount int
	Timeout    time.Duration
}

type Client struct {
	client *resty.Client
	opts   Options
	now    func() time.Time
	logger *logrus.Entry
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.FetchCount <= 0 {
		opts.FetchCount = DefaultFetchCount
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Client{
		client: resty.New().
			SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
			SetTimeout(opts.Timeout).
			SetHeader("Accept", "application/json"),
		opts:   opts,
		now:    time.Now,
		logger: logrus.WithField("component", "codeforces"),
	}
}

// FetchRecentAccepted returns the accepted submissions of handle created within the recent window.
// Failures are *APIError values matching ErrAccountNotFound, ErrAPIUnavailable or ErrInterrupted.
func (c *Client) FetchRecentAccepted(ctx context.Context, handle string) ([]*Submission, error) {
	logger := c.logger.WithField("handle", handle)

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		env, err := c.fetchStatus(ctx, handle)
		if err == nil {
			return c.filterRecent(env), nil
		}

		var apiErr *APIError
		switch {
		case errors.As(err, &apiErr):
			return nil, err
		case ctx.Err() != nil:
			return nil, &APIError{Handle: handle, Kind: ErrInterrupted, Cause: ctx.Err()}
		}

		var te *transientError
		if !errors.As(err, &te) {
			logger.Errorf("request rejected: %v", err)
			return nil, &APIError{Handle: handle, Kind: ErrAPIUnavailable, Cause: err}
		}

		lastErr = err
		logger.Warnf("request failed, attempt %d/%d: %v", attempt, c.opts.MaxRetries, err)

		if attempt == c.opts.MaxRetries {
			break
		}

		wait := c.opts.RetryDelay * time.Duration(attempt)
		select {
		case <-ctx.Done():
			return nil, &APIError{Handle: handle, Kind: ErrInterrupted, Cause: ctx.Err()}
		case <-time.After(wait):
		}
	}

	logger.Errorf("giving up after %d attempts", c.opts.MaxRetries)
	return nil, &APIError{Handle: handle, Kind: ErrAPIUnavailable, Cause: lastErr}
}

// fetchStatus performs a single request. Transient failures are wrapped in transientError,
// classified failures are returned as *APIError, anything else is a non-retryable rejection.
func (c *Client) fetchStatus(ctx context.Context, handle string) (*envelope, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"handle": handle,
			"from":   "1",
			"count":  strconv.Itoa(c.opts.FetchCount),
		}).
		Get("/user.status")
	if err != nil {
		return nil, transient("sending request: %w", err)
	}

	body := resp.Body()
	code := resp.StatusCode()

	switch {
	case code >= http.StatusInternalServerError:
		return nil, transient("unexpected status code: %d", code)
	case code >= http.StatusBadRequest:
		// The judge answers unknown handles with 400 and a FAILED envelope.
		var env envelope
		if err := sonic.Unmarshal(body, &env); err == nil && isNotFound(env.Comment) {
			return nil, &APIError{Handle: handle, Kind: ErrAccountNotFound, Cause: errors.New(env.Comment)}
		}
		return nil, fmt.Errorf("unexpected status code: %d %s", code, strings.TrimSpace(string(body)))
	}

	if len(body) == 0 {
		return nil, transient("empty response")
	}

	var env envelope
	if err := sonic.Unmarshal(body, &env); err != nil {
		return nil, transient("decoding response: %w", err)
	}
	if env.Status == "" {
		return nil, transient("response without status")
	}

	if env.Status != "OK" {
		if isNotFound(env.Comment) {
			return nil, &APIError{Handle: handle, Kind: ErrAccountNotFound, Cause: errors.New(env.Comment)}
		}
		c.logger.WithField("handle", handle).Warnf("api status %s: %s", env.Status, env.Comment)
		return &envelope{Status: env.Status}, nil
	}

	return &env, nil
}

func (c *Client) filterRecent(env *envelope) []*Submission {
	since := c.now().Add(-c.opts.Window).Unix()

	var result []*Submission
	for _, sub := range env.Result {
		if sub == nil || sub.Verdict != VerdictOK {
			continue
		}
		if sub.CreationTimeSeconds < since {
			continue
		}
		result = append(result, sub)
	}
	return result
}

func isNotFound(comment string) bool {
	return strings.Contains(comment, "User with handle") && strings.Contains(comment, "not found")
}
