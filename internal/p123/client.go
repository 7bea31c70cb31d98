// Package p123 provides an HTTP client for the 123pan web API: sign-in,
// identity checks, folder listings and download links.
//
// Responses use a {code, message, data} envelope. Failures are returned as
// *APIError values that unwrap to a small set of sentinels, so callers never
// need to inspect message text themselves.
package p123

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the public 123pan web API.
	DefaultBaseURL = "https://www.123pan.com"

	defaultTimeout  = 30 * time.Second
	defaultRetryMax = 3
	userAgent       = "p123dav/0.1"

	// maxResponseBytes bounds envelope responses; file content is streamed separately.
	maxResponseBytes = 8 << 20
)

// Refresher is implemented by token sources that can replace a token the API
// rejected as expired. stale is the token that was rejected.
type Refresher interface {
	Refresh(ctx context.Context, stale string) (string, error)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenSource sets the token source for authenticated file operations.
// If the source implements Refresher, one expired-token response per call
// triggers a refresh and a single retry.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithRetryMax sets how often idempotent requests are retried on transient failures.
func WithRetryMax(n int) Option {
	return func(c *Client) {
		c.retryMax = n
	}
}

// Client talks to the 123pan web API.
//
// Sign-in and identity checks are sent exactly once per call; retry policy for
// those belongs to the caller. Listing and download requests are retried on
// network errors and 5xx responses.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryClient *retryablehttp.Client
	retryMax    int
	tokens      oauth2.TokenSource
}

// NewClient creates a 123pan API client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		retryMax: defaultRetryMax,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = c.httpClient
	rc.RetryMax = c.retryMax
	rc.Logger = slog.Default()
	// Hand the final response back so error classification sees the real status.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.retryClient = rc

	return c
}

// SignIn exchanges a username and password for a freshly issued token.
func (c *Client) SignIn(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(signInRequest{
		Passport: username,
		Password: password,
		Remember: true,
	})
	if err != nil {
		return "", fmt.Errorf("p123: encoding sign-in request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/b/api/user/sign_in", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("p123: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	env, err := c.send(req)
	if err != nil {
		return "", err
	}
	// Sign-in reports success as 200 in the envelope, other endpoints use 0.
	if env.Code != 0 && env.Code != http.StatusOK {
		return "", envelopeError(http.StatusOK, env)
	}

	var data signInData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("%w: decoding sign-in data: %w", ErrUnexpected, err)
	}
	if data.Token == "" {
		return "", &APIError{StatusCode: http.StatusOK, Code: env.Code, Message: "sign-in returned no token", Err: ErrUnexpected}
	}
	return data.Token, nil
}

// UserInfo returns the identity behind token. A nil error means the API
// answered with code 0 and message "ok".
func (c *Client) UserInfo(ctx context.Context, token string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/user/info", nil)
	if err != nil {
		return nil, fmt.Errorf("p123: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	env, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if env.Code != 0 || env.Message != "ok" {
		return nil, envelopeError(http.StatusOK, env)
	}

	var info UserInfo
	if err := json.Unmarshal(env.Data, &info); err != nil {
		return nil, fmt.Errorf("%w: decoding user info: %w", ErrUnexpected, err)
	}
	return &info, nil
}

// send performs a single request and decodes the envelope.
func (c *Client) send(req *http.Request) (*envelope, error) {
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("p123: %s %s: %w", req.Method, req.URL.Path, err)
	}
	return decode(resp)
}

// decode reads and closes resp, returning the envelope of a 2xx response or
// a classified *APIError otherwise.
func decode(resp *http.Response) (*envelope, error) {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("p123: reading response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       env.Code,
			Message:    msg,
			Err:        classify(resp.StatusCode, env.Code, msg),
		}
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decoding envelope: %w", ErrUnexpected, decodeErr)
	}
	return &env, nil
}

// envelopeError converts a non-success envelope on a 2xx response into an *APIError.
func envelopeError(status int, env *envelope) error {
	return &APIError{
		StatusCode: status,
		Code:       env.Code,
		Message:    env.Message,
		Err:        classify(status, env.Code, env.Message),
	}
}

// doAuthed runs an authenticated, retried request built by newReq and decodes
// the envelope data into out. An expired token is refreshed at most once.
func (c *Client) doAuthed(ctx context.Context, newReq func() (*retryablehttp.Request, error), out any) error {
	if c.tokens == nil {
		return errors.New("p123: no token source configured")
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("p123: obtaining token: %w", err)
	}

	err = c.doAuthedOnce(newReq, tok, out)
	if !errors.Is(err, ErrTokenExpired) {
		return err
	}

	refresher, ok := c.tokens.(Refresher)
	if !ok {
		return err
	}

	slog.WarnContext(ctx, "token rejected as expired, refreshing")
	fresh, refreshErr := refresher.Refresh(ctx, tok.AccessToken)
	if refreshErr != nil {
		return fmt.Errorf("p123: refreshing token: %w", errors.Join(err, refreshErr))
	}

	return c.doAuthedOnce(newReq, &oauth2.Token{AccessToken: fresh, TokenType: "Bearer"}, out)
}

func (c *Client) doAuthedOnce(newReq func() (*retryablehttp.Request, error), tok *oauth2.Token, out any) error {
	req, err := newReq()
	if err != nil {
		return fmt.Errorf("p123: creating request: %w", err)
	}
	tok.SetAuthHeader(req.Request)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.retryClient.Do(req)
	if err != nil {
		return fmt.Errorf("p123: %s %s: %w", req.Method, req.URL.Path, err)
	}

	env, err := decode(resp)
	if err != nil {
		return err
	}
	if env.Code != 0 {
		return envelopeError(resp.StatusCode, env)
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decoding %s data: %w", ErrUnexpected, req.URL.Path, err)
	}
	return nil
}
