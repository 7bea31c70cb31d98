package tokensource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultMaxRetries is how many sign-in attempts are made before giving up.
	DefaultMaxRetries = 5

	// DefaultRetryDelay is the pause between two sign-in attempts.
	DefaultRetryDelay = 10 * time.Second
)

// ErrAcquisitionExhausted is returned when no token could be obtained within the attempt budget.
var ErrAcquisitionExhausted = errors.New("token acquisition exhausted")

// Authenticator exchanges credentials for a new token.
type Authenticator interface {
	SignIn(ctx context.Context, username, password string) (string, error)
}

// AcquirerOption configures an Acquirer.
type AcquirerOption func(*Acquirer)

// WithMaxRetries sets the total number of sign-in attempts. Values below 1 are ignored.
func WithMaxRetries(n int) AcquirerOption {
	return func(a *Acquirer) {
		if n >= 1 {
			a.maxRetries = n
		}
	}
}

// WithRetryDelay sets the fixed pause between attempts.
func WithRetryDelay(d time.Duration) AcquirerOption {
	return func(a *Acquirer) {
		a.retryDelay = d
	}
}

// WithSleepFunc replaces the blocking sleep between attempts. Tests use it to avoid real delays.
func WithSleepFunc(sleep func(time.Duration)) AcquirerOption {
	return func(a *Acquirer) {
		a.sleep = sleep
	}
}

// Acquirer obtains new tokens with bounded retry. It never touches the token
// store; persisting the result is up to the caller.
type Acquirer struct {
	auth       Authenticator
	maxRetries int
	retryDelay time.Duration
	sleep      func(time.Duration)
}

// NewAcquirer creates an Acquirer backed by auth.
func NewAcquirer(auth Authenticator, opts ...AcquirerOption) (*Acquirer, error) {
	if auth == nil {
		return nil, fmt.Errorf("missing authenticator")
	}

	a := &Acquirer{
		auth:       auth,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// MaxRetries returns the attempt budget.
func (a *Acquirer) MaxRetries() int {
	return a.maxRetries
}

// Acquire signs in with creds, retrying up to the configured number of
// attempts. Every attempt is logged with its ordinal. On exhaustion the error
// wraps ErrAcquisitionExhausted and the last failure.
func (a *Acquirer) Acquire(ctx context.Context, creds Credentials) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		token, err := a.auth.SignIn(ctx, creds.Username, creds.Password)
		if err == nil {
			slog.InfoContext(ctx, "token acquired",
				"attempt", fmt.Sprintf("%d/%d", attempt, a.maxRetries),
				"credentials", creds,
			)
			return token, nil
		}
		lastErr = err

		slog.WarnContext(ctx, "token acquisition failed",
			"attempt", fmt.Sprintf("%d/%d", attempt, a.maxRetries),
			"error", err,
		)

		if attempt == a.maxRetries {
			break
		}
		// A canceled context would fail every remaining attempt anyway.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w after %d/%d attempts: %w", ErrAcquisitionExhausted, attempt, a.maxRetries, ctxErr)
		}
		a.sleep(a.retryDelay)
	}

	return "", fmt.Errorf("%w after %d attempts: %w", ErrAcquisitionExhausted, a.maxRetries, lastErr)
}
