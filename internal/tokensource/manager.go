package tokensource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/florianilch/p123dav/internal/tokenstore"
)

// ErrCredentialsIncomplete is returned when username or password is missing.
var ErrCredentialsIncomplete = errors.New("username and password are required")

// State is a step of the token lifecycle.
type State int

const (
	StateStart State = iota
	StateHaveCachedToken
	StateNoCachedToken
	StateValidating
	StateNeedAcquire
	StateAcquiring
	StateReady
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateHaveCachedToken:
		return "have_cached_token"
	case StateNoCachedToken:
		return "no_cached_token"
	case StateValidating:
		return "validating"
	case StateNeedAcquire:
		return "need_acquire"
	case StateAcquiring:
		return "acquiring"
	case StateReady:
		return "ready"
	case StateFatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFatal
}

// TokenValidator classifies a token.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (Outcome, error)
}

// TokenAcquirer obtains a new token from credentials.
type TokenAcquirer interface {
	Acquire(ctx context.Context, creds Credentials) (string, error)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTransitionHook registers fn to be called on every state change.
func WithTransitionHook(fn func(from, to State)) ManagerOption {
	return func(m *Manager) {
		m.onTransition = fn
	}
}

// Manager decides which token the process uses. It loads the cached token,
// validates it, and falls back to acquiring a new one, keeping the store in
// sync with the outcome. Run is called once at startup, before anything that
// needs the token is constructed.
type Manager struct {
	store     tokenstore.TokenStore
	validator TokenValidator
	acquirer  TokenAcquirer
	creds     Credentials

	current      atomic.Pointer[string]
	onTransition func(from, to State)
}

// step is the value threaded through the state machine.
type step struct {
	state State
	token string
	err   error
}

// NewManager creates a Manager. Credentials are checked by Run, not here, so
// that a missing password surfaces as a lifecycle failure.
func NewManager(store tokenstore.TokenStore, validator TokenValidator, acquirer TokenAcquirer, creds Credentials, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if validator == nil {
		return nil, fmt.Errorf("missing token validator")
	}
	if acquirer == nil {
		return nil, fmt.Errorf("missing token acquirer")
	}

	m := &Manager{
		store:     store,
		validator: validator,
		acquirer:  acquirer,
		creds:     creds,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run drives the lifecycle from the start state to Ready or Fatal and returns
// the usable token. A non-nil error wraps ErrCredentialsIncomplete or
// ErrAcquisitionExhausted; every other failure is absorbed along the way.
func (m *Manager) Run(ctx context.Context) (string, error) {
	return m.finish(ctx, m.drive(ctx, step{state: StateStart}))
}

// Revalidate re-enters the lifecycle with a token the API rejected at runtime.
// The token is checked again and replaced only if the check does not confirm it.
func (m *Manager) Revalidate(ctx context.Context, stale string) (string, error) {
	if !m.creds.Complete() {
		return m.finish(ctx, step{state: StateFatal, err: ErrCredentialsIncomplete})
	}
	return m.finish(ctx, m.drive(ctx, step{state: StateHaveCachedToken, token: stale}))
}

// Token returns the token chosen by the last successful Run or Revalidate,
// or the empty string if there is none.
func (m *Manager) Token() string {
	if p := m.current.Load(); p != nil {
		return *p
	}
	return ""
}

func (m *Manager) finish(ctx context.Context, final step) (string, error) {
	if final.state == StateFatal {
		slog.ErrorContext(ctx, "token lifecycle failed", "error", final.err)
		return "", final.err
	}

	token := final.token
	m.current.Store(&token)
	return token, nil
}

// drive applies transitions until a terminal state is reached.
func (m *Manager) drive(ctx context.Context, s step) step {
	for !s.state.Terminal() {
		next := m.next(ctx, s)
		slog.DebugContext(ctx, "token lifecycle transition", "from", s.state, "to", next.state)
		if m.onTransition != nil {
			m.onTransition(s.state, next.state)
		}
		s = next
	}
	return s
}

// next computes the single transition out of s.
func (m *Manager) next(ctx context.Context, s step) step {
	switch s.state {
	case StateStart:
		// Credentials are required even with a cached token: it may turn out invalid.
		if !m.creds.Complete() {
			return step{state: StateFatal, err: ErrCredentialsIncomplete}
		}
		token, err := m.store.Read(ctx)
		if err != nil {
			if errors.Is(err, tokenstore.ErrNotFound) {
				slog.InfoContext(ctx, "no cached token")
			} else {
				slog.WarnContext(ctx, "cached token unreadable, acquiring a new one", "error", err)
			}
			return step{state: StateNoCachedToken}
		}
		slog.InfoContext(ctx, "cached token found")
		return step{state: StateHaveCachedToken, token: token}

	case StateHaveCachedToken:
		return step{state: StateValidating, token: s.token}

	case StateValidating:
		outcome, err := m.validator.Validate(ctx, s.token)
		switch outcome {
		case OutcomeValid:
			slog.InfoContext(ctx, "cached token is valid")
			return step{state: StateReady, token: s.token}
		case OutcomeInvalid:
			slog.InfoContext(ctx, "cached token expired, clearing it", "error", err)
			if delErr := m.store.Delete(ctx); delErr != nil {
				slog.ErrorContext(ctx, "failed to clear expired token", "error", delErr)
			}
			return step{state: StateNeedAcquire}
		default:
			// Keep the cached value: only a successful acquisition replaces it.
			slog.WarnContext(ctx, "could not confirm cached token, acquiring a new one", "error", err)
			return step{state: StateNeedAcquire}
		}

	case StateNoCachedToken:
		return step{state: StateNeedAcquire}

	case StateNeedAcquire:
		return step{state: StateAcquiring}

	case StateAcquiring:
		token, err := m.acquirer.Acquire(ctx, m.creds)
		if err != nil {
			return step{state: StateFatal, err: err}
		}
		if err := m.store.Write(ctx, token); err != nil {
			slog.ErrorContext(ctx, "failed to persist token, continuing with in-memory token", "error", err)
		}
		return step{state: StateReady, token: token}

	default:
		return s
	}
}
