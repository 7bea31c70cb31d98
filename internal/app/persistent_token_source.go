package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/florianilch/p123dav/internal/p123"
)

// Revalidator re-runs the token lifecycle for a token the API rejected.
type Revalidator interface {
	Revalidate(ctx context.Context, stale string) (string, error)
}

// PersistentTokenSource holds the token chosen at startup and replaces it when
// the API reports it expired. Replacement goes through the token lifecycle, so
// the token store stays in sync with whatever token is in use.
type PersistentTokenSource struct {
	revalidator Revalidator

	current atomic.Pointer[string]
	group   singleflight.Group
}

// Compile-time checks to ensure PersistentTokenSource implements oauth2.TokenSource and p123.Refresher
var (
	_ oauth2.TokenSource = (*PersistentTokenSource)(nil)
	_ p123.Refresher     = (*PersistentTokenSource)(nil)
)

// NewPersistentTokenSource creates a PersistentTokenSource starting with initial.
func NewPersistentTokenSource(initial string, revalidator Revalidator) (*PersistentTokenSource, error) {
	if initial == "" {
		return nil, fmt.Errorf("missing initial token")
	}
	if revalidator == nil {
		return nil, fmt.Errorf("missing revalidator")
	}

	p := &PersistentTokenSource{revalidator: revalidator}
	p.current.Store(&initial)

	return p, nil
}

// Token returns the current token. It never performs I/O.
func (p *PersistentTokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: *p.current.Load(), TokenType: "Bearer"}, nil
}

// Refresh replaces stale after the API rejected it. Callers that report the
// same stale token concurrently share a single revalidation; a caller whose
// stale token was already replaced gets the current one without any I/O.
// The shared revalidation is detached from ctx so one caller going away does
// not fail the others; ctx only bounds how long this caller waits.
func (p *PersistentTokenSource) Refresh(ctx context.Context, stale string) (string, error) {
	if current := *p.current.Load(); current != stale {
		return current, nil
	}

	ch := p.group.DoChan(stale, func() (any, error) {
		fresh, err := p.revalidator.Revalidate(context.WithoutCancel(ctx), stale)
		if err != nil {
			return "", err
		}
		p.current.Store(&fresh)
		return fresh, nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("revalidating token: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("revalidating token: %w", res.Err)
		}
		fresh := res.Val.(string)
		if !res.Shared {
			slog.InfoContext(ctx, "token refreshed", "changed", fresh != stale)
		}
		return fresh, nil
	}
}
