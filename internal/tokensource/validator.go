package tokensource

import (
	"context"
	"errors"
	"fmt"

	"github.com/florianilch/p123dav/internal/p123"
)

// Outcome is the classified result of checking a token against the API.
type Outcome int

const (
	// OutcomeIndeterminate means the check failed for a reason unrelated to the
	// token itself. The token is not trusted for this attempt but is not discarded.
	OutcomeIndeterminate Outcome = iota
	// OutcomeValid means the API confirmed the token.
	OutcomeValid
	// OutcomeInvalid means the API explicitly rejected the token as expired.
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "indeterminate"
	}
}

// IdentityChecker asks the API who a token belongs to.
type IdentityChecker interface {
	UserInfo(ctx context.Context, token string) (*p123.UserInfo, error)
}

// Validator checks whether a token is still accepted by the API.
// It holds no state, so repeated checks of the same token are independent.
type Validator struct {
	checker IdentityChecker
}

// NewValidator creates a Validator backed by checker.
func NewValidator(checker IdentityChecker) (*Validator, error) {
	if checker == nil {
		return nil, fmt.Errorf("missing identity checker")
	}
	return &Validator{checker: checker}, nil
}

// Validate issues exactly one identity call with token. The returned error
// describes why the outcome is not OutcomeValid and is nil otherwise.
func (v *Validator) Validate(ctx context.Context, token string) (Outcome, error) {
	_, err := v.checker.UserInfo(ctx, token)
	switch {
	case err == nil:
		return OutcomeValid, nil
	case errors.Is(err, p123.ErrTokenExpired):
		return OutcomeInvalid, err
	default:
		return OutcomeIndeterminate, err
	}
}
