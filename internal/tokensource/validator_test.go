package tokensource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/p123dav/internal/p123"
)

func TestValidator_Validate(t *testing.T) {
	tests := []struct {
		name    string
		infoErr error
		want    Outcome
	}{
		{name: "ok response", infoErr: nil, want: OutcomeValid},
		{name: "expired", infoErr: expiredErr(), want: OutcomeInvalid},
		{name: "network error", infoErr: errNetwork, want: OutcomeIndeterminate},
		{
			name:    "unrelated api error",
			infoErr: &p123.APIError{StatusCode: 200, Code: 5000, Message: "busy", Err: p123.ErrUnexpected},
			want:    OutcomeIndeterminate,
		},
		{
			name:    "server error",
			infoErr: &p123.APIError{StatusCode: 503, Message: "Service Unavailable", Err: p123.ErrServer},
			want:    OutcomeIndeterminate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{infoErrs: []error{tt.infoErr}}
			v, err := NewValidator(api)
			require.NoError(t, err)

			got, err := v.Validate(context.Background(), "tok")
			assert.Equal(t, tt.want, got)
			if tt.want == OutcomeValid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}

			info, signIn := api.calls()
			assert.Equal(t, 1, info, "exactly one identity call")
			assert.Equal(t, 0, signIn)
		})
	}
}

func TestValidator_Idempotent(t *testing.T) {
	api := &fakeAPI{}
	v, err := NewValidator(api)
	require.NoError(t, err)

	for range 2 {
		got, err := v.Validate(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, OutcomeValid, got)
	}
}

func TestNewValidator_NilChecker(t *testing.T) {
	_, err := NewValidator(nil)
	assert.Error(t, err)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "valid", OutcomeValid.String())
	assert.Equal(t, "invalid", OutcomeInvalid.String())
	assert.Equal(t, "indeterminate", OutcomeIndeterminate.String())
}
