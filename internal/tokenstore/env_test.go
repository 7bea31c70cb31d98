package tokenstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvStore(t *testing.T) {
	t.Setenv("P123DAV_TEST_TOKEN", "env-token")

	store, err := NewEnvStore("P123DAV_TEST_TOKEN")
	require.NoError(t, err)

	ctx := context.Background()
	got, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "env-token", got)

	assert.ErrorIs(t, store.Write(ctx, "other"), ErrReadOnly)
	assert.ErrorIs(t, store.Delete(ctx), ErrReadOnly)
}

func TestEnvStore_Unset(t *testing.T) {
	t.Setenv("P123DAV_TEST_TOKEN", "")

	store, err := NewEnvStore("P123DAV_TEST_TOKEN")
	require.NoError(t, err)

	_, err = store.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewEnvStore_EmptyKey(t *testing.T) {
	_, err := NewEnvStore("")
	assert.Error(t, err)
}
