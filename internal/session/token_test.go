package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	tok, err := session.Static("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = session.Static("  ").Token(context.Background())
	assert.ErrorIs(t, err, session.ErrNoToken)
}

func TestContextSource(t *testing.T) {
	src := session.Context()

	_, err := src.Token(context.Background())
	assert.ErrorIs(t, err, session.ErrNoToken)

	ctx := session.WithToken(context.Background(), "req-token")
	tok, err := src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "req-token", tok)
}

func TestChain_PrefersFirstAvailable(t *testing.T) {
	src := session.Chain(session.Context(), session.Static("fallback"))

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fallback", tok)

	tok, err = src.Token(session.WithToken(context.Background(), "request"))
	require.NoError(t, err)
	assert.Equal(t, "request", tok)
}

func TestChain_PropagatesSourceFailure(t *testing.T) {
	boom := errors.New("session endpoint down")
	src := session.Chain(session.SourceFunc(func(context.Context) (string, error) {
		return "", boom
	}), session.Static("never"))

	_, err := src.Token(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestChain_Empty(t *testing.T) {
	_, err := session.Chain().Token(context.Background())
	assert.ErrorIs(t, err, session.ErrNoToken)
}

func TestFingerprint(t *testing.T) {
	a := session.Fingerprint("token-a")
	b := session.Fingerprint("token-b")

	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, session.Fingerprint("token-a"))
	assert.NotContains(t, a, "token")
	assert.Equal(t, "", session.Fingerprint(""))
}

func TestScope(t *testing.T) {
	assert.Equal(t, "", session.Scope(context.Background()))

	ctx := session.WithToken(context.Background(), "token-a")
	assert.Equal(t, session.Fingerprint("token-a"), session.Scope(ctx))
	assert.NotEqual(t, session.Scope(ctx), session.Scope(session.WithToken(context.Background(), "token-b")))
}
