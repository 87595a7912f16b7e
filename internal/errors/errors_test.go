package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	autherrors "github.com/jrsteele09/go-smart-auth/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestAuthError_MatchesKindAndCause(t *testing.T) {
	cause := stderrors.New("dial tcp: i/o timeout")
	err := autherrors.Wrap(autherrors.ErrTransport, "Exchanger.Exchange", cause, "token endpoint unreachable")

	require.ErrorIs(t, err, autherrors.ErrTransport)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, autherrors.ErrAssertionRejected)
	require.Contains(t, err.Error(), "Exchanger.Exchange")
	require.Contains(t, err.Error(), "token endpoint unreachable")
}

func TestAuthError_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("[Server.Backend] %w", autherrors.New(autherrors.ErrKeyMaterial, "keys.Load", "bad PEM"))

	require.ErrorIs(t, err, autherrors.ErrKeyMaterial)
	require.Equal(t, autherrors.ErrKeyMaterial, autherrors.KindOf(err))
}

func TestKindOf_PlainError(t *testing.T) {
	require.Nil(t, autherrors.KindOf(stderrors.New("plain")))
}

func TestWrapf(t *testing.T) {
	require.NoError(t, autherrors.Wrapf(nil, "ignored"))

	err := autherrors.Wrapf(stderrors.New("boom"), "loading %s", "config")
	require.EqualError(t, err, "loading config: boom")
}
