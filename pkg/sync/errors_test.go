package sync //nolint:revive,nolintlint // package name mirrors the domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conductorone/catalog-sync/pkg/document"
	"github.com/conductorone/catalog-sync/pkg/retry"
	"github.com/conductorone/catalog-sync/pkg/uhttp"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("wrapped: %w", newError(ErrPersistence, "upsert product", cause))

	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrTransport)
	require.Equal(t, "persistence", ErrorKind(err))
	require.EqualError(t, err, "wrapped: upsert product: persistence error: disk full")

	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "upsert product", e.Op)
	require.False(t, e.Retryable())
}

func TestRemoteErrorClassification(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: errors.New("connection refused"), want: "transport"},
		{err: &uhttp.StatusError{StatusCode: http.StatusBadGateway}, want: "remote_api"},
		{err: fmt.Errorf("list: %w", &uhttp.ContentTypeError{ContentType: "text/html"}), want: "remote_api"},
		{err: document.ErrNotObject, want: "remote_api"},
		{err: fmt.Errorf("%w: unexpected EOF", document.ErrNotList), want: "remote_api"},
		{err: newError(ErrValidation, "x", nil), want: "validation"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ErrorKind(remoteError("op", tt.err)), tt.err.Error())
	}

	require.True(t, retry.IsRetryable(remoteError("op", errors.New("reset"))))
	require.False(t, retry.IsRetryable(newError(ErrValidation, "op", nil)))
	require.Equal(t, "", ErrorKind(nil))
	require.Equal(t, "unknown", ErrorKind(errors.New("x")))
}
