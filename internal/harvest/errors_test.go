package harvest

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.NoError(t, ClassifyStatus(http.StatusOK))
	require.NoError(t, ClassifyStatus(http.StatusNoContent))

	require.True(t, IsPermanent(ClassifyStatus(http.StatusNotFound)))
	require.True(t, IsPermanent(ClassifyStatus(http.StatusGone)))
	require.True(t, IsPermanent(ClassifyStatus(http.StatusForbidden)))
	require.True(t, IsPermanent(ClassifyStatus(http.StatusUnauthorized)))

	require.False(t, IsPermanent(ClassifyStatus(http.StatusTooManyRequests)))
	require.False(t, IsPermanent(ClassifyStatus(http.StatusRequestTimeout)))
	require.False(t, IsPermanent(ClassifyStatus(http.StatusInternalServerError)))
	require.False(t, IsPermanent(ClassifyStatus(http.StatusBadGateway)))
}

func TestClassifyNetErr(t *testing.T) {
	t.Parallel()

	require.NoError(t, ClassifyNetErr(nil))

	// Cancellation passes through unclassified so callers can detect it.
	require.ErrorIs(t, ClassifyNetErr(context.Canceled), context.Canceled)
	require.False(t, IsPermanent(ClassifyNetErr(context.Canceled)))

	deadline := ClassifyNetErr(context.DeadlineExceeded)
	var fe *FetchError
	require.ErrorAs(t, deadline, &fe)
	require.Equal(t, Transient, fe.Class)

	// Already classified errors are returned unchanged.
	perm := Permanentf("blocked")
	require.Same(t, perm, ClassifyNetErr(perm).(*FetchError))

	// Unknown transport errors default to transient.
	require.False(t, IsPermanent(ClassifyNetErr(errors.New("connection reset"))))
}

func TestIsPermanent_UnclassifiedErrors(t *testing.T) {
	t.Parallel()

	require.False(t, IsPermanent(nil))
	require.False(t, IsPermanent(errors.New("plain")))
	require.False(t, IsPermanent(Transientf("again later")))
	require.True(t, IsPermanent(Permanentf("gone")))
}

func TestFetchError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("root cause")
	wrapped := &FetchError{Class: Permanent, Err: inner}
	require.ErrorIs(t, wrapped, inner)
	require.Contains(t, wrapped.Error(), "permanent")
}
