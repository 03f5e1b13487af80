package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsDownloadAbort(t *testing.T) {
	t.Parallel()

	require.True(t, isDownloadAbort(errors.New("page load error net::ERR_ABORTED")))
	require.False(t, isDownloadAbort(nil))
	require.False(t, isDownloadAbort(errors.New("net::ERR_CONNECTION_REFUSED")))
	require.False(t, isDownloadAbort(context.Canceled))
}
