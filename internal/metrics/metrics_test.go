package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObserversAreNilSafeBeforeInit(t *testing.T) {
	require.NotPanics(t, func() {
		ObserveItem("succeeded")
		ObserveAttempt("direct_http", "success")
		ObserveArtifact(1024)
		WorkerActive(1)
		ObserveBackoff(1.5)
	})
}

func TestInitIsIdempotent(t *testing.T) {
	require.NotPanics(t, func() {
		Init()
		Init()
	})

	require.NotPanics(t, func() {
		ObserveItem("succeeded")
		ObserveAttempt("browser_download", "transient")
		ObserveArtifact(2048)
		WorkerActive(-1)
		ObserveBackoff(0.25)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	Init()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
}
