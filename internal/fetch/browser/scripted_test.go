package browser

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docuflow/harvester/internal/harvest"
)

func TestDecodeScriptResult_Payload(t *testing.T) {
	t.Parallel()

	payload := []byte("%PDF-1.7 fake body")
	encoded := "CT:application/pdf;B64:" + base64.StdEncoding.EncodeToString(payload)

	data, contentType, err := decodeScriptResult(encoded)
	require.NoError(t, err)
	require.Equal(t, payload, data)
	require.Equal(t, "application/pdf", contentType)
}

func TestDecodeScriptResult_EmptyContentType(t *testing.T) {
	t.Parallel()

	payload := []byte{0x01, 0x02, 0x03}
	encoded := "CT:;B64:" + base64.StdEncoding.EncodeToString(payload)

	data, contentType, err := decodeScriptResult(encoded)
	require.NoError(t, err)
	require.Equal(t, payload, data)
	require.Empty(t, contentType)
}

func TestDecodeScriptResult_StatusSentinel(t *testing.T) {
	t.Parallel()

	_, _, err := decodeScriptResult("ERR:404")
	require.Error(t, err)
	require.True(t, harvest.IsPermanent(err))

	_, _, err = decodeScriptResult("ERR:503")
	require.Error(t, err)
	require.False(t, harvest.IsPermanent(err))
}

func TestDecodeScriptResult_Garbage(t *testing.T) {
	t.Parallel()

	for _, result := range []string{
		"",
		"unexpected",
		"ERR:not-a-code",
		"CT:application/pdf", // missing payload marker
		"CT:application/pdf;B64:!!!not base64!!!",
	} {
		_, _, err := decodeScriptResult(result)
		require.Error(t, err, "result %q", result)
		require.False(t, harvest.IsPermanent(err), "result %q", result)
	}
}
