package harvest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArtifactRelPath_Deterministic(t *testing.T) {
	t.Parallel()

	item := WorkItem{
		URL:           "https://example.gov/docs/report.pdf",
		DocKind:       DocPDF,
		SuggestedName: "Annual Report 2025",
		Category:      "reports",
	}

	first := ArtifactRelPath(item)
	require.Equal(t, first, ArtifactRelPath(item))
	require.True(t, strings.HasPrefix(first, "reports/"))
	require.True(t, strings.HasSuffix(first, ".pdf"))
}

func TestArtifactRelPath_NoCategory(t *testing.T) {
	t.Parallel()

	item := WorkItem{URL: "https://example.gov/a.pdf", DocKind: DocPDF}
	require.NotContains(t, ArtifactRelPath(item), "/")
}

func TestDeriveFilename_SanitizesSuggestedName(t *testing.T) {
	t.Parallel()

	item := WorkItem{
		URL:           "https://example.gov/docs/1",
		DocKind:       DocPDF,
		SuggestedName: `Budget: FY 2025/2026 "final"`,
	}
	name := DeriveFilename(item)

	require.NotContains(t, name, "/")
	require.NotContains(t, name, ":")
	require.NotContains(t, name, `"`)
	require.True(t, strings.HasSuffix(name, ".pdf"))
}

func TestDeriveFilename_DistinctURLsSameTitle(t *testing.T) {
	t.Parallel()

	a := WorkItem{URL: "https://example.gov/1", DocKind: DocPDF, SuggestedName: "Report"}
	b := WorkItem{URL: "https://example.gov/2", DocKind: DocPDF, SuggestedName: "Report"}
	require.NotEqual(t, DeriveFilename(a), DeriveFilename(b))
}

func TestDeriveFilename_FallsBackToURL(t *testing.T) {
	t.Parallel()

	item := WorkItem{URL: "https://example.gov/files/form%2010.pdf", DocKind: DocPDF}
	name := DeriveFilename(item)

	require.Contains(t, name, "example.gov")
	require.True(t, strings.HasSuffix(name, ".pdf"))
	require.NotContains(t, name, "%")
}

func TestDocKindForURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, DocPDF, DocKindForURL("https://x.gov/a.pdf"))
	require.Equal(t, DocPDF, DocKindForURL("https://x.gov/a.PDF?download=1"))
	require.Equal(t, DocWord, DocKindForURL("https://x.gov/a.docx"))
	require.Equal(t, DocWord, DocKindForURL("https://x.gov/a.doc#page=2"))
	require.Equal(t, DocSpreadsheet, DocKindForURL("https://x.gov/a.xlsx"))
	require.Equal(t, DocSpreadsheet, DocKindForURL("https://x.gov/a.csv"))
	require.Equal(t, DocArchive, DocKindForURL("https://x.gov/a.zip"))
	// Extensionless links are treated as PDFs, the dominant kind.
	require.Equal(t, DocPDF, DocKindForURL("https://x.gov/download?id=42"))
}

func TestExtensionMatchesKind(t *testing.T) {
	t.Parallel()

	require.Equal(t, ".docx", extensionFor(DocWord))
	require.Equal(t, ".xlsx", extensionFor(DocSpreadsheet))
	require.Equal(t, ".zip", extensionFor(DocArchive))
	require.Equal(t, ".pdf", extensionFor(DocPDF))
}
