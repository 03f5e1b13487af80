package harvest

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ArtifactRelPath derives the output path for an item relative to the output
// directory. The derivation is a pure function of the item, so repeated and
// concurrent runs always land on the same file.
func ArtifactRelPath(item WorkItem) string {
	name := DeriveFilename(item)
	category := invalidFilenameChars.ReplaceAllString(item.Category, "_")
	if category == "" {
		return name
	}
	return path.Join(category, name)
}

// DeriveFilename builds a deterministic filename from the suggested name
// (publication number, title) when present, otherwise from the URL itself.
// A short URL hash suffix keeps distinct documents with identical titles
// from colliding.
func DeriveFilename(item WorkItem) string {
	ext := extensionFor(item.DocKind)
	base := sanitizeName(item.SuggestedName)
	if base == "" {
		base = safeBasename(item.URL)
	} else {
		base = fmt.Sprintf("%s_%s", base, hashURL(item.URL)[:8])
	}
	return base + ext
}

// DocKindForURL infers the expected artifact kind from the URL's extension.
// PDF is the preferred kind; anything unrecognized is validated as PDF.
func DocKindForURL(raw string) DocKind {
	lower := strings.ToLower(raw)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	switch path.Ext(lower) {
	case ".doc", ".docx":
		return DocWord
	case ".xls", ".xlsx", ".csv":
		return DocSpreadsheet
	case ".zip":
		return DocArchive
	default:
		return DocPDF
	}
}

func extensionFor(kind DocKind) string {
	switch kind {
	case DocWord:
		return ".docx"
	case DocSpreadsheet:
		return ".xlsx"
	case DocArchive:
		return ".zip"
	default:
		return ".pdf"
	}
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if len(name) > 80 {
		name = name[:80]
	}
	name = strings.ReplaceAll(name, " ", "_")
	name = invalidFilenameChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._-")
}

func safeBasename(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return hashURL(raw)
	}
	host := invalidFilenameChars.ReplaceAllString(u.Hostname(), "_")
	p := strings.Trim(u.EscapedPath(), "/")
	if p == "" {
		p = "root"
	}
	p = invalidFilenameChars.ReplaceAllString(p, "_")
	if len(p) > 60 {
		p = p[len(p)-60:]
	}
	return fmt.Sprintf("%s_%s_%s", host, p, hashURL(raw)[:16])
}

func hashURL(raw string) string {
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
