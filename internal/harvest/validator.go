package harvest

import (
	"bytes"
	"strings"
)

// DefaultMinArtifactBytes rejects error-page HTML mistakenly saved under a
// document name; real publications are never this small.
const DefaultMinArtifactBytes = 1000

var (
	pdfMagic     = []byte("%PDF")
	htmlPrefixes = [][]byte{
		[]byte("<!DOCTYPE"),
		[]byte("<!doctype"),
		[]byte("<html"),
		[]byte("<HTML"),
	}
)

// Validator judges whether a byte blob is an acceptable final artifact.
// Validation is a pure function of its inputs; the zero value uses
// DefaultMinArtifactBytes.
type Validator struct {
	MinBytes int
}

// Validate returns nil when data is acceptable for the given kind, or a
// *ValidationError describing the rejection. contentType may be "" when the
// strategy that produced the bytes has no header to report.
func (v Validator) Validate(data []byte, kind DocKind, contentType string) error {
	min := v.MinBytes
	if min <= 0 {
		min = DefaultMinArtifactBytes
	}
	if len(data) <= min {
		return &ValidationError{Reason: "below minimum size"}
	}

	switch kind {
	case DocPDF:
		if !bytes.HasPrefix(data, pdfMagic) {
			return &ValidationError{Reason: "missing %PDF signature"}
		}
	default:
		// Non-PDF kinds only get the size gate plus a content-type
		// cross-check; an HTML body is always an error page in disguise.
		if looksLikeHTML(data) {
			return &ValidationError{Reason: "html body served instead of document"}
		}
		if contentType != "" && strings.HasPrefix(strings.ToLower(contentType), "text/html") {
			return &ValidationError{Reason: "content type text/html"}
		}
	}
	return nil
}

func looksLikeHTML(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	for _, p := range htmlPrefixes {
		if bytes.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}
