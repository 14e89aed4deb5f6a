// Package fileid derives stable document IDs for article files that carry no KB number.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
)

const prefix = "file:"

var articleNumber = regexp.MustCompile(`(?i)(?:^|[^a-z0-9])(kb\d+)(?:[^0-9]|$)`)

// FileDocID returns a stable document ID for path. The path is made absolute and cleaned
// first, so the same file always maps to the same ID and re-ingesting it replaces the
// earlier document.
func FileDocID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return prefix + hex.EncodeToString(sum[:12])
}

// IsFileDocID reports whether id was produced by FileDocID.
func IsFileDocID(id string) bool {
	return strings.HasPrefix(id, prefix) && len(id) == len(prefix)+24
}

// ArticleNumber returns the KB number embedded in a file name ("KB0042-vpn.pdf" -> "KB0042"),
// or "" if there is none.
func ArticleNumber(path string) string {
	base := filepath.Base(path)
	m := articleNumber.FindStringSubmatch(strings.TrimSuffix(base, filepath.Ext(base)))
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}
