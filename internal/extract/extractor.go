// Package extract turns article files into a title and plain text body.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Result is the text extracted from one article file.
type Result struct {
	Title string
	Text  string
}

// Extensions lists the article file types Extract understands. Anything else is read as
// plain text.
var Extensions = []string{".txt", ".md", ".rst", ".html", ".htm", ".pdf", ".docx", ".odt", ".rtf"}

// Extractor extracts article text from files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its title and text.
func (e *Extractor) Extract(path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Base(path))
}

// ExtractBytes extracts text from content; name supplies the extension and the fallback title.
func (e *Extractor) ExtractBytes(content []byte, name string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(name))
	var (
		res *Result
		err error
	)
	switch ext {
	case ".html", ".htm":
		res, err = extractHTML(content, name)
	case ".pdf":
		res, err = textResult(extractPDF(content))
	case ".docx":
		res, err = textResult(extractDOCX(content))
	case ".odt", ".rtf":
		res, err = textResult(extractOpenDocument(content, ext))
	case ".md":
		res, err = textResult(extractPlain(content))
		if err == nil {
			res.Title = markdownTitle(res.Text)
		}
	default:
		res, err = textResult(extractPlain(content))
	}
	if err != nil {
		return nil, err
	}
	res.Text = strings.TrimSpace(res.Text)
	if res.Title == "" {
		res.Title = TitleFromName(name)
	}
	return res, nil
}

func textResult(text string, err error) (*Result, error) {
	if err != nil {
		return nil, err
	}
	return &Result{Text: text}, nil
}

// markdownTitle returns the first level-one heading, if any.
func markdownTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// TitleFromName derives a title from a file name: the extension is dropped and
// separators become spaces ("reset_vpn-token.md" -> "reset vpn token").
func TitleFromName(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	fields := strings.FieldsFunc(base, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
