package extract

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/go-shiori/go-readability"
)

// extractHTML keeps the readable part of an HTML page and its title.
func extractHTML(content []byte, name string) (*Result, error) {
	article, err := readability.FromReader(bytes.NewReader(content), &url.URL{Scheme: "file", Path: "/" + name})
	if err != nil {
		return nil, fmt.Errorf("extract HTML: %w", err)
	}
	return &Result{Title: article.Title, Text: article.TextContent}, nil
}
