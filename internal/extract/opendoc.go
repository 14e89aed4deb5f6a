package extract

import (
	"fmt"

	"github.com/lu4p/cat"
)

// extractOpenDocument reads .odt and .rtf files.
func extractOpenDocument(content []byte, ext string) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", ext, err)
	}
	return text, nil
}
