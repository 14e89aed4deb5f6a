package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultPart  = "word/document.xml"
	docxContentTypes = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// Paragraphs may carry attributes (<w:p w:rsidR="...">), so lu4p/cat's plain <w:p> match is not enough.
	docxParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	docxRun       = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	docxOverride  = regexp.MustCompile(`<Override[^>]*>`)
	docxPartName  = regexp.MustCompile(`PartName="/?([^"]+)"`)
)

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, nil
}

// docxMainPart finds the main document part from [Content_Types].xml; some generators
// write word/document2.xml instead of the default.
func docxMainPart(zr *zip.Reader) string {
	ct, err := readZipFile(zr, docxContentTypes)
	if err != nil || ct == nil {
		return docxDefaultPart
	}
	for _, override := range docxOverride.FindAll(ct, -1) {
		if !bytes.Contains(override, []byte(`ContentType="`+docxMainType+`"`)) {
			continue
		}
		if m := docxPartName.FindSubmatch(override); m != nil {
			return string(m[1])
		}
	}
	return docxDefaultPart
}

// extractDOCX joins the w:t runs of each paragraph; paragraphs are separated by newlines.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	part := docxMainPart(zr)
	doc, err := readZipFile(zr, part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: read %s: %w", part, err)
	}
	if doc == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", part)
	}

	var lines []string
	for _, p := range docxParagraph.FindAll(doc, -1) {
		var b strings.Builder
		for _, run := range docxRun.FindAllSubmatch(p, -1) {
			b.Write(run[1])
		}
		if line := strings.TrimSpace(b.String()); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
