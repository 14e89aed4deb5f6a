package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("Hello world\nLine 2\n"), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello world\nLine 2", got.Text)
	assert.Equal(t, "notes", got.Title)
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("hello\x80world"), "a.rst")
	require.NoError(t, err)
	assert.Equal(t, "hello\uFFFDworld", got.Text)
}

func TestExtractBytes_markdownTitle(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("intro line\n# Reset your VPN token\n\nSteps..."), "vpn.md")
	require.NoError(t, err)
	assert.Equal(t, "Reset your VPN token", got.Title)
}

func TestExtractBytes_unknownExtension(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("raw content"), "file.xyz")
	require.NoError(t, err)
	assert.Equal(t, "raw content", got.Text)
}

func TestExtractBytes_html(t *testing.T) {
	page := `<html><head><title>Printer offline</title></head><body>
<nav><a href="/">Home</a></nav>
<article><h1>Printer offline</h1>
<p>When the office printer shows as offline, restart the print spooler service and then
reconnect the printer from the settings page. If the printer still shows offline, check
that it has a valid network address and that the driver matches the printer model.</p>
<p>Contact the service desk if the problem persists after a restart of the workstation.</p>
</article></body></html>`
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte(page), "printer.html")
	require.NoError(t, err)
	assert.Equal(t, "Printer offline", got.Title)
	assert.Contains(t, got.Text, "restart the print spooler service")
	assert.NotContains(t, got.Text, "<p>")
}

func TestExtract_file(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "password_reset.txt")
	require.NoError(t, os.WriteFile(path, []byte("File content"), 0600))

	got, err := NewExtractor().Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "File content", got.Text)
	assert.Equal(t, "password reset", got.Title)
}

func TestExtract_nonexistent(t *testing.T) {
	_, err := NewExtractor().Extract("/nonexistent/path/file.txt")
	assert.Error(t, err)
}

func TestExtractBytes_invalidPDF(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("not a pdf"), "broken.pdf")
	assert.Error(t, err)
}

func TestTitleFromName(t *testing.T) {
	assert.Equal(t, "reset vpn token", TitleFromName("/tmp/reset_vpn-token.md"))
	assert.Equal(t, "KB0001", TitleFromName("KB0001.docx"))
}

func docxDocument(paragraphs ...string) string {
	var b strings.Builder
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		b.WriteString(`<w:p w:rsidR="00AB12"><w:pPr><w:pStyle w:val="Normal"/></w:pPr><w:r><w:t xml:space="preserve">` + p + `</w:t></w:r></w:p>`)
	}
	b.WriteString(`</w:body></w:document>`)
	return b.String()
}

func zipFiles(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractBytes_docx(t *testing.T) {
	content := zipFiles(t, map[string]string{
		"word/document.xml": docxDocument("First paragraph", "Second paragraph"),
	})
	got, err := NewExtractor().ExtractBytes(content, "guide.docx")
	require.NoError(t, err)
	assert.Equal(t, "First paragraph\nSecond paragraph", got.Text)
}

func TestExtractBytes_docxContentTypesOverride(t *testing.T) {
	for name, override := range map[string]string{
		"part name first":    `<Override PartName="/word/document2.xml" ContentType="` + docxMainType + `"/>`,
		"content type first": `<Override ContentType="` + docxMainType + `" PartName="/word/document2.xml"/>`,
	} {
		t.Run(name, func(t *testing.T) {
			content := zipFiles(t, map[string]string{
				docxContentTypes:     `<?xml version="1.0"?><Types>` + override + `</Types>`,
				"word/document2.xml": docxDocument("Content from document2"),
			})
			got, err := NewExtractor().ExtractBytes(content, "guide.docx")
			require.NoError(t, err)
			assert.Equal(t, "Content from document2", got.Text)
		})
	}
}

func TestExtractBytes_docxNotZip(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("plain"), "x.docx")
	assert.Error(t, err)
}
