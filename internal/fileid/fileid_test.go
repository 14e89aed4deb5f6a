package fileid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileDocID(t *testing.T) {
	id1 := FileDocID("/foo/bar.txt")
	assert.Equal(t, id1, FileDocID("/foo/bar.txt"))
	assert.True(t, IsFileDocID(id1), id1)
	assert.NotEqual(t, id1, FileDocID("/foo/baz.txt"))
}

func TestFileDocID_normalized(t *testing.T) {
	id := FileDocID("/foo/bar")
	assert.Equal(t, id, FileDocID("/foo/bar/"))
	assert.Equal(t, id, FileDocID("/foo/./bar"))
}

func TestFileDocID_relativeResolvedAgainstWorkingDir(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, FileDocID(filepath.Join(wd, "a", "b.txt")), FileDocID("a/b.txt"))
}

func TestIsFileDocID(t *testing.T) {
	assert.False(t, IsFileDocID("KB0001"))
	assert.False(t, IsFileDocID("file:abc"))
}

func TestArticleNumber(t *testing.T) {
	cases := map[string]string{
		"/inbox/KB0042-vpn.pdf":      "KB0042",
		"kb17_printer.docx":          "KB17",
		"/inbox/notes.md":            "",
		"/inbox/KBX-not-a-number.md": "",
	}
	for path, want := range cases {
		assert.Equal(t, want, ArticleNumber(path), path)
	}
}
