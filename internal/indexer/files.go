package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/fileid"
	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/upload"
)

// ErrTicketFile is returned when a non-spreadsheet file is ingested as tickets.
var ErrTicketFile = errors.New("tickets can only be ingested from .csv or .xlsx files")

// IndexFile indexes the file at path. CSV and XLSX files hold one document per row of
// the given kind; any other file becomes a single article whose id is the KB number in
// its name or, failing that, derived from the absolute path.
func (idx *Indexer) IndexFile(ctx context.Context, path string, kind models.Kind) (*BatchResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	if err := upload.CheckSize(info.Size(), idx.maxBytes); err != nil {
		return nil, err
	}
	idx.logger.Debug("indexer indexing file", zap.String("path", absPath), zap.String("kind", string(kind)))

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	return idx.indexContent(ctx, absPath, f, kind, fileid.FileDocID(absPath))
}

// IndexUpload indexes a file received from a client. name is the client file name; it
// picks the parser and, for articles, supplies the KB number and fallback title. Articles
// without a KB number in the name get a generated id.
func (idx *Indexer) IndexUpload(ctx context.Context, name string, r io.Reader, kind models.Kind) (*BatchResult, error) {
	limit := idx.maxBytes
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := upload.CheckSize(int64(len(content)), limit); err != nil {
		return nil, err
	}
	idx.logger.Debug("indexer indexing upload",
		zap.String("name", name),
		zap.String("kind", string(kind)),
		zap.Int("bytes", len(content)))
	return idx.indexContent(ctx, filepath.Base(name), bytes.NewReader(content), kind, "")
}

func (idx *Indexer) indexContent(ctx context.Context, source string, r io.Reader, kind models.Kind, id string) (*BatchResult, error) {
	if upload.Supported(source) {
		inputs, err := upload.Parse(source, r, kind)
		if err != nil {
			return nil, err
		}
		for _, in := range inputs {
			in.Source = source
		}
		return idx.IndexDocuments(ctx, inputs), nil
	}

	if kind == models.KindTicket {
		return nil, ErrTicketFile
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", source, err)
	}
	res, err := idx.extractor.ExtractBytes(content, filepath.Base(source))
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	input := &models.DocumentInput{
		ID:     id,
		Kind:   models.KindArticle,
		Source: source,
		Article: &models.ArticleFields{
			Number:       fileid.ArticleNumber(source),
			Title:        res.Title,
			Instructions: res.Text,
		},
	}
	result, err := idx.IndexDocument(ctx, input)
	if err != nil {
		return nil, err
	}
	batch := &BatchResult{}
	batch.add(result)
	return batch, nil
}

// IndexDirectory walks dir recursively and indexes each regular file whose extension
// is in allowedExts (all files when allowedExts is empty). Returns the number of files
// indexed and the combined errors of the files that failed.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string, kind models.Kind, allowedExts []string) (int, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}

	var (
		n    int
		errs []error
	)
	walkErr := filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !ExtensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		// Resolve symlinks so we only index regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		batch, err := idx.IndexFile(ctx, path, kind)
		if err == nil {
			err = batch.Err()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		n++
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	return n, errors.Join(errs...)
}

// ExtensionAllowed reports whether ext is in allowed (case-insensitive, leading dot
// optional). An empty allowed list accepts everything.
func ExtensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
