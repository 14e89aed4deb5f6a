package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/config"
	"github.com/hyperjump/kbsearch/internal/dashboard"
	"github.com/hyperjump/kbsearch/internal/embedding"
	"github.com/hyperjump/kbsearch/internal/indexer"
	"github.com/hyperjump/kbsearch/internal/keyword"
	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/search"
	"github.com/hyperjump/kbsearch/internal/storage"
	"github.com/hyperjump/kbsearch/internal/upload"
	"github.com/hyperjump/kbsearch/internal/watcher"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
	multipartMemory  = 32 << 20
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if query.K == 0 {
		query.K = s.config.Search.DefaultK
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("k", query.K))
	response, err := s.engine.Query(r.Context(), &query, s.config.Search.MaxK, s.storage)
	if err != nil {
		s.fail(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleKeywordSearch(w http.ResponseWriter, r *http.Request) {
	if s.keyword == nil {
		s.respondError(w, http.StatusNotImplemented, "keyword search not enabled")
		return
	}
	q := r.URL.Query()
	kind, err := optionalKind(q.Get("kind"))
	if err != nil {
		s.fail(w, "keyword search failed", err)
		return
	}
	limit, err := intParam(q.Get("limit"), keyword.DefaultLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	results, err := s.keyword.Search(r.Context(), q.Get("q"), kind, limit)
	if err != nil {
		s.fail(w, "keyword search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"query":   q.Get("q"),
		"results": results,
		"total":   len(results),
	})
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("index document request", zap.String("id", input.ID), zap.String("kind", string(input.Kind)))
	res, err := s.indexer.IndexDocument(r.Context(), &input)
	if err != nil {
		s.fail(w, "indexing failed", err)
		return
	}
	status := http.StatusOK
	if res.Status == indexer.StatusCreated {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, map[string]interface{}{
		"id":       res.Document.ID,
		"status":   res.Status,
		"document": res.Document,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := optionalKind(q.Get("kind"))
	if err != nil {
		s.fail(w, "list documents failed", err)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := intParam(q.Get("limit"), defaultListLimit)
	if err != nil || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	ctx := r.Context()
	docs, err := s.storage.ListDocuments(ctx, storage.ListOptions{Kind: kind, Offset: offset, Limit: limit})
	if err != nil {
		s.fail(w, "list documents failed", err)
		return
	}
	total, err := s.storage.CountDocuments(ctx, kind)
	if err != nil {
		s.fail(w, "count documents failed", err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"total":     total,
		"offset":    offset,
		"limit":     limit,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		s.fail(w, "get document failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.indexer.DeleteDocument(r.Context(), id); err != nil {
		s.fail(w, "deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if max := s.config.Upload.MaxBytes; max > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, max+multipartMemory/32)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.respondError(w, http.StatusRequestEntityTooLarge, upload.ErrTooLarge.Error())
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	kind := models.KindArticle
	if v := r.FormValue("kind"); v != "" {
		if kind, err = models.ParseKind(v); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.logger.Debug("upload request",
		zap.String("name", header.Filename),
		zap.Int64("size", header.Size),
		zap.String("kind", string(kind)))
	if err := upload.CheckSize(header.Size, s.config.Upload.MaxBytes); err != nil {
		s.fail(w, "upload rejected", err)
		return
	}
	batch, err := s.indexer.IndexUpload(r.Context(), header.Filename, file, kind)
	if err != nil {
		s.fail(w, "upload failed", err)
		return
	}
	status := http.StatusOK
	if len(batch.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	s.respondJSON(w, status, batch.Summarize(header.Filename, kind))
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.dashboard.Statistics(r.Context())
	if err != nil {
		s.fail(w, "dashboard statistics failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDailyTickets(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"), dashboard.DefaultDays)
	if err != nil || days <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid days")
		return
	}
	counts, err := s.dashboard.DailyTicketCounts(r.Context(), days)
	if err != nil {
		s.fail(w, "daily ticket counts failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"days": days, "counts": counts})
}

func (s *Server) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := models.KindArticle
	if v := q.Get("kind"); v != "" {
		k, err := models.ParseKind(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = k
	}
	limit, err := intParam(q.Get("limit"), dashboard.DefaultMatrixLimit)
	if err != nil || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	m, err := s.dashboard.SimilarityMatrix(r.Context(), kind, limit)
	if err != nil {
		s.fail(w, "similarity matrix failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := models.KindArticle
	if v := q.Get("kind"); v != "" {
		k, err := models.ParseKind(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = k
	}
	dims, err := intParam(q.Get("dims"), 2)
	if err != nil || (dims != 2 && dims != 3) {
		s.respondError(w, http.StatusBadRequest, dashboard.ErrInvalidDims.Error())
		return
	}
	limit, err := intParam(q.Get("limit"), dashboard.DefaultProjectionLimit)
	if err != nil || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	p, err := s.dashboard.Projection(r.Context(), kind, dims, limit)
	if err != nil {
		s.fail(w, "projection failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.storage.CountDocuments(ctx, "")
	if err != nil {
		s.fail(w, "status: count documents failed", err)
		return
	}
	resp := map[string]interface{}{
		"documents": docCount,
		"engine":    s.engine.Stats(),
	}
	if s.keyword != nil {
		if n, err := s.keyword.DocCount(); err == nil {
			resp["keyword_documents"] = n
		}
	}
	resp["config"] = s.config.Summary()
	if s.watch != nil {
		resp["watch_directories"] = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string      `json:"path"`
	Kind models.Kind `json:"kind"`
	Sync *bool       `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	kind := models.KindArticle
	if req.Kind != "" {
		k, err := models.ParseKind(string(req.Kind))
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = k
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.String("kind", string(kind)))
	if err := s.watch.AddDirectory(watcher.Root{Path: abs, Kind: kind}, syncExisting); err != nil {
		s.fail(w, "watch add directory failed", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "kind": string(kind), "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.fail(w, "watch remove directory failed", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories writes the current watch roots back to the config file.
func (s *Server) persistWatchDirectories() {
	s.watchConfigMu.Lock()
	defer s.watchConfigMu.Unlock()
	roots := s.watch.Directories()
	dirs := make([]config.WatchDirectory, 0, len(roots))
	for _, root := range roots {
		dirs = append(dirs, config.WatchDirectory{Path: root.Path, Kind: string(root.Kind)})
	}
	s.config.Watch.Directories = dirs
	if s.configPath == "" {
		return
	}
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func optionalKind(v string) (models.Kind, error) {
	if v == "" {
		return "", nil
	}
	k, err := models.ParseKind(v)
	if err != nil {
		return "", &models.FieldError{Field: "kind", Message: err.Error()}
	}
	return k, nil
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var (
		fe *models.FieldError
		ve *upload.ValidationError
		pe *embedding.ProviderError
	)
	switch {
	case errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, search.ErrEmptyContent),
		errors.Is(err, keyword.ErrEmptyQuery),
		errors.Is(err, upload.ErrUnsupportedFormat),
		errors.Is(err, upload.ErrNoRows),
		errors.Is(err, indexer.ErrTicketFile),
		errors.As(err, &fe),
		errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &pe):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail logs err and writes it with the status it maps to. Client errors log at debug.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
