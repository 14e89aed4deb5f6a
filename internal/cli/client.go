package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/kbsearch/internal/dashboard"
	"github.com/hyperjump/kbsearch/internal/indexer"
	"github.com/hyperjump/kbsearch/internal/models"
)

// Client calls the HTTP API of a running server. Commands use it when --server is set so
// they do not contend with the server for the database and keyword index locks.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		var body struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &body) == nil && body.Error != "" {
			msg = body.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// Search runs a similarity search.
func (c *Client) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out models.SearchResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Keyword runs a keyword search.
func (c *Client) Keyword(ctx context.Context, query string, kind models.Kind, limit int) ([]*models.KeywordResult, error) {
	v := url.Values{"q": {query}}
	if kind != "" {
		v.Set("kind", string(kind))
	}
	if limit > 0 {
		v.Set("limit", fmt.Sprint(limit))
	}
	var out struct {
		Results []*models.KeywordResult `json:"results"`
	}
	if err := c.get(ctx, "/api/v1/keyword?"+v.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Status returns the server status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.get(ctx, "/api/v1/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Statistics returns dashboard statistics.
func (c *Client) Statistics(ctx context.Context) (*dashboard.Statistics, error) {
	var out dashboard.Statistics
	if err := c.get(ctx, "/api/v1/dashboard/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a document.
func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/documents/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Upload sends the file at path to the uploads endpoint.
func (c *Client) Upload(ctx context.Context, path string, kind models.Kind) (*indexer.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("kind", string(kind)); err != nil {
		return nil, err
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/uploads", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out indexer.Summary
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
