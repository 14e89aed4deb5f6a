// Package upload parses bulk article and ticket spreadsheets (CSV or XLSX) into document
// inputs, validating every row before anything is indexed.
package upload

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/kbsearch/internal/models"
)

// Column headers expected in article uploads.
const (
	ColArticleNumber = "KB Article #"
	ColVersion       = "Version"
	ColCategory      = "Category"
	ColTitle         = "Title"
	ColIntroduction  = "Introduction"
	ColInstructions  = "Instructions"
	ColKeywords      = "Keywords"
)

// Column headers expected in ticket uploads.
const (
	ColTrackingIndex             = "tracking_index"
	ColDescription               = "Description"
	ColCloseNotes                = "Close Notes"
	ColSummary                   = "summarize_ticket"
	ColQuality                   = "ticket_quality"
	ColUserProficiency           = "user_proficiency_level"
	ColPotentialImpact           = "potential_impact"
	ColResolutionAppropriateness = "resolution_appropriateness"
	ColPotentialRootCause        = "potential_root_cause"
)

var (
	// ArticleColumns are required in article uploads.
	ArticleColumns = []string{ColArticleNumber, ColVersion, ColCategory, ColTitle, ColIntroduction, ColInstructions, ColKeywords}
	// TicketColumns are required in ticket uploads. models.TicketExplanationColumns are optional.
	TicketColumns = []string{ColTrackingIndex, ColDescription, ColCloseNotes, ColSummary, ColQuality,
		ColUserProficiency, ColPotentialImpact, ColResolutionAppropriateness, ColPotentialRootCause}
)

var (
	ErrUnsupportedFormat = errors.New("unsupported upload format (expected .csv or .xlsx)")
	ErrTooLarge          = errors.New("upload exceeds the size limit")
	ErrNoRows            = errors.New("upload contains no data rows")
)

// ValidationError reports a bad header or cell. Row is the 1-based spreadsheet row
// (the header is row 1); Column is empty when the whole row is at fault.
type ValidationError struct {
	Row     int
	Column  string
	Message string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Column == "":
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	default:
		return fmt.Sprintf("row %d, column %q: %s", e.Row, e.Column, e.Message)
	}
}

// CheckSize returns ErrTooLarge when size exceeds max. max <= 0 disables the check.
func CheckSize(size, max int64) error {
	if max > 0 && size > max {
		return fmt.Errorf("%w: %d bytes > %.2f MiB", ErrTooLarge, size, float64(max)/(1<<20))
	}
	return nil
}

// Supported reports whether name has an upload extension.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// Parse reads a .csv or .xlsx upload, choosing the parser from name's extension.
func Parse(name string, r io.Reader, kind models.Kind) ([]*models.DocumentInput, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return ParseCSV(r, kind)
	case ".xlsx":
		return ParseXLSX(r, kind)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

// ParseCSV reads a CSV upload whose first record is the header.
func ParseCSV(r io.Reader, kind models.Kind) ([]*models.DocumentInput, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV: %w", err)
	}
	return parseRecords(records, kind)
}

// ParseXLSX reads the first sheet of an XLSX upload; its first row is the header.
func ParseXLSX(r io.Reader, kind models.Kind) ([]*models.DocumentInput, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open XLSX: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoRows
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return parseRecords(rows, kind)
}

// table maps header names (case-insensitive) to column positions.
type table struct {
	cols map[string]int
}

func newTable(header []string) table {
	t := table{cols: make(map[string]int, len(header))}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		key := strings.ToLower(h)
		if _, dup := t.cols[key]; !dup {
			t.cols[key] = i
		}
	}
	return t
}

func (t table) has(col string) bool {
	_, ok := t.cols[strings.ToLower(col)]
	return ok
}

func (t table) get(row []string, col string) string {
	i, ok := t.cols[strings.ToLower(col)]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t table) missing(required []string) []string {
	var out []string
	for _, c := range required {
		if !t.has(c) {
			out = append(out, c)
		}
	}
	return out
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseRecords(records [][]string, kind models.Kind) ([]*models.DocumentInput, error) {
	if len(records) == 0 {
		return nil, ErrNoRows
	}
	required := ArticleColumns
	if kind == models.KindTicket {
		required = TicketColumns
	} else if kind != models.KindArticle {
		return nil, fmt.Errorf("upload: unknown kind %q", kind)
	}

	t := newTable(records[0])
	if missing := t.missing(required); len(missing) > 0 {
		return nil, &ValidationError{Row: 1, Message: fmt.Sprintf("missing required columns for %s: %s", kind, strings.Join(missing, ", "))}
	}

	var out []*models.DocumentInput
	for i, row := range records[1:] {
		if blank(row) {
			continue
		}
		rowNum := i + 2
		var (
			in  *models.DocumentInput
			err error
		)
		if kind == models.KindTicket {
			in, err = ticketRow(t, row, rowNum)
		} else {
			in, err = articleRow(t, row, rowNum)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	if len(out) == 0 {
		return nil, ErrNoRows
	}
	return out, nil
}

var articleFieldColumns = map[string]string{
	"number":  ColArticleNumber,
	"version": ColVersion,
	"title":   ColTitle,
}

var ticketFieldColumns = map[string]string{
	"tracking_index":         ColTrackingIndex,
	"description":            ColDescription,
	"ticket_quality":         ColQuality,
	"user_proficiency_level": ColUserProficiency,
	"potential_impact":       ColPotentialImpact,
}

// rowError converts a model validation failure into a ValidationError for the row.
func rowError(err error, row int, columns map[string]string) error {
	var fe *models.FieldError
	if errors.As(err, &fe) {
		return &ValidationError{Row: row, Column: columns[fe.Field], Message: fe.Message}
	}
	return &ValidationError{Row: row, Message: err.Error()}
}

// normalizeVersion turns a spreadsheet number such as "2" into "2.0".
func normalizeVersion(v string) string {
	if v == "" {
		return v
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return v
		}
	}
	return v + ".0"
}

func articleRow(t table, row []string, rowNum int) (*models.DocumentInput, error) {
	a := &models.ArticleFields{
		Number:       strings.ToUpper(t.get(row, ColArticleNumber)),
		Version:      normalizeVersion(t.get(row, ColVersion)),
		Category:     t.get(row, ColCategory),
		Title:        t.get(row, ColTitle),
		Introduction: t.get(row, ColIntroduction),
		Instructions: t.get(row, ColInstructions),
		Keywords:     t.get(row, ColKeywords),
	}
	if a.Number == "" {
		return nil, &ValidationError{Row: rowNum, Column: ColArticleNumber, Message: "must not be empty"}
	}
	if a.Version == "" {
		return nil, &ValidationError{Row: rowNum, Column: ColVersion, Message: "must not be empty"}
	}
	if err := a.Validate(); err != nil {
		return nil, rowError(err, rowNum, articleFieldColumns)
	}
	return &models.DocumentInput{Kind: models.KindArticle, Article: a}, nil
}

func ticketRow(t table, row []string, rowNum int) (*models.DocumentInput, error) {
	tf := &models.TicketFields{
		TrackingIndex:             strings.ToUpper(t.get(row, ColTrackingIndex)),
		Description:               t.get(row, ColDescription),
		CloseNotes:                t.get(row, ColCloseNotes),
		Summary:                   t.get(row, ColSummary),
		Quality:                   t.get(row, ColQuality),
		UserProficiency:           t.get(row, ColUserProficiency),
		PotentialImpact:           t.get(row, ColPotentialImpact),
		ResolutionAppropriateness: t.get(row, ColResolutionAppropriateness),
		PotentialRootCause:        t.get(row, ColPotentialRootCause),
	}
	for _, col := range models.TicketExplanationColumns {
		if v := t.get(row, col); v != "" {
			if tf.Explanations == nil {
				tf.Explanations = make(map[string]string)
			}
			tf.Explanations[col] = v
		}
	}
	if err := tf.Validate(); err != nil {
		return nil, rowError(err, rowNum, ticketFieldColumns)
	}
	return &models.DocumentInput{Kind: models.KindTicket, Ticket: tf}, nil
}
