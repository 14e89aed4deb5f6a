// Package models defines the documents the service stores and searches: KB articles and
// support tickets, plus the request and response shapes shared by the API and CLI.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kbsearch/pkg/utils"
)

// Kind tags a Document as an article or a ticket.
type Kind string

const (
	KindArticle Kind = "article"
	KindTicket  Kind = "ticket"
)

// Kinds lists every document kind.
var Kinds = []Kind{KindArticle, KindTicket}

// ParseKind accepts "article", "kb_article", "kb", "ticket" or "tickets" (case-insensitive).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "article", "articles", "kb_article", "kb":
		return KindArticle, nil
	case "ticket", "tickets":
		return KindTicket, nil
	}
	return "", fmt.Errorf("unknown document kind %q (expected article or ticket)", s)
}

// ArticleFields are the attributes of a KB article.
type ArticleFields struct {
	Number       string `json:"number,omitempty"`
	Version      string `json:"version,omitempty"`
	Category     string `json:"category,omitempty"`
	Title        string `json:"title"`
	Introduction string `json:"introduction,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Keywords     string `json:"keywords,omitempty"`
}

// TicketFields are the attributes of an analysed support ticket.
type TicketFields struct {
	TrackingIndex             string            `json:"tracking_index"`
	Description               string            `json:"description"`
	CloseNotes                string            `json:"close_notes"`
	Summary                   string            `json:"summary"`
	Quality                   string            `json:"quality"`
	UserProficiency           string            `json:"user_proficiency"`
	PotentialImpact           string            `json:"potential_impact"`
	ResolutionAppropriateness string            `json:"resolution_appropriateness"`
	PotentialRootCause        string            `json:"potential_root_cause"`
	Explanations              map[string]string `json:"explanations,omitempty"`
}

// Document is a stored article or ticket. Exactly one of Article and Ticket is set,
// matching Kind.
//
// Embedding, when present, was computed from NormalizedText and cached under Fingerprint.
type Document struct {
	ID             string         `json:"id"`
	Kind           Kind           `json:"kind"`
	RawText        string         `json:"raw_text"`
	NormalizedText string         `json:"normalized_text"`
	Fingerprint    string         `json:"fingerprint"`
	Embedding      []float32      `json:"-"`
	Source         string         `json:"source,omitempty"`
	Article        *ArticleFields `json:"article,omitempty"`
	Ticket         *TicketFields  `json:"ticket,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Title returns a short display label: the article title or the ticket summary.
func (d *Document) Title() string {
	switch {
	case d.Article != nil && d.Article.Title != "":
		return d.Article.Title
	case d.Ticket != nil && d.Ticket.Summary != "":
		return d.Ticket.Summary
	case d.Ticket != nil:
		return utils.Truncate(d.Ticket.Description, 80)
	}
	return d.ID
}

// Category returns the article category or the ticket potential impact, used for grouping.
func (d *Document) Category() string {
	switch {
	case d.Article != nil:
		return d.Article.Category
	case d.Ticket != nil:
		return d.Ticket.PotentialImpact
	}
	return ""
}

// EmbeddingText returns the text that is normalized and embedded for the document:
// title, introduction and instructions for articles; description, close notes and
// summary for tickets.
func (d *Document) EmbeddingText() string {
	switch {
	case d.Article != nil:
		return utils.JoinNonEmpty(d.Article.Title, d.Article.Introduction, d.Article.Instructions)
	case d.Ticket != nil:
		return utils.JoinNonEmpty(d.Ticket.Description, d.Ticket.CloseNotes, d.Ticket.Summary)
	}
	return d.RawText
}

// SameContent reports whether d and other carry the same attributes apart from
// bookkeeping fields (timestamps, version, embedding).
func (d *Document) SameContent(other *Document) bool {
	if other == nil || d.Kind != other.Kind || d.Fingerprint != other.Fingerprint {
		return false
	}
	switch {
	case d.Article != nil && other.Article != nil:
		a, b := *d.Article, *other.Article
		a.Version, b.Version = "", ""
		return a == b
	case d.Ticket != nil && other.Ticket != nil:
		return ticketsEqual(d.Ticket, other.Ticket)
	}
	return false
}

func ticketsEqual(a, b *TicketFields) bool {
	if len(a.Explanations) != len(b.Explanations) {
		return false
	}
	for k, v := range a.Explanations {
		if w, ok := b.Explanations[k]; !ok || w != v {
			return false
		}
	}
	return a.TrackingIndex == b.TrackingIndex &&
		a.Description == b.Description &&
		a.CloseNotes == b.CloseNotes &&
		a.Summary == b.Summary &&
		a.Quality == b.Quality &&
		a.UserProficiency == b.UserProficiency &&
		a.PotentialImpact == b.PotentialImpact &&
		a.ResolutionAppropriateness == b.ResolutionAppropriateness &&
		a.PotentialRootCause == b.PotentialRootCause
}
