package models

import (
	"fmt"
	"strings"
)

// DocumentInput is the payload for creating or replacing a document. Article and ticket
// uploads fill the typed fields; free-form articles may pass Title and Content instead.
type DocumentInput struct {
	ID      string         `json:"id,omitempty"`
	Kind    Kind           `json:"kind"`
	Title   string         `json:"title,omitempty"`
	Content string         `json:"content,omitempty"`
	Source  string         `json:"source,omitempty"`
	Article *ArticleFields `json:"article,omitempty"`
	Ticket  *TicketFields  `json:"ticket,omitempty"`
}

// Document builds an unsaved Document from the input. Normalization, fingerprint,
// embedding and timestamps are filled in by the indexer. newID is called only when the
// input has no natural id.
func (in *DocumentInput) Document(newID func() string) (*Document, error) {
	kind := in.Kind
	if kind == "" {
		switch {
		case in.Ticket != nil:
			kind = KindTicket
		default:
			kind = KindArticle
		}
	}

	doc := &Document{Kind: kind, Source: in.Source}
	switch kind {
	case KindArticle:
		if in.Ticket != nil {
			return nil, &FieldError{Field: "ticket", Message: "ticket fields on an article"}
		}
		a := ArticleFields{Title: in.Title, Instructions: in.Content}
		if in.Article != nil {
			a = *in.Article
		}
		a.Number = strings.TrimSpace(a.Number)
		a.Version = strings.TrimSpace(a.Version)
		if a.Version == "" {
			a.Version = DefaultArticleVersion
		}
		doc.Article = &a
		doc.ID = firstNonEmpty(a.Number, in.ID)
	case KindTicket:
		if in.Ticket == nil {
			return nil, &FieldError{Field: "ticket", Message: "ticket fields are required"}
		}
		if in.Article != nil {
			return nil, &FieldError{Field: "article", Message: "article fields on a ticket"}
		}
		t := *in.Ticket
		t.TrackingIndex = strings.TrimSpace(t.TrackingIndex)
		if len(in.Ticket.Explanations) > 0 {
			t.Explanations = make(map[string]string, len(in.Ticket.Explanations))
			for k, v := range in.Ticket.Explanations {
				t.Explanations[k] = v
			}
		}
		doc.Ticket = &t
		doc.ID = t.TrackingIndex
	default:
		return nil, &FieldError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", kind)}
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		doc.ID = newID()
	}
	doc.RawText = doc.EmbeddingText()
	return doc, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
