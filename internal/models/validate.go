package models

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	articleNumberRe = regexp.MustCompile(`^KB\d+$`)
	versionRe       = regexp.MustCompile(`^\d+\.\d+$`)
	trackingIndexRe = regexp.MustCompile(`^T\d+$`)
)

// Allowed values for the categorical ticket attributes.
var (
	TicketQualities          = []string{"Poor", "Fair", "Good", "Excellent"}
	UserProficiencies        = []string{"Beginner", "Intermediate", "Advanced", "Expert"}
	PotentialImpacts         = []string{"Low", "Medium", "High", "Critical"}
	TicketExplanationColumns = []string{
		"summarize_ticket_explanation",
		"ticket_quality_explanation",
		"user_proficiency_level_explanation",
		"potential_impact_explanation",
		"resolution_appropriateness_explanation",
		"potential_root_cause_explanation",
	}
)

// DefaultArticleVersion is assigned to articles uploaded without a version.
const DefaultArticleVersion = "1.0"

// FieldError is a validation failure on a single field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidArticleNumber reports whether s looks like "KB" followed by digits.
func ValidArticleNumber(s string) bool { return articleNumberRe.MatchString(s) }

// ValidVersion reports whether s is in X.Y form.
func ValidVersion(s string) bool { return versionRe.MatchString(s) }

// ValidTrackingIndex reports whether s looks like "T" followed by digits.
func ValidTrackingIndex(s string) bool { return trackingIndexRe.MatchString(s) }

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate checks the article attributes. Number and Version are optional for articles
// extracted from files.
func (a *ArticleFields) Validate() error {
	if a.Number != "" && !ValidArticleNumber(a.Number) {
		return &FieldError{Field: "number", Message: fmt.Sprintf("%q should be KB followed by digits", a.Number)}
	}
	if a.Version != "" && !ValidVersion(a.Version) {
		return &FieldError{Field: "version", Message: fmt.Sprintf("%q should be in X.Y form (e.g. 1.0)", a.Version)}
	}
	if strings.TrimSpace(a.Title) == "" && strings.TrimSpace(a.Instructions) == "" {
		return &FieldError{Field: "title", Message: "an article needs a title or instructions"}
	}
	return nil
}

// Validate checks the ticket attributes.
func (t *TicketFields) Validate() error {
	if !ValidTrackingIndex(t.TrackingIndex) {
		return &FieldError{Field: "tracking_index", Message: fmt.Sprintf("%q should be T followed by digits", t.TrackingIndex)}
	}
	if strings.TrimSpace(t.Description) == "" {
		return &FieldError{Field: "description", Message: "must not be empty"}
	}
	checks := []struct {
		field, value string
		allowed      []string
	}{
		{"ticket_quality", t.Quality, TicketQualities},
		{"user_proficiency_level", t.UserProficiency, UserProficiencies},
		{"potential_impact", t.PotentialImpact, PotentialImpacts},
	}
	for _, c := range checks {
		if !oneOf(c.value, c.allowed) {
			return &FieldError{Field: c.field, Message: fmt.Sprintf("%q should be one of %s", c.value, strings.Join(c.allowed, ", "))}
		}
	}
	return nil
}

// Validate checks that the variant fields match Kind and are themselves valid.
func (d *Document) Validate() error {
	switch d.Kind {
	case KindArticle:
		if d.Article == nil || d.Ticket != nil {
			return &FieldError{Field: "kind", Message: "article document must carry only article fields"}
		}
		return d.Article.Validate()
	case KindTicket:
		if d.Ticket == nil || d.Article != nil {
			return &FieldError{Field: "kind", Message: "ticket document must carry only ticket fields"}
		}
		return d.Ticket.Validate()
	}
	return &FieldError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", d.Kind)}
}

// BumpVersion returns v increased by 0.1 ("1.0" -> "1.1", "1.9" -> "2.0").
// An unparsable v restarts at DefaultArticleVersion.
func BumpVersion(v string) string {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || !ValidVersion(v) {
		return DefaultArticleVersion
	}
	return strconv.FormatFloat(math.Round((f+0.1)*10)/10, 'f', 1, 64)
}
