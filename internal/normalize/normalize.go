// Package normalize canonicalizes article and ticket text before it is fingerprinted
// and embedded. Normalization is pure: the same input always yields the same output,
// independent of locale, time, or process.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// FingerprintSize is the byte length of a fingerprint before hex encoding.
const FingerprintSize = sha256.Size

// Options controls the normalization policy.
type Options struct {
	// CaseFold applies Unicode case folding (locale independent).
	CaseFold bool `yaml:"case_fold"`
	// StripMarkup removes HTML tags and Markdown syntax, keeping the visible text.
	StripMarkup bool `yaml:"strip_markup"`
}

// DefaultOptions folds case and strips markup.
func DefaultOptions() Options {
	return Options{CaseFold: true, StripMarkup: true}
}

// Normalizer applies a fixed Options policy. It is safe for concurrent use.
type Normalizer struct {
	opts Options
}

// New returns a Normalizer for opts.
func New(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// Options returns the policy this normalizer applies.
func (n *Normalizer) Options() Options {
	return n.opts
}

// Normalize returns the canonical form of raw. Empty or whitespace-only input yields "".
// The result is a fixed point: Normalize(Normalize(s)) == Normalize(s).
//
// Passes repeat until nothing changes. A pass that changes already normalized text always
// removes an entity, a tag or Markdown syntax, so the loop ends.
func (n *Normalizer) Normalize(raw string) string {
	s := raw
	for {
		next := n.pass(s)
		if next == s {
			return next
		}
		s = next
	}
}

// Fingerprint normalizes raw and returns the normalized text with its fingerprint.
func (n *Normalizer) Fingerprint(raw string) (normalized, fingerprint string) {
	normalized = n.Normalize(raw)
	return normalized, Fingerprint(normalized)
}

func (n *Normalizer) pass(s string) string {
	s = strings.ToValidUTF8(s, "�")
	s = norm.NFC.String(s)
	if n.opts.StripMarkup {
		s = unescapeAll(s)
		s = stripHTML(s)
		s = stripMarkdown(s)
	}
	if n.opts.CaseFold {
		// Casers carry state; a fresh one per call keeps Normalizer goroutine safe.
		s = cases.Fold().String(s)
		s = norm.NFC.String(s)
	}
	return collapseSpace(s)
}

// Fingerprint returns the lowercase hex SHA-256 of normalized text.
func Fingerprint(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// collapseSpace trims s and replaces every run of whitespace or control characters with
// a single space.
func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// unescapeAll decodes character references until none are left, so "&amp;lt;" becomes "<".
func unescapeAll(s string) string {
	for strings.IndexByte(s, '&') >= 0 {
		next := html.UnescapeString(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

// stripHTML keeps the text content of s. Tags of real HTML elements become word
// boundaries, comments are dropped, and script/style bodies are dropped. Anything else
// that only looks like a tag ("press <Enter>", "a<b and c>d", an unterminated "<b") is
// kept as text. Character references must already be decoded.
func stripHTML(s string) string {
	if strings.IndexByte(s, '<') < 0 {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	consumed := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// An unterminated tag at the end of input is plain text.
			if consumed < len(s) && skip == 0 {
				b.WriteString(s[consumed:])
			}
			return b.String()
		}
		raw := string(z.Raw())
		consumed += len(raw)

		switch tt {
		case html.TextToken:
			if skip == 0 {
				b.WriteString(raw)
			}
		case html.CommentToken, html.DoctypeToken:
			b.WriteByte(' ')
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			a, ok := elementTag(z)
			if !ok {
				z.NextIsNotRawText()
				if skip == 0 {
					b.WriteString(raw)
				}
				continue
			}
			if a == atom.Script || a == atom.Style {
				switch {
				case tt == html.StartTagToken:
					skip++
				case tt == html.EndTagToken && skip > 0:
					skip--
				}
			}
			b.WriteByte(' ')
		}
	}
}

// elementTag reports whether the current tag token is an HTML element whose attributes
// all look like HTML attributes.
func elementTag(z *html.Tokenizer) (atom.Atom, bool) {
	name, hasAttr := z.TagName()
	a := atom.Lookup(name)
	if !htmlElements[a] {
		return 0, false
	}
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		if len(val) > 0 || atom.Lookup(key) != 0 {
			continue
		}
		k := string(key)
		if strings.HasPrefix(k, "data-") || strings.HasPrefix(k, "aria-") {
			continue
		}
		return 0, false
	}
	return a, true
}

var htmlElements = func() map[atom.Atom]bool {
	m := make(map[atom.Atom]bool)
	for _, a := range []atom.Atom{
		atom.A, atom.Abbr, atom.Address, atom.Area, atom.Article, atom.Aside, atom.Audio,
		atom.B, atom.Base, atom.Bdi, atom.Bdo, atom.Blockquote, atom.Body, atom.Br, atom.Button,
		atom.Canvas, atom.Caption, atom.Center, atom.Cite, atom.Code, atom.Col, atom.Colgroup,
		atom.Data, atom.Datalist, atom.Dd, atom.Del, atom.Details, atom.Dfn, atom.Dialog, atom.Div,
		atom.Dl, atom.Dt, atom.Em, atom.Embed, atom.Fieldset, atom.Figcaption, atom.Figure,
		atom.Font, atom.Footer, atom.Form, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Head, atom.Header, atom.Hgroup, atom.Hr, atom.Html, atom.I, atom.Iframe, atom.Img,
		atom.Input, atom.Ins, atom.Kbd, atom.Label, atom.Legend, atom.Li, atom.Link, atom.Main,
		atom.Map, atom.Mark, atom.Menu, atom.Meta, atom.Meter, atom.Nav, atom.Noscript,
		atom.Object, atom.Ol, atom.Optgroup, atom.Option, atom.Output, atom.P, atom.Param,
		atom.Picture, atom.Pre, atom.Progress, atom.Q, atom.Rp, atom.Rt, atom.Ruby, atom.S,
		atom.Samp, atom.Script, atom.Section, atom.Select, atom.Small, atom.Source, atom.Span,
		atom.Strike, atom.Strong, atom.Style, atom.Sub, atom.Summary, atom.Sup, atom.Svg,
		atom.Table, atom.Tbody, atom.Td, atom.Template, atom.Textarea, atom.Tfoot, atom.Th,
		atom.Thead, atom.Time, atom.Title, atom.Tr, atom.Track, atom.Tt, atom.U, atom.Ul,
		atom.Var, atom.Video, atom.Wbr,
	} {
		m[a] = true
	}
	return m
}()

var (
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdHeading    = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`)
	mdQuote      = regexp.MustCompile(`(?m)^[ \t]{0,3}>[ \t]?`)
	mdRule       = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	mdBullet     = regexp.MustCompile(`(?m)^[ \t]*[-+*][ \t]+`)
	mdEmphasis   = regexp.MustCompile("[*`~]+")
	mdUnderscore = regexp.MustCompile(`(^|[^\p{L}\p{N}])_+|_+([^\p{L}\p{N}]|$)`)
)

func stripMarkdown(s string) string {
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdRule.ReplaceAllString(s, " ")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdQuote.ReplaceAllString(s, "")
	s = mdBullet.ReplaceAllString(s, "")
	s = mdEmphasis.ReplaceAllString(s, " ")
	return mdUnderscore.ReplaceAllString(s, "$1 $2")
}
