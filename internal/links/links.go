// Package links tokenizes free text into literal spans, links and
// transclusions, and renders the resolved display form of that text.
//
// Grammar, scanned left to right with non-overlapping matches:
//
//	[[target]]  [[target|alias]]  [alias](target)
//
// A leading "!" marks a transclusion. A transclusion target must have the
// form "document#^anchor"; anything else is treated as a plain link.
package links

import (
	"iter"
	"regexp"
	"strings"
)

// linkRe groups: 1 wiki "!", 2 wiki target, 3 wiki alias,
// 4 markdown "!", 5 markdown alias, 6 markdown target.
var linkRe = regexp.MustCompile(`(!)?\[\[([^|\]]+)(?:\|([^\]]+))?\]\]|(!)?\[([^\]]*)\]\(([^)]+)\)`)

// Kind classifies a Span.
type Kind uint8

const (
	Text Kind = iota
	Link
	Transclusion
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Link:
		return "link"
	case Transclusion:
		return "transclusion"
	default:
		return "unknown"
	}
}

// Span is one token of a tokenized text.
type Span struct {
	Kind     Kind
	Source   string // exact source text covered by the span
	Target   string
	Alias    string
	Document string // transclusion only
	Anchor   string // transclusion only
	Markdown bool   // [alias](target) form
}

// Display returns the text a link renders as: its alias, or its target.
func (s Span) Display() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Target
}

// IsURL reports whether the span links to an external web address.
func (s Span) IsURL() bool {
	t := strings.ToLower(strings.TrimSpace(s.Target))
	return strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://")
}

// Tokenize returns the spans of text in order. The sequence is lazy and can
// be ranged over any number of times. Concatenating every Span.Source
// reproduces text exactly.
func Tokenize(text string) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		pos := 0
		for pos < len(text) {
			rest := text[pos:]
			loc := linkRe.FindStringSubmatchIndex(rest)
			if loc == nil {
				break
			}
			if loc[0] > 0 {
				if !yield(Span{Kind: Text, Source: rest[:loc[0]]}) {
					return
				}
			}
			if !yield(matchSpan(rest, loc)) {
				return
			}
			pos += loc[1]
		}
		if pos < len(text) {
			yield(Span{Kind: Text, Source: text[pos:]})
		}
	}
}

func matchSpan(s string, loc []int) Span {
	group := func(i int) string {
		if loc[2*i] < 0 {
			return ""
		}
		return s[loc[2*i]:loc[2*i+1]]
	}

	sp := Span{Kind: Link, Source: s[loc[0]:loc[1]]}
	var embed bool
	if loc[4] >= 0 {
		embed = loc[2] >= 0
		sp.Target = group(2)
		sp.Alias = group(3)
	} else {
		embed = loc[8] >= 0
		sp.Alias = group(5)
		sp.Target = group(6)
		sp.Markdown = true
	}

	if embed {
		if doc, anchor, ok := SplitAnchor(sp.Target); ok {
			sp.Kind = Transclusion
			sp.Document = doc
			sp.Anchor = anchor
		}
	}
	return sp
}

// SplitAnchor splits a transclusion target "document#^anchor".
// Both parts must be non-empty.
func SplitAnchor(target string) (document, anchor string, ok bool) {
	i := strings.LastIndex(target, "#^")
	if i < 0 {
		return "", "", false
	}
	document = strings.TrimSpace(target[:i])
	anchor = strings.TrimSpace(target[i+2:])
	if document == "" || anchor == "" {
		return "", "", false
	}
	return document, anchor, true
}

// HasTransclusion reports whether text contains at least one well-formed
// transclusion, i.e. whether rendering it needs external I/O.
func HasTransclusion(text string) bool {
	for sp := range Tokenize(text) {
		if sp.Kind == Transclusion {
			return true
		}
	}
	return false
}

// Targets returns the deduplicated documents text links to, in order of
// first appearance. Heading and block suffixes are dropped and web
// addresses are skipped.
func Targets(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for sp := range Tokenize(text) {
		var target string
		switch sp.Kind {
		case Transclusion:
			target = sp.Document
		case Link:
			if sp.IsURL() {
				continue
			}
			target = sp.Target
			if i := strings.Index(target, "#"); i >= 0 {
				target = target[:i]
			}
		default:
			continue
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}
