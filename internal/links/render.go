package links

import (
	"context"
	"strings"
)

// Options control how links are displayed in resolved text.
type Options struct {
	ShowBrackets bool   // wrap link text in [[ ]]
	LinkPrefix   string // prepended once when the text contains a link
	URLPrefix    string // used instead of LinkPrefix when every link is a web address
}

// TransclusionFunc expands a transclusion. ok=false keeps the original
// source text of the span.
type TransclusionFunc func(ctx context.Context, document, anchor string) (text string, ok bool)

// Quick renders text synchronously. It returns ok=false, and does no work,
// when text contains a transclusion.
func Quick(text string, opts Options) (string, bool) {
	if HasTransclusion(text) {
		return "", false
	}
	return Render(context.Background(), text, opts, nil), true
}

// Render returns the resolved form of text. Literal spans are kept verbatim,
// links are replaced by their display text and transclusions by the result
// of expand. A nil expand leaves transclusions untouched.
func Render(ctx context.Context, text string, opts Options, expand TransclusionFunc) string {
	var (
		b        strings.Builder
		internal bool
		external bool
	)
	b.Grow(len(text))

	for sp := range Tokenize(text) {
		switch sp.Kind {
		case Text:
			b.WriteString(sp.Source)
		case Transclusion:
			if expand != nil {
				if out, ok := expand(ctx, sp.Document, sp.Anchor); ok {
					b.WriteString(out)
					continue
				}
			}
			b.WriteString(sp.Source)
		case Link:
			if sp.IsURL() {
				external = true
			} else {
				internal = true
			}
			if opts.ShowBrackets {
				b.WriteString("[[")
				b.WriteString(sp.Display())
				b.WriteString("]]")
			} else {
				b.WriteString(sp.Display())
			}
		}
	}

	switch {
	case internal:
		return opts.LinkPrefix + b.String()
	case external:
		return opts.URLPrefix + b.String()
	default:
		return b.String()
	}
}
