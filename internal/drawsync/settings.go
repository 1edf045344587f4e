package drawsync

import (
	"context"
	"time"

	"github.com/starford/sketchmark/internal/links"
	"github.com/starford/sketchmark/internal/textstore"
)

// Frontmatter keys overriding display settings for one document.
const (
	KeyLinkBrackets = "sketchmark-link-brackets"
	KeyLinkPrefix   = "sketchmark-link-prefix"
	KeyURLPrefix    = "sketchmark-url-prefix"
)

// Settings control how a session displays text.
type Settings struct {
	Links          links.Options
	Mode           textstore.Mode // display mode of new sessions
	ResolveTimeout time.Duration  // bound on one transclusion pass; 0 means none
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Links: links.Options{
			ShowBrackets: true,
			LinkPrefix:   "📍",
			URLPrefix:    "🌐",
		},
		Mode:           textstore.ModeResolved,
		ResolveTimeout: 10 * time.Second,
	}
}

// Override returns s with the per-document overrides found in frontmatter
// applied. Any bracket value other than false enables brackets.
func (s Settings) Override(fm map[string]interface{}) Settings {
	if v, ok := fm[KeyLinkBrackets]; ok && v != nil {
		b, isBool := v.(bool)
		s.Links.ShowBrackets = !isBool || b
	}
	if v, ok := fm[KeyLinkPrefix].(string); ok {
		s.Links.LinkPrefix = v
	}
	if v, ok := fm[KeyURLPrefix].(string); ok {
		s.Links.URLPrefix = v
	}
	return s
}

// renderer adapts the link grammar to textstore.Renderer.
type renderer struct {
	opts    links.Options
	expand  links.TransclusionFunc
	timeout time.Duration
}

func (r renderer) Quick(raw string) (string, bool) {
	return links.Quick(raw, r.opts)
}

func (r renderer) Render(ctx context.Context, raw string) string {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return links.Render(ctx, raw, r.opts, r.expand)
}
