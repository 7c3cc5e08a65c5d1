// Package extract pulls candidate links out of fetched or rendered HTML.
package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/duskcrawl/duskcrawl/internal/link"
)

// linkAttrs are the standard link-bearing HTML attributes scanned per §4.9.
var linkAttrs = []string{"href", "src", "data-href", "action", "formaction", "poster", "srcset"}

// textURLPattern matches schemed URLs appearing in prose text, covering
// both network schemes and the non-network families from §4.1's proxy-tag
// table (mailto, tel, irc, magnet, ed2k, bitcoin, ethereum, javascript,
// data) — grounded in the original implementation's per-scheme regexes in
// darc/proxy/{bitcoin,ethereum,irc}.py.
var textURLPattern = regexp.MustCompile(`(?i)\b(?:https?|ftp|wss?|onion|data|mailto|tel|irc|magnet|ed2k|bitcoin|ethereum|javascript):[^\s"'<>)\]]+`)

// Links extracts, resolves, and deduplicates candidate links from html
// relative to base. Attribute links and text-matched links are unioned
// (§9 open question: precedence when a link appears both in an attribute
// and in text is treated as set union).
func Links(html string, base link.Link) ([]link.Link, error) {
	baseURL, err := url.Parse(base.URL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []link.Link
	add := func(raw string) {
		resolved := resolve(baseURL, raw)
		if resolved == "" {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		l, err := link.Parse(resolved)
		if err != nil {
			return
		}
		seen[resolved] = struct{}{}
		out = append(out, l)
	}

	for _, attr := range linkAttrs {
		doc.Find("[" + attr + "]").Each(func(_ int, sel *goquery.Selection) {
			val, ok := sel.Attr(attr)
			if !ok {
				return
			}
			for _, candidate := range splitSrcset(attr, val) {
				add(candidate)
			}
		})
	}

	for _, match := range textURLPattern.FindAllString(doc.Text(), -1) {
		add(match)
	}

	return out, nil
}

// splitSrcset handles the srcset attribute's comma-separated "url size"
// entries; other attributes yield a single candidate.
func splitSrcset(attr, val string) []string {
	if attr != "srcset" {
		return []string{val}
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

func resolve(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
