// Package filter implements the allow/deny gate evaluation used to decide
// whether a host, MIME type, or proxy tag is permitted into the frontier.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Gate evaluates an input string against a white list, a black list, and a
// fallback polarity. Matching is substring-regex against the lowercased
// input: if white is non-empty and matches, allow; else if black is
// non-empty and matches, deny; else return fallback.
type Gate struct {
	white    []*regexp.Regexp
	black    []*regexp.Regexp
	fallback bool
}

// NewGate compiles white/black regex lists and pairs them with a fallback.
func NewGate(white, black []string, fallback bool) (*Gate, error) {
	w, err := compileAll(white)
	if err != nil {
		return nil, fmt.Errorf("compile white list: %w", err)
	}
	b, err := compileAll(black)
	if err != nil {
		return nil, fmt.Errorf("compile black list: %w", err)
	}
	return &Gate{white: w, black: b, fallback: fallback}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Allow evaluates the gate against input.
func (g *Gate) Allow(input string) bool {
	lower := strings.ToLower(input)
	if len(g.white) > 0 && anyMatch(g.white, lower) {
		return true
	}
	if len(g.black) > 0 && anyMatch(g.black, lower) {
		return false
	}
	return g.fallback
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// LiteralGate evaluates a proxy tag against a white list, a black list, and
// a fallback polarity, per §4.3: "allow-proxy compares case-insensitively
// as a literal tag", not substring-regex — proxy tags are a closed, known
// vocabulary (tor, i2p, null, ...) where substring matching would let a
// "tor" entry also match the unrelated "tor2web" tag.
type LiteralGate struct {
	white    []string
	black    []string
	fallback bool
}

// NewLiteralGate pairs literal white/black tag lists with a fallback.
func NewLiteralGate(white, black []string, fallback bool) *LiteralGate {
	return &LiteralGate{white: white, black: black, fallback: fallback}
}

// Allow evaluates the gate against tag using a case-insensitive literal
// compare against each configured entry.
func (g *LiteralGate) Allow(tag string) bool {
	if len(g.white) > 0 && anyEqualFold(g.white, tag) {
		return true
	}
	if len(g.black) > 0 && anyEqualFold(g.black, tag) {
		return false
	}
	return g.fallback
}

func anyEqualFold(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Gates bundles the three gate functions the fetch/render workers consult:
// AllowHost, AllowMIME, AllowProxy.
type Gates struct {
	Host  *Gate
	MIME  *Gate
	Proxy *LiteralGate
}

// Config is the regex-list + fallback configuration for one gate.
type Config struct {
	White    []string
	Black    []string
	Fallback bool
}

// New builds the three gates from their individual configs.
func New(host, mime, proxy Config) (*Gates, error) {
	hostGate, err := NewGate(host.White, host.Black, host.Fallback)
	if err != nil {
		return nil, fmt.Errorf("host gate: %w", err)
	}
	mimeGate, err := NewGate(mime.White, mime.Black, mime.Fallback)
	if err != nil {
		return nil, fmt.Errorf("mime gate: %w", err)
	}
	proxyGate := NewLiteralGate(proxy.White, proxy.Black, proxy.Fallback)
	return &Gates{Host: hostGate, MIME: mimeGate, Proxy: proxyGate}, nil
}

// AllowHost reports whether host is allowed through the host gate.
func (g *Gates) AllowHost(host string) bool { return g.Host.Allow(host) }

// AllowMIME reports whether contentType is allowed through the MIME gate.
func (g *Gates) AllowMIME(contentType string) bool { return g.MIME.Allow(contentType) }

// AllowProxy reports whether tag is allowed through the proxy gate. Unlike
// the other two gates, matching is a case-insensitive literal tag compare,
// not substring-regex, since proxy tags are a closed, known vocabulary.
func (g *Gates) AllowProxy(tag string) bool {
	return g.Proxy.Allow(tag)
}
