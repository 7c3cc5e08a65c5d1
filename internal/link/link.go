// Package link canonicalizes URLs into the engine's keyed link record and
// derives the proxy-tag that selects transport and persistence behavior.
package link

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ProxyTag names the transport/scheme family a Link belongs to.
type ProxyTag string

// Proxy tag families. Fetchable tags have a transport registry entry;
// the rest are sink-only families recorded and dropped by the fetch worker.
const (
	ProxyNull     ProxyTag = "null"
	ProxyTor      ProxyTag = "tor"
	ProxyI2P      ProxyTag = "i2p"
	ProxyTor2Web  ProxyTag = "tor2web"
	ProxyZeroNet  ProxyTag = "zeronet"
	ProxyFreenet  ProxyTag = "freenet"
	ProxyData     ProxyTag = "data"
	ProxyMail     ProxyTag = "mailto"
	ProxyTel      ProxyTag = "tel"
	ProxyIRC      ProxyTag = "irc"
	ProxyMagnet   ProxyTag = "magnet"
	ProxyED2K     ProxyTag = "ed2k"
	ProxyBitcoin  ProxyTag = "bitcoin"
	ProxyEthereum ProxyTag = "ethereum"
	ProxyScript   ProxyTag = "javascript"
)

// Fetchable reports whether the tag's family has a transport entry.
// The "no (save)" families in the proxy-tag table are sink-only.
func (t ProxyTag) Fetchable() bool {
	switch t {
	case ProxyNull, ProxyTor, ProxyI2P, ProxyTor2Web, ProxyZeroNet, ProxyFreenet:
		return true
	default:
		return false
	}
}

// ErrMalformedURL is returned by Parse when raw is not a usable URL.
var ErrMalformedURL = errors.New("malformed url")

// Hash is a stable 16-byte digest identifying a Link's canonical form.
type Hash [16]byte

func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// Link is the engine's canonical, immutable URL record.
type Link struct {
	URL      string
	Scheme   string
	Host     string
	Path     string
	Query    string
	Fragment string
	Proxy    ProxyTag
	Hash     Hash
}

// gateway ports for the locally-hosted ZeroNet and Freenet daemons, per the
// original darc implementation's proxy/{zeronet,freenet}.py defaults.
const (
	zeronetHosts = "localhost:43110,127.0.0.1:43110"
	freenetHosts = "localhost:8888,127.0.0.1:8888"
)

// Parse canonicalizes raw into a Link, or fails with ErrMalformedURL.
//
// Canonicalization: scheme and host are case-folded, default ports are
// stripped, query and fragment are preserved verbatim, and an empty path
// collapses to "/". No other path normalization is performed.
func Parse(raw string) (Link, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Link{}, ErrMalformedURL
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return Link{}, fmt.Errorf("%w: %s", ErrMalformedURL, raw)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	host = stripDefaultPort(scheme, host)
	u.Scheme = scheme
	u.Host = host

	path := u.EscapedPath()
	if path == "" && isNetworkScheme(scheme) {
		path = "/"
	}
	u.Path = path

	l := Link{
		URL:      u.String(),
		Scheme:   scheme,
		Host:     host,
		Path:     path,
		Query:    u.RawQuery,
		Fragment: u.Fragment,
	}
	l.Proxy = proxyTag(l)
	l.Hash = hashLink(l)
	return l, nil
}

func isNetworkScheme(scheme string) bool {
	switch scheme {
	case "http", "https", "ftp", "ws", "wss":
		return true
	default:
		return false
	}
}

func stripDefaultPort(scheme, host string) string {
	switch scheme {
	case "http":
		return strings.TrimSuffix(host, ":80")
	case "https":
		return strings.TrimSuffix(host, ":443")
	default:
		return host
	}
}

// proxyTag derives the scheme-family transport tag for a link, per the
// proxy-tag table. Onion and .i2p hosts route through tor/i2p; ZeroNet and
// Freenet are recognized by the local gateway's exact host:port. The link
// keeps the gateway as its Host; GatewaySiteKey returns the site key (the
// first path segment). All other non-network schemes map 1:1 to a
// sink-only proxy tag by name.
func proxyTag(l Link) ProxyTag {
	if isNetworkScheme(l.Scheme) {
		switch {
		case strings.HasSuffix(l.Host, ".onion"):
			return ProxyTor
		case strings.HasSuffix(l.Host, ".i2p"):
			return ProxyI2P
		case slices.Contains(strings.Split(zeronetHosts, ","), l.Host):
			return ProxyZeroNet
		case slices.Contains(strings.Split(freenetHosts, ","), l.Host):
			return ProxyFreenet
		case strings.HasSuffix(l.Host, ".onion.sh") || strings.HasSuffix(l.Host, ".onion.to"):
			return ProxyTor2Web
		default:
			return ProxyNull
		}
	}
	switch l.Scheme {
	case "data":
		return ProxyData
	case "mailto":
		return ProxyMail
	case "tel":
		return ProxyTel
	case "irc":
		return ProxyIRC
	case "magnet":
		return ProxyMagnet
	case "ed2k":
		return ProxyED2K
	case "bitcoin":
		return ProxyBitcoin
	case "ethereum":
		return ProxyEthereum
	case "javascript":
		return ProxyScript
	default:
		return ProxyTag(l.Scheme)
	}
}

// GatewaySiteKey returns the ZeroNet/Freenet site key (first path segment)
// for a link whose proxy tag is zeronet or freenet, and true if present.
func (l Link) GatewaySiteKey() (string, bool) {
	if l.Proxy != ProxyZeroNet && l.Proxy != ProxyFreenet {
		return "", false
	}
	trimmed := strings.TrimPrefix(l.Path, "/")
	if trimmed == "" {
		return "", false
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i], true
	}
	return trimmed, true
}

// ArtifactBase returns the conventional on-disk/blob prefix for this link's
// saved artifacts: {proxy}/{scheme}/{host}/ — an implementation-detail
// default inherited from the original darc layout, kept as a derived helper
// rather than stored state.
func (l Link) ArtifactBase() string {
	return fmt.Sprintf("%s/%s/%s", l.Proxy, l.Scheme, l.Host)
}

func hashLink(l Link) Hash {
	sum := sha256.Sum256([]byte(l.Scheme + "|" + l.Host + "|" + l.Path + "|" + l.Query + "|" + l.Fragment))
	var h Hash
	copy(h[:], sum[:16])
	return h
}
