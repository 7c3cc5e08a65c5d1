package link

import "testing"

func TestParse_CanonicalizesSchemeAndHost(t *testing.T) {
	t.Parallel()

	l, err := Parse("HTTP://Example.COM:80/Path?q=1#frag")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if l.Scheme != "http" {
		t.Errorf("Scheme = %q, want http", l.Scheme)
	}
	if l.Host != "example.com" {
		t.Errorf("Host = %q, want example.com (default port stripped)", l.Host)
	}
	if l.Query != "q=1" {
		t.Errorf("Query = %q, want q=1", l.Query)
	}
	if l.Fragment != "frag" {
		t.Errorf("Fragment = %q, want frag", l.Fragment)
	}
}

func TestParse_EmptyPathCollapsesToSlash(t *testing.T) {
	t.Parallel()

	l, err := Parse("http://example.com")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if l.Path != "/" {
		t.Errorf("Path = %q, want /", l.Path)
	}
}

func TestParse_RejectsMalformedURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "not a url", "://missing-scheme"} {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q): expected error, got nil", raw)
		}
	}
}

func TestProxyTag_OnionRoutesToTor(t *testing.T) {
	t.Parallel()

	l, err := Parse("http://example.onion/page")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if l.Proxy != ProxyTor {
		t.Errorf("Proxy = %q, want tor", l.Proxy)
	}
	if !l.Proxy.Fetchable() {
		t.Error("expected tor proxy tag to be fetchable")
	}
}

func TestProxyTag_I2PAndPlainHTTP(t *testing.T) {
	t.Parallel()

	i2p, err := Parse("http://example.i2p/page")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if i2p.Proxy != ProxyI2P {
		t.Errorf("Proxy = %q, want i2p", i2p.Proxy)
	}

	plain, err := Parse("http://example.com/page")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if plain.Proxy != ProxyNull {
		t.Errorf("Proxy = %q, want null", plain.Proxy)
	}
}

func TestProxyTag_NonNetworkSchemesAreSinkOnly(t *testing.T) {
	t.Parallel()

	tests := map[string]ProxyTag{
		"mailto:a@b.com":                 ProxyMail,
		"tel:+15551234567":               ProxyTel,
		"magnet:?xt=urn:btih:abcd":        ProxyMagnet,
		"bitcoin:1A2b3C":                  ProxyBitcoin,
		"javascript:alert(1)":             ProxyScript,
	}
	for raw, want := range tests {
		l, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", raw, err)
		}
		if l.Proxy != want {
			t.Errorf("Parse(%q).Proxy = %q, want %q", raw, l.Proxy, want)
		}
		if l.Proxy.Fetchable() {
			t.Errorf("Parse(%q).Proxy.Fetchable() = true, want false", raw)
		}
	}
}

func TestHashLink_StableAndSensitiveToPath(t *testing.T) {
	t.Parallel()

	a, err := Parse("http://example.com/a")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	aAgain, err := Parse("http://example.com/a")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	b, err := Parse("http://example.com/b")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if a.Hash != aAgain.Hash {
		t.Error("expected identical links to hash identically")
	}
	if a.Hash == b.Hash {
		t.Error("expected different paths to hash differently")
	}
}

func TestGatewaySiteKey(t *testing.T) {
	t.Parallel()

	l := Link{Proxy: ProxyZeroNet, Path: "/1SitekeyHere/page"}
	key, ok := l.GatewaySiteKey()
	if !ok || key != "1SitekeyHere" {
		t.Errorf("GatewaySiteKey() = (%q, %v), want (1SitekeyHere, true)", key, ok)
	}

	notGateway := Link{Proxy: ProxyNull, Path: "/page"}
	if _, ok := notGateway.GatewaySiteKey(); ok {
		t.Error("expected GatewaySiteKey() to report false for a non-gateway proxy tag")
	}
}

func TestArtifactBase(t *testing.T) {
	t.Parallel()

	l, err := Parse("http://example.onion/page")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got, want := l.ArtifactBase(), "tor/http/example.onion"; got != want {
		t.Errorf("ArtifactBase() = %q, want %q", got, want)
	}
}
