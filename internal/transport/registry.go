package transport

import (
	"time"

	"github.com/duskcrawl/duskcrawl/internal/link"
)

// ProxyParams is the per-tag connection configuration (§6 "Proxy params").
type ProxyParams struct {
	Addr string // host:port for SOCKS5 (tor/i2p) or HTTP gateway (zeronet/freenet)
}

// BuildOptions configures the default registry.
type BuildOptions struct {
	UserAgent     string
	NavTimeout    time.Duration
	MaxRenderConc int
	Proxies       map[link.ProxyTag]ProxyParams
}

// BuildDefaultRegistry wires the fetchable proxy tags (null, tor, i2p,
// tor2web, zeronet, freenet) to colly-backed fetch sessions and
// chromedp-backed render drivers, per §4.5. Non-fetchable tags are
// intentionally left unregistered: the fetch worker intercepts them at the
// sink-hook step (§4.7 step 4) before ever consulting the registry.
func BuildDefaultRegistry(opts BuildOptions) *Registry {
	reg := NewRegistry()

	register := func(tag link.ProxyTag, socks bool, insecure bool) {
		proxyAddr := opts.Proxies[tag].Addr
		reg.Register(tag, Entry{
			Fetch: func() (FetchSession, error) {
				var sockAddr string
				if socks {
					sockAddr = proxyAddr
				}
				return NewCollySession(CollyOptions{
					UserAgent:          opts.UserAgent + "/" + string(tag),
					ProxyAddr:          sockAddr,
					InsecureSkipVerify: insecure,
				})
			},
			Render: func() (RenderDriver, error) {
				var chromeProxy string
				if socks {
					chromeProxy = "socks5://" + proxyAddr
				}
				return NewChromedpDriver(ChromedpOptions{
					UserAgent:     opts.UserAgent + "/" + string(tag),
					ProxyAddr:     chromeProxy,
					NavTimeout:    opts.NavTimeout,
					MaxConcurrent: opts.MaxRenderConc,
				})
			},
		})
	}

	register(link.ProxyNull, false, false)
	register(link.ProxyTor, true, true)
	register(link.ProxyI2P, true, true)
	register(link.ProxyTor2Web, false, false)
	register(link.ProxyZeroNet, false, false)
	register(link.ProxyFreenet, false, false)

	return reg
}
