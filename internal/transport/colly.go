package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/proxy"
)

// insecureTLSConfig disables certificate verification for onion/i2p
// services, which typically present self-signed certificates.
func insecureTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec
}

// CollyOptions configures a colly-backed FetchSession.
type CollyOptions struct {
	UserAgent string
	// ProxyAddr, if set, routes all requests through a SOCKS5 proxy at
	// this address (host:port) — used for the tor/i2p proxy tags.
	ProxyAddr string
	// InsecureSkipVerify disables TLS verification, required for onion
	// services that present self-signed certificates.
	InsecureSkipVerify bool
}

// collySession implements FetchSession using a cloned colly.Collector per
// request, following the teacher's channel+sync.Once result-delivery
// pattern generalized to return a classified transport.Response.
type collySession struct {
	base *colly.Collector
}

// NewCollySession builds a FetchSession for one proxy family.
func NewCollySession(opts CollyOptions) (FetchSession, error) {
	base := colly.NewCollector(colly.UserAgent(opts.UserAgent), colly.Async(false))
	base.AllowURLRevisit = true
	base.ParseHTTPErrorResponse = true

	httpTransport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}
	if opts.InsecureSkipVerify {
		httpTransport.TLSClientConfig = insecureTLSConfig()
	}
	if opts.ProxyAddr != "" {
		dialer, err := proxy.SOCKS5("tcp", opts.ProxyAddr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("build socks5 dialer: %w", err)
		}
		httpTransport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
	base.WithTransport(httpTransport)

	return &collySession{base: base}, nil
}

func (s *collySession) Get(ctx context.Context, url string, timeout time.Duration) (Response, error) {
	c := s.base.Clone()
	c.SetRequestTimeout(timeout)

	type result struct {
		resp Response
		err  error
	}
	resultCh := make(chan result, 1)
	var once sync.Once
	send := func(r result) { once.Do(func() { resultCh <- r }) }

	c.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			for k, v := range *r.Headers {
				headers[k] = append([]string(nil), v...)
			}
		}
		send(result{resp: Response{
			StatusCode: r.StatusCode,
			Headers:    headers,
			FinalURL:   r.Request.URL.String(),
			Body:       append([]byte{}, r.Body...),
		}})
	})
	c.OnError(func(r *colly.Response, err error) {
		send(result{err: classifyCollyError(err, r)})
	})

	if err := c.Visit(url); err != nil {
		return Response{}, classifyCollyError(err, nil)
	}
	c.Wait()

	select {
	case r := <-resultCh:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrTimeout, ctxErr)
		}
		return r.resp, r.err
	default:
		return Response{}, fmt.Errorf("%w: colly produced no result", ErrNetworkError)
	}
}

func classifyCollyError(err error, resp *colly.Response) error {
	if err == nil {
		err = errors.New("unknown colly error")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if resp != nil && resp.StatusCode == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidScheme, err)
	}
	return fmt.Errorf("%w: %v", ErrNetworkError, err)
}
