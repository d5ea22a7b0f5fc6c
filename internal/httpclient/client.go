package httpclient

import (
	"net"
	"net/http"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/config"
)

// NewTransport creates the pooled transport shared by all upstream clients.
func NewTransport(cfg *config.Config) *http.Transport {
	// Adds connection pooling.
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.ProxyMaxIdleConns,
		MaxIdleConnsPerHost: cfg.ProxyMaxIdleConnsPerHost,
		IdleConnTimeout:     time.Duration(cfg.ProxyIdleConnTimeout) * time.Second,
		DisableKeepAlives:   false,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   30 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Middleware decorates a round tripper, e.g. with metrics.
type Middleware func(http.RoundTripper) http.RoundTripper

// New creates a client for one upstream on top of a shared transport.
// The client timeout bounds the whole upstream exchange.
func New(cfg *config.Config, transport http.RoundTripper, middlewares ...Middleware) *http.Client {
	rt := transport
	for _, mw := range middlewares {
		rt = mw(rt)
	}

	return &http.Client{
		Transport: rt,
		Timeout:   time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second,
	}
}
