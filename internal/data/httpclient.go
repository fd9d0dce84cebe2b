package data

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/net/proxy"
)

// UserAgent identifies the relay on outbound requests.
const UserAgent = "genesis-relay/1.0"

// HTTPClientFactory builds and caches HTTP clients per proxy URL so
// transports and their connection pools are shared across requests.
// Clients carry no own timeout, callers bound requests via context so
// long lived streams are not cut off.
type HTTPClientFactory struct {
	mu      sync.Mutex
	clients map[string]*http.Client
	logger  *log.Helper
}

// NewHTTPClientFactory creates the shared client factory.
func NewHTTPClientFactory(logger log.Logger) *HTTPClientFactory {
	return &HTTPClientFactory{
		clients: make(map[string]*http.Client),
		logger:  log.NewHelper(logger),
	}
}

// Client returns the client for proxyURL, creating it on first use.
// An empty proxyURL yields the direct client.
func (f *HTTPClientFactory) Client(proxyURL string) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[proxyURL]; ok {
		return client, nil
	}

	transport, err := newTransport(proxyURL)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Transport: transport}
	f.clients[proxyURL] = client

	if proxyURL != "" {
		f.logger.Infof("created HTTP client with proxy %s", proxyURL)
	}
	return client, nil
}

// newTransport builds a pooled transport, routed through the proxy
// when one is given. Supported schemes: socks5, socks5h, http, https.
func newTransport(proxyURL string) (*http.Transport, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if proxyURL == "" {
		return transport, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsed.Scheme {
	case "socks5", "socks5h":
		dialer, err := newSOCKS5Dialer(parsed)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}

	case "http", "https":
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			return parsed, nil
		}

	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s (supported: socks5, http, https)", parsed.Scheme)
	}

	return transport, nil
}

// newSOCKS5Dialer builds a SOCKS5 dialer with optional auth from the
// URL userinfo. Falls back to the default SOCKS5 port when none is set.
func newSOCKS5Dialer(parsed *url.URL) (proxy.Dialer, error) {
	var auth *proxy.Auth
	if parsed.User != nil {
		password, _ := parsed.User.Password()
		auth = &proxy.Auth{
			User:     parsed.User.Username(),
			Password: password,
		}
	}

	host := parsed.Host
	if !strings.Contains(host, ":") {
		host += ":1080"
	}

	return proxy.SOCKS5("tcp", host, auth, proxy.Direct)
}
