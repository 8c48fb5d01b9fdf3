package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"

	"github.com/surge-downloader/fetchd/internal/engine/types"
	"github.com/surge-downloader/fetchd/internal/utils"
)

// NewHTTPClient creates an http.Client tuned for many concurrent range
// streams to the same host. One client is shared by probes and workers.
func NewHTTPClient(runtime *types.RuntimeConfig) (*http.Client, error) {
	maxConns := runtime.GetMaxChunks() * 4

	dialer := &net.Dialer{
		Timeout:   types.DialTimeout,
		KeepAlive: types.KeepAliveDuration,
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,

		// Connection pooling
		MaxIdleConns:        types.DefaultMaxIdleConns,
		MaxIdleConnsPerHost: maxConns + 2,
		MaxConnsPerHost:     maxConns,

		// Timeouts to prevent hung connections
		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: types.DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: types.DefaultExpectContinueTimeout,

		DisableCompression: true,  // Byte ranges must refer to the identity encoding
		ForceAttemptHTTP2:  false, // HTTP/1.1 gives one TCP connection per range
		TLSNextProto:       make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),

		DialContext: dialer.DialContext,
	}

	if runtime != nil && runtime.ProxyURL != "" {
		if err := configureProxy(transport, runtime.ProxyURL); err != nil {
			return nil, err
		}
	}

	if runtime != nil && runtime.SkipTLSVerification {
		utils.Debug("TLS verification disabled")
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{Transport: transport}, nil
}

func configureProxy(transport *http.Transport, rawProxy string) error {
	parsed, err := url.Parse(rawProxy)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("invalid proxy url %q", rawProxy)
	}

	switch {
	case strings.HasPrefix(parsed.Scheme, "socks5"):
		utils.Debug("Using SOCKS5 proxy: %s", parsed.Host)
		var auth *proxy.Auth
		if parsed.User != nil {
			pass, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: pass}
		}
		d, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := d.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return d.Dial(network, addr)
			}
		}
	case parsed.Scheme == "http" || parsed.Scheme == "https":
		utils.Debug("Using HTTP proxy: %s", parsed.Host)
		transport.Proxy = http.ProxyURL(parsed)
	default:
		return fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}
	return nil
}
