// Package transport builds the proxy-aware HTTP client shared by all wallets
// and the connectivity self-test run before the fleet starts.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// DefaultConnectivityURL echoes the caller's public IP as JSON.
const DefaultConnectivityURL = "https://api.ipify.org?format=json"

// Idle pool limits for one client shared by many wallets. Active
// connections per host are unbounded so no wallet queues behind another.
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 60 * time.Second
	defaultDialTimeout         = 30 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
)

// connectivityTimeout bounds the self-test request.
const connectivityTimeout = 10 * time.Second

// maxProbeBodySize caps the self-test response.
const maxProbeBodySize = 64 << 10

var (
	// ErrUnsupportedScheme is returned for proxy URLs other than http, https,
	// socks5 or socks5h.
	ErrUnsupportedScheme = errors.New("unsupported proxy scheme")

	// ErrProxyAuth is returned by [CheckConnectivity] when the proxy answers
	// 407 Proxy Authentication Required.
	ErrProxyAuth = errors.New("proxy authentication failed")
)

// ParseProxy validates a proxy URL. An empty string yields nil (direct).
func ParseProxy(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy url: missing host")
	}
	return u, nil
}

// NewClient returns an *http.Client that routes through proxyURL, or
// connects directly when proxyURL is empty.
//
// The client has no global timeout; callers apply per-request timeouts via
// context.
func NewClient(proxyURL string) (*http.Client, error) {
	u, err := ParseProxy(proxyURL)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   defaultDialTimeout,
		KeepAlive: 30 * time.Second,
	}

	t := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
	}

	if u != nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			t.Proxy = http.ProxyURL(u)
		default:
			d, err := proxy.FromURL(u, dialer)
			if err != nil {
				return nil, fmt.Errorf("failed to build socks dialer: %w", err)
			}
			cd, ok := d.(proxy.ContextDialer)
			if !ok {
				return nil, fmt.Errorf("socks dialer for %s does not support contexts", u.Redacted())
			}
			t.Proxy = nil
			t.DialContext = cd.DialContext
		}
	}

	// a custom DialContext disables automatic HTTP/2, so enable it explicitly
	if err := http2.ConfigureTransport(t); err != nil {
		return nil, fmt.Errorf("failed to enable http2: %w", err)
	}

	return &http.Client{Transport: t}, nil
}

// CloseIdle closes all idle connections held by client's transport.
// Safe to call with a nil client.
func CloseIdle(client *http.Client) {
	if client == nil {
		return
	}
	client.CloseIdleConnections()
}

// CheckConnectivity requests target (typically [DefaultConnectivityURL])
// through client and returns the egress IP it reports.
//
// The result is advisory. A 407 answer is reported as [ErrProxyAuth].
func CheckConnectivity(ctx context.Context, client *http.Client, target string) (string, error) {
	if target == "" {
		target = DefaultConnectivityURL
	}

	ctx, cancel := context.WithTimeout(ctx, connectivityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		// CONNECT tunnels surface a 407 as a transport error
		if strings.Contains(err.Error(), "Proxy Authentication Required") {
			return "", fmt.Errorf("%w: %v", ErrProxyAuth, err)
		}
		return "", fmt.Errorf("connectivity check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusProxyAuthRequired {
		return "", ErrProxyAuth
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("connectivity check failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBodySize))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var payload struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.IP != "" {
		return payload.IP, nil
	}

	// plain-text echo services
	if ip := strings.TrimSpace(string(body)); net.ParseIP(ip) != nil {
		return ip, nil
	}
	return "", errors.New("connectivity check failed: no ip in response")
}
