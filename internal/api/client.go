// Package api implements the credential issuer (wallet login) and the
// periodic action invoker over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jpalmerr/walletfleet/internal/poller"
)

const maxResponseBodySize = 1 << 20 // 1MB

const (
	DefaultLoginURL      = "https://api.flow3.tech/api/v1/user/login"
	DefaultActionURL     = "https://api.mtcadmin.click/api/v1/bandwidth"
	DefaultLoginTimeout  = 35 * time.Second
	DefaultActionTimeout = 15 * time.Second
	DefaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"
)

// ErrNoCredential is returned by [Client.Issue] when a 2xx login response
// carries no access token.
var ErrNoCredential = errors.New("login response has no access token")

// StatusError is returned for non-2xx responses.
//
// Errors for 401, or whose body mentions "unauthorized", unwrap to
// [poller.ErrUnauthorized].
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, body)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int {
	return e.Code
}

// Unwrap reports [poller.ErrUnauthorized] for rejected credentials.
func (e *StatusError) Unwrap() error {
	if e.Unauthorized() {
		return poller.ErrUnauthorized
	}
	return nil
}

// Unauthorized reports whether the response rejected the credential.
func (e *StatusError) Unauthorized() bool {
	return e.Code == http.StatusUnauthorized ||
		bytes.Contains(bytes.ToLower(e.Body), []byte("unauthorized"))
}

// Response holds the result of an HTTP request made by [Client].
type Response struct {
	// Body contains the HTTP response body, limited to 1MB.
	Body []byte

	// StatusCode is zero if the request failed before receiving a response.
	StatusCode int

	Latency time.Duration

	// Error is nil when the request completed, whatever its status.
	Error error
}

// Config configures a [Client]. Zero fields take the package defaults.
type Config struct {
	LoginURL      string
	ActionURL     string
	UserAgent     string
	LoginTimeout  time.Duration
	ActionTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.LoginURL == "" {
		c.LoginURL = DefaultLoginURL
	}
	if c.ActionURL == "" {
		c.ActionURL = DefaultActionURL
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = DefaultLoginTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = DefaultActionTimeout
	}
	return c
}

// Client talks to the login and action endpoints.
//
// Timeouts are applied per request via context, so one http.Client can be
// shared by every wallet. Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// NewClient creates a [Client]. A nil httpClient uses http.DefaultClient;
// pass one from the transport package to route through a proxy.
func NewClient(httpClient *http.Client, cfg Config) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, cfg: cfg.withDefaults()}
}

type loginRequest struct {
	Message       string `json:"message"`
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
	ReferralCode  string `json:"referralCode"`
}

type loginResponse struct {
	Data struct {
		AccessToken string `json:"accessToken"`
	} `json:"data"`
}

// Issue logs a wallet in with its signed challenge and returns the access
// token. referralCode is empty when refreshing an existing wallet.
func (c *Client) Issue(ctx context.Context, publicID, message, signature, referralCode string) (string, error) {
	payload, err := json.Marshal(loginRequest{
		Message:       message,
		WalletAddress: publicID,
		Signature:     signature,
		ReferralCode:  referralCode,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode login request: %w", err)
	}

	headers := c.browserHeaders()
	headers["Content-Type"] = "application/json"

	resp := c.Fetch(ctx, http.MethodPost, c.cfg.LoginURL, payload, headers, c.cfg.LoginTimeout)
	if err := checkResponse(resp); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	var lr loginResponse
	if err := json.Unmarshal(resp.Body, &lr); err != nil {
		return "", fmt.Errorf("login: failed to decode response: %w", err)
	}
	if lr.Data.AccessToken == "" {
		return "", ErrNoCredential
	}
	return lr.Data.AccessToken, nil
}

// Invoke performs the bandwidth action with credential and returns the raw
// response payload.
func (c *Client) Invoke(ctx context.Context, credential string) ([]byte, error) {
	headers := c.browserHeaders()
	headers["Authorization"] = "Bearer " + credential

	resp := c.Fetch(ctx, http.MethodPost, c.cfg.ActionURL, nil, headers, c.cfg.ActionTimeout)
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) browserHeaders() map[string]string {
	return map[string]string{
		"Accept":     "application/json, text/plain, */*",
		"User-Agent": c.cfg.UserAgent,
	}
}

func checkResponse(resp Response) error {
	if resp.Error != nil {
		return resp.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: resp.Body}
	}
	return nil
}

// Fetch performs an HTTP request and returns a structured [Response].
//
// If method is empty, GET is used. The timeout is applied via context
// cancellation. Fetch always returns a Response; errors are captured in its
// Error field.
func (c *Client) Fetch(ctx context.Context, method, url string, body []byte, headers map[string]string, timeout time.Duration) Response {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	if method == "" {
		method = http.MethodGet
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
			Error:      fmt.Errorf("failed to read response body: %w", err),
		}
	}

	return Response{
		Body:       respBody,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}
}

// Close closes idle connections in the client's pool. Safe to call on a nil
// client and multiple times.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}
