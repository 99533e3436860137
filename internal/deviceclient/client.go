// Package deviceclient is the device side of the edgewatch protocol. Edge
// agents and integration tests use it to query device info over HTTP and
// to hold a session on the device websocket.
package deviceclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultDeviceName  = "Test"

	// maxInfoBody caps how much of a device-info response is read.
	maxInfoBody = 1 << 20
)

// ErrUnexpectedStatus is returned when the device-info endpoint answers
// with a non-2xx status.
var ErrUnexpectedStatus = errors.New("deviceclient: unexpected status")

// Logger is the logging surface the client needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config identifies the device to the server.
type Config struct {
	// BaseURL is the server root, e.g. "https://watch.example.com".
	BaseURL string
	// InfoURL is the device-info endpoint. Relative paths resolve
	// against BaseURL.
	InfoURL string
	// DeviceName defaults to "Test".
	DeviceName string
	// ProductKey is the device's API key.
	ProductKey string
	// DevicePath is the websocket route prefix, default "/ws/device".
	DevicePath string
}

// Client talks to an edgewatch server on behalf of one device.
type Client struct {
	cfg    Config
	http   *http.Client
	logger Logger
	now    func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client. ProductKey is required.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.ProductKey == "" {
		return nil, fmt.Errorf("deviceclient: product key is required")
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName
	}
	if cfg.DevicePath == "" {
		cfg.DevicePath = "/ws/device"
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: defaultHTTPTimeout},
		logger: noopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// InfoResponse is the raw device-info answer.
type InfoResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// GetDeviceInfo posts the device's identity form to the device-info
// endpoint and logs the answer.
func (c *Client) GetDeviceInfo(ctx context.Context) (*InfoResponse, error) {
	endpoint, err := c.resolve(c.cfg.InfoURL)
	if err != nil {
		return nil, err
	}

	form := c.identity()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building device-info request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting device info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInfoBody))
	if err != nil {
		return nil, fmt.Errorf("reading device-info response: %w", err)
	}

	c.logger.Info("device info response",
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"body", string(body),
	)

	info := &InfoResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return info, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return info, nil
}

// identity is the form every device request carries.
func (c *Client) identity() url.Values {
	form := url.Values{}
	form.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	form.Set("deviceName", c.cfg.DeviceName)
	form.Set("productKey", c.cfg.ProductKey)
	return form
}

func (c *Client) resolve(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("deviceclient: device-info URL is required")
	}
	target, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", ref, err)
	}
	if target.IsAbs() {
		return target.String(), nil
	}
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil || !base.IsAbs() {
		return "", fmt.Errorf("deviceclient: relative URL %q needs an absolute base URL", ref)
	}
	return base.ResolveReference(target).String(), nil
}

// socketURL converts BaseURL to the device websocket address.
func (c *Client) socketURL() (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("deviceclient: invalid base URL %q", c.cfg.BaseURL)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Trim(c.cfg.DevicePath, "/") + "/" + url.PathEscape(c.cfg.ProductKey)
	return u.String(), nil
}
