package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dmorcellet/delta-downloads/internal/metrics"
)

// Options configures the HTTP client.
type Options struct {
	// HeaderTimeout bounds the wait for response headers. The body transfer
	// itself is not bounded.
	// Default: 30s
	HeaderTimeout time.Duration

	// BufferSize is the size of the chunk buffer handed to BytesReceived.
	// Default: 32KiB
	BufferSize int

	// UserAgent is sent unless the request already carries one.
	UserAgent string

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		HeaderTimeout:       30 * time.Second,
		BufferSize:          32 << 10,
		UserAgent:           "delta-downloads",
		MaxIdleConnsPerHost: 16,
	}
}

// Client is a Transport backed by net/http. Each request runs on its own
// goroutine.
type Client struct {
	http *http.Client
	opts Options
	log  *slog.Logger
}

var _ Transport = (*Client)(nil)

// NewClient creates a client; zero option fields take their defaults.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.HeaderTimeout <= 0 {
		opts.HeaderTimeout = def.HeaderTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.HeaderTimeout,
		DisableCompression:    true,
	}
	return &Client{
		http: &http.Client{Transport: tr},
		opts: opts,
		log:  slog.Default(),
	}
}

// HTTP exposes the underlying client, mainly so tests can swap its transport.
func (c *Client) HTTP() *http.Client { return c.http }

// Options returns the effective options.
func (c *Client) Options() Options { return c.opts }

// SetLogger allows wiring a shared application logger into the client.
func (c *Client) SetLogger(l *slog.Logger) {
	if l != nil {
		c.log = l
	}
}

// Execute starts req in the background. The request context stays in force:
// cancelling it has the same effect as Future.Cancel.
func (c *Client) Execute(req *http.Request, h Handler) *Future {
	ctx, cancel := context.WithCancel(req.Context())
	f := NewFuture(cancel)
	go c.run(req.WithContext(ctx), h, f)
	return f
}

func (c *Client) run(req *http.Request, h Handler, f *Future) {
	defer f.cancel()
	if c.opts.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.fail(req.Context(), h, f, nil, "request", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ResponseLatency.WithLabelValues(strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	r := &Response{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Header:        resp.Header.Clone(),
		ContentLength: resp.ContentLength,
	}
	h.ResponseReceived(r)

	buf := make([]byte, c.opts.BufferSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if herr := h.BytesReceived(buf[:n]); herr != nil {
				c.fail(req.Context(), h, f, r, "consumer", herr)
				return
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			c.fail(req.Context(), h, f, r, "read", rerr)
			return
		}
	}
	c.log.Debug("request completed", "url", req.URL.Redacted(), "status", r.StatusCode)
	h.Completed(r)
	f.Resolve(r, nil)
}

// fail routes an interrupted request to Cancelled when its context was
// cancelled, to Failed otherwise.
func (c *Client) fail(ctx context.Context, h Handler, f *Future, r *Response, stage string, err error) {
	if f.CancelRequested() || errors.Is(ctx.Err(), context.Canceled) {
		c.log.Debug("request cancelled", "stage", stage)
		h.Cancelled()
		f.Resolve(r, ErrCancelled)
		return
	}
	metrics.TransportErrors.WithLabelValues(stage).Inc()
	c.log.Warn("request failed", "stage", stage, "err", err)
	h.Failed(err)
	f.Resolve(r, err)
}
