// Package client fetches fiscal document pages over HTTP.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/net/publicsuffix"

	"github.com/ArionMiles/obligations/pkg/api"
)

const (
	// DefaultTimeout bounds a single page fetch.
	DefaultTimeout = 10 * time.Second
	// DefaultUserAgent is sent because several tax authority portals reject non-browser clients.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	// DefaultMaxBodyBytes caps how much of a page is read.
	DefaultMaxBodyBytes = 5 << 20
)

// Response is a fetched page decoded to UTF-8.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        string
}

// Fetcher retrieves a page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Response, error)
}

// Config holds configuration for the HTTP fetcher.
type Config struct {
	// Timeout per fetch. Defaults to 10 seconds.
	Timeout time.Duration
	// UserAgent header value. Defaults to a desktop browser string.
	UserAgent string
	// MaxBodyBytes limits the body read. Defaults to 5 MiB.
	MaxBodyBytes int64
	// ProxyURL routes requests through an HTTP proxy when set.
	ProxyURL string
}

// HTTPFetcher fetches pages with net/http.
type HTTPFetcher struct {
	client *http.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a new HTTP fetcher.
func New(cfg Config, logger *slog.Logger) (*HTTPFetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &HTTPFetcher{
		client: &http.Client{
			Jar:       jar,
			Transport: transport,
		},
		cfg:    cfg,
		logger: logger.With("component", "fetcher"),
	}, nil
}

// Fetch retrieves rawURL. Transport failures, timeouts and non-2xx statuses
// are returned as *api.UpstreamFetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &api.UpstreamFetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &api.UpstreamFetchError{URL: rawURL, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	f.logger.Debug("fetched page", "url", rawURL, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &api.UpstreamFetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	reader, err := charset.NewReader(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes), contentType)
	if err != nil {
		return nil, &api.UpstreamFetchError{URL: rawURL, Err: fmt.Errorf("decoding charset: %w", err)}
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &api.UpstreamFetchError{URL: rawURL, Timeout: isTimeout(err), Err: fmt.Errorf("reading body: %w", err)}
	}

	return &Response{
		URL:         rawURL,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        string(body),
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Fallback tries Primary and, only when it fails at the transport level,
// retries once through Secondary. HTTP status failures and timeouts are returned as is.
type Fallback struct {
	Primary   Fetcher
	Secondary Fetcher
	Logger    *slog.Logger
}

// Fetch implements Fetcher.
func (f *Fallback) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	resp, err := f.Primary.Fetch(ctx, rawURL)
	if err == nil || f.Secondary == nil || ctx.Err() != nil || !isTransportFailure(err) {
		return resp, err
	}

	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("direct fetch failed, retrying through fallback", "url", rawURL, "error", err)

	return f.Secondary.Fetch(ctx, rawURL)
}

// isTransportFailure reports an unreachable origin. Timeouts do not count:
// the origin answered too slowly and a second attempt would double the wait.
func isTransportFailure(err error) bool {
	if isTimeout(err) {
		return false
	}
	var upstream *api.UpstreamFetchError
	if !errors.As(err, &upstream) {
		return true
	}
	return upstream.StatusCode == 0 && !upstream.Timeout
}
