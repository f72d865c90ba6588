package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ArionMiles/obligations/pkg/api"
)

func newFetcher(t *testing.T, cfg Config) *HTTPFetcher {
	t.Helper()
	f, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestFetchSuccess(t *testing.T) {
	uaCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uaCh <- r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<div class="txtTopo">PADARIA SÃO JOÃO</div>`))
	}))
	defer srv.Close()

	resp, err := newFetcher(t, Config{}).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotUA := <-uaCh; gotUA != DefaultUserAgent {
		t.Errorf("user agent: got %q, want %q", gotUA, DefaultUserAgent)
	}
	if !strings.Contains(resp.Body, "PADARIA SÃO JOÃO") {
		t.Errorf("body: got %q", resp.Body)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestFetchDecodesLatin1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=ISO-8859-1")
		// "Emissão" with ã encoded as a single 0xE3 byte.
		_, _ = w.Write([]byte("Emiss\xe3o"))
	}))
	defer srv.Close()

	resp, err := newFetcher(t, Config{}).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.Body != "Emissão" {
		t.Errorf("got %q, want %q", resp.Body, "Emissão")
	}
}

func TestFetchNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newFetcher(t, Config{}).Fetch(context.Background(), srv.URL)

	var upstream *api.UpstreamFetchError
	if !errors.As(err, &upstream) {
		t.Fatalf("got %v, want *api.UpstreamFetchError", err)
	}
	if upstream.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", upstream.StatusCode)
	}
	if upstream.Timeout {
		t.Error("status failure should not be flagged as timeout")
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newFetcher(t, Config{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), srv.URL)

	var upstream *api.UpstreamFetchError
	if !errors.As(err, &upstream) {
		t.Fatalf("got %v, want *api.UpstreamFetchError", err)
	}
	if !upstream.Timeout {
		t.Errorf("expected timeout flag, got %+v", upstream)
	}
}

func TestFetchBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(strings.Repeat("a", 1000)))
	}))
	defer srv.Close()

	resp, err := newFetcher(t, Config{MaxBodyBytes: 100}).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(resp.Body) != 100 {
		t.Errorf("body length: got %d, want 100", len(resp.Body))
	}
}

type stubFetcher struct {
	calls int
	resp  *Response
	err   error
}

func (s *stubFetcher) Fetch(context.Context, string) (*Response, error) {
	s.calls++
	return s.resp, s.err
}

func TestFallback(t *testing.T) {
	ok := &Response{StatusCode: 200, Body: "ok"}

	tests := []struct {
		name          string
		primaryErr    error
		wantSecondary int
		wantErr       bool
	}{
		{"primary succeeds", nil, 0, false},
		{"transport failure falls back", &api.UpstreamFetchError{URL: "u", Err: errors.New("connection refused")}, 1, false},
		{"timeout does not fall back", &api.UpstreamFetchError{URL: "u", Timeout: true, Err: context.DeadlineExceeded}, 0, true},
		{"bare deadline does not fall back", context.DeadlineExceeded, 0, true},
		{"plain dial error falls back", errors.New("dial tcp: no route to host"), 1, false},
		{"status failure does not fall back", &api.UpstreamFetchError{URL: "u", StatusCode: 404}, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			primary := &stubFetcher{err: tc.primaryErr}
			if tc.primaryErr == nil {
				primary.resp = ok
			}
			secondary := &stubFetcher{resp: ok}

			f := &Fallback{Primary: primary, Secondary: secondary}
			resp, err := f.Fetch(context.Background(), "u")

			if (err != nil) != tc.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && resp != ok {
				t.Errorf("got %+v, want ok response", resp)
			}
			if secondary.calls != tc.wantSecondary {
				t.Errorf("secondary calls: got %d, want %d", secondary.calls, tc.wantSecondary)
			}
		})
	}
}
