package checker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"urlwatch/internal/models"
)

const testPage = "<html>\n<body>\nRequest fulfilled\n</body>\n</html>\n"

func newTestProber(opts ProbeOptions) *HTTPProber {
	return NewHTTPProber(opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// delayServer waits ttfb before sending headers and response more before the body.
func delayServer(t *testing.T, status int, ttfb, response time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(ttfb)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		time.Sleep(response)
		fmt.Fprint(w, testPage)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProber_PhaseTimings(t *testing.T) {
	for _, status := range []int{200, 300, 400} {
		t.Run(fmt.Sprintf("status %d", status), func(t *testing.T) {
			srv := delayServer(t, status, 10*time.Millisecond, 10*time.Millisecond)

			result := newTestProber(ProbeOptions{}).Probe(context.Background(), srv.URL, nil)

			if result.ErrorMessage != nil {
				t.Fatalf("unexpected error: %s", *result.ErrorMessage)
			}
			if result.StatusCode == nil || *result.StatusCode != status {
				t.Fatalf("expected status %d, got %v", status, result.StatusCode)
			}
			if result.ContentMatch != nil {
				t.Errorf("expected no content match without a pattern, got %v", *result.ContentMatch)
			}
			if result.ConnectionMS < 0 || result.ConnectionMS > result.TTFBMS || result.TTFBMS > result.ResponseMS {
				t.Errorf("expected 0 <= connection <= ttfb <= response, got %d/%d/%d",
					result.ConnectionMS, result.TTFBMS, result.ResponseMS)
			}
			if result.ResponseMS < result.TTFBMS+20 {
				t.Errorf("expected response to include both server delays, got ttfb=%d response=%d",
					result.TTFBMS, result.ResponseMS)
			}
		})
	}
}

func TestHTTPProber_ContentPattern(t *testing.T) {
	srv := delayServer(t, http.StatusOK, 0, 0)

	tests := []struct {
		name      string
		pattern   string
		wantMatch *bool
		wantError bool
	}{
		{name: "plain text", pattern: "Request fulfilled", wantMatch: boolPtr(true)},
		{name: "dot spans lines", pattern: "<html.+</html>", wantMatch: boolPtr(true)},
		{name: "anchors per line", pattern: "^Request fulfilled$", wantMatch: boolPtr(true)},
		{name: "no match", pattern: "no match", wantMatch: boolPtr(false)},
		{name: "invalid pattern", pattern: "[bad regex", wantError: true},
		{name: "empty pattern", pattern: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pattern := tt.pattern
			result := newTestProber(ProbeOptions{}).Probe(context.Background(), srv.URL, &pattern)

			if result.StatusCode == nil || *result.StatusCode != http.StatusOK {
				t.Fatalf("expected status 200, got %v", result.StatusCode)
			}
			if result.ResponseMS == models.NotMeasured {
				t.Error("expected response time to be measured")
			}

			switch {
			case tt.wantMatch == nil && result.ContentMatch != nil:
				t.Errorf("expected no content match, got %v", *result.ContentMatch)
			case tt.wantMatch != nil && (result.ContentMatch == nil || *result.ContentMatch != *tt.wantMatch):
				t.Errorf("expected content match %v, got %v", *tt.wantMatch, result.ContentMatch)
			}

			if tt.wantError {
				if result.ErrorMessage == nil || !strings.Contains(*result.ErrorMessage, "invalid content pattern") {
					t.Errorf("expected invalid pattern error, got %v", result.ErrorMessage)
				}
			} else if result.ErrorMessage != nil {
				t.Errorf("unexpected error: %s", *result.ErrorMessage)
			}
		})
	}
}

func TestHTTPProber_DecodesCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
		w.Write([]byte("caf\xe9 ouvert"))
	}))
	defer srv.Close()

	pattern := "café"
	result := newTestProber(ProbeOptions{}).Probe(context.Background(), srv.URL, &pattern)

	if result.ContentMatch == nil || !*result.ContentMatch {
		t.Errorf("expected latin-1 body to match %q, got %v", pattern, result.ContentMatch)
	}
}

func TestHTTPProber_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	result := newTestProber(ProbeOptions{}).Probe(context.Background(), "http://"+addr+"/", nil)

	if result.StatusCode != nil {
		t.Errorf("expected no status for an unreachable target, got %d", *result.StatusCode)
	}
	if result.ErrorMessage == nil || *result.ErrorMessage == "" {
		t.Fatal("expected an error message for an unreachable target")
	}
	if result.ConnectionMS != models.NotMeasured || result.TTFBMS != models.NotMeasured || result.ResponseMS != models.NotMeasured {
		t.Errorf("expected no measured phases, got %d/%d/%d", result.ConnectionMS, result.TTFBMS, result.ResponseMS)
	}
}

func TestHTTPProber_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	result := newTestProber(ProbeOptions{RequestTimeout: 50 * time.Millisecond}).Probe(context.Background(), srv.URL, nil)

	if result.StatusCode != nil {
		t.Errorf("expected no status on timeout, got %d", *result.StatusCode)
	}
	if result.ErrorMessage == nil || !strings.Contains(*result.ErrorMessage, "Timeout") {
		t.Errorf("expected a timeout error, got %v", result.ErrorMessage)
	}
	if result.ConnectionMS == models.NotMeasured {
		t.Error("expected the connection phase to be measured before the timeout")
	}
	if result.ResponseMS != models.NotMeasured {
		t.Errorf("expected response phase to stay unmeasured, got %d", result.ResponseMS)
	}
}

func TestHTTPProber_DoesNotFollowRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/target", http.StatusFound)
	})
	mux.HandleFunc("/target", func(w http.ResponseWriter, r *http.Request) {
		t.Error("redirect target must not be requested")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result := newTestProber(ProbeOptions{}).Probe(context.Background(), srv.URL+"/", nil)

	if result.StatusCode == nil || *result.StatusCode != http.StatusFound {
		t.Errorf("expected status 302, got %v", result.StatusCode)
	}
}

func TestHTTPProber_NegotiatesHTTP2(t *testing.T) {
	proto := make(chan int, 1)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proto <- r.ProtoMajor
		fmt.Fprint(w, "ok")
	}))
	srv.EnableHTTP2 = true
	srv.StartTLS()
	defer srv.Close()

	result := newTestProber(ProbeOptions{InsecureSkipVerify: true}).Probe(context.Background(), srv.URL, nil)

	if result.ErrorMessage != nil {
		t.Fatalf("unexpected error: %s", *result.ErrorMessage)
	}
	if got := <-proto; got != 2 {
		t.Errorf("expected HTTP/2, got HTTP/%d", got)
	}
	if result.ConnectionMS == models.NotMeasured || result.ConnectionMS > result.TTFBMS {
		t.Errorf("expected connection time to cover the TLS handshake, got %d/%d", result.ConnectionMS, result.TTFBMS)
	}
}

func TestHTTPProber_RejectsUntrustedCertificate(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	result := newTestProber(ProbeOptions{}).Probe(context.Background(), srv.URL, nil)

	if result.StatusCode != nil || result.ErrorMessage == nil {
		t.Errorf("expected a TLS failure, got status=%v error=%v", result.StatusCode, result.ErrorMessage)
	}
}

type silentError struct{}

func (silentError) Error() string { return "" }

func TestDescribeError(t *testing.T) {
	if got := *describeError(errors.New("boom")); got != "boom" {
		t.Errorf("expected error text, got %q", got)
	}
	if got := *describeError(silentError{}); got != "checker.silentError" {
		t.Errorf("expected type name for an empty error, got %q", got)
	}
}

func boolPtr(b bool) *bool { return &b }
