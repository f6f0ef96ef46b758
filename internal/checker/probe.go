package checker

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"regexp"
	"sync"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/net/http2"

	"urlwatch/internal/models"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultRequestTimeout = 10 * time.Second

	userAgent = "urlwatch/1.0"
)

// Prober performs a single check against a URL.
type Prober interface {
	// Probe never fails; problems are reported through the returned result.
	Probe(ctx context.Context, url string, pattern *string) models.CheckResult
}

// ProbeOptions configures an HTTPProber. Zero durations select the defaults.
type ProbeOptions struct {
	ConnectTimeout     time.Duration
	RequestTimeout     time.Duration
	InsecureSkipVerify bool
}

// HTTPProber issues one instrumented GET per probe over a fresh connection.
type HTTPProber struct {
	opts   ProbeOptions
	logger *slog.Logger
}

// NewHTTPProber creates a new HTTPProber.
func NewHTTPProber(opts ProbeOptions, logger *slog.Logger) *HTTPProber {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	return &HTTPProber{opts: opts, logger: logger}
}

// newClient builds a client that never reuses connections and never follows redirects.
func (p *HTTPProber) newClient() *http.Client {
	dialer := &net.Dialer{Timeout: p.opts.ConnectTimeout}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: p.opts.ConnectTimeout,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: p.opts.InsecureSkipVerify},
		DisableKeepAlives:   true,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		p.logger.Debug("http2 not available for probe transport", "err", err)
	}
	return &http.Client{
		Timeout:   p.opts.RequestTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, url string, pattern *string) models.CheckResult {
	result := models.NewCheckResult()

	var (
		rx         *regexp.Regexp
		patternErr *string
	)
	if pattern != nil && *pattern != "" {
		compiled, err := regexp.Compile("(?ms)" + *pattern)
		if err != nil {
			msg := fmt.Sprintf("invalid content pattern %q: %v", *pattern, err)
			p.logger.Warn("invalid content pattern", "url", url, "pattern", *pattern, "err", err)
			patternErr = &msg
		} else {
			rx = compiled
		}
	}

	timer := &phaseTimer{}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, timer.trace()), http.MethodGet, url, nil)
	if err != nil {
		result.ErrorMessage = describeError(err)
		return result
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.newClient().Do(req)
	if err != nil {
		timer.fill(&result, time.Time{})
		result.ErrorMessage = describeError(err)
		return result
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		timer.fill(&result, time.Time{})
		result.ErrorMessage = describeError(err)
		return result
	}
	timer.fill(&result, time.Now())

	status := resp.StatusCode
	result.StatusCode = &status

	switch {
	case patternErr != nil:
		result.ErrorMessage = patternErr
	case rx != nil:
		matched := rx.Match(decodeBody(body, resp.Header.Get("Content-Type")))
		result.ContentMatch = &matched
	}
	return result
}

// decodeBody converts body to UTF-8 using the declared or sniffed charset.
func decodeBody(body []byte, contentType string) []byte {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return decoded
}

func describeError(err error) *string {
	msg := err.Error()
	if msg == "" {
		msg = fmt.Sprintf("%T", err)
	}
	return &msg
}

// phaseTimer collects the trace events of one request.
//
// Connection time is the latest of connect, TLS handshake and connection
// acquisition. TTFB is taken when the request has been written, i.e. when the
// client starts waiting for the response headers.
type phaseTimer struct {
	mu        sync.Mutex
	start     time.Time
	connected time.Time
	wrote     time.Time
}

func (t *phaseTimer) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart:     func(httptrace.DNSStartInfo) { t.begin() },
		ConnectStart: func(string, string) { t.begin() },
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				t.connect()
			}
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				t.connect()
			}
		},
		GotConn: func(httptrace.GotConnInfo) { t.connect() },
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err != nil {
				return
			}
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.wrote.IsZero() {
				t.wrote = time.Now()
			}
		},
	}
}

func (t *phaseTimer) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.start.IsZero() {
		t.start = time.Now()
	}
}

func (t *phaseTimer) connect() {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wrote.IsZero() && now.After(t.connected) {
		t.connected = now
	}
}

// fill copies the measured phases into result. A zero done leaves ResponseMS unset.
func (t *phaseTimer) fill(result *models.CheckResult, done time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	result.ConnectionMS = t.since(t.connected)
	result.TTFBMS = t.since(t.wrote)
	result.ResponseMS = t.since(done)
}

func (t *phaseTimer) since(at time.Time) int64 {
	if t.start.IsZero() || at.IsZero() {
		return models.NotMeasured
	}
	return at.Sub(t.start).Milliseconds()
}
