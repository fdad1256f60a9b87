// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport issues single HTTP attempts against the inference server.
//
// A Transport knows nothing about retries or the Ollama API. It resolves a
// path against its base address, enforces three independent timeout budgets
// (connect, send, receive) and reports every failure as a *fault.Error.
// Non-2xx responses are returned as responses, not errors; callers decide
// what a status means.
package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/ollamalink/internal/fault"
	"github.com/jeranaias/ollamalink/internal/logging"
	"github.com/jeranaias/ollamalink/internal/metrics"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	// DefaultTimeout applies to each budget that is left at zero.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseBytes caps how much of a response body is read.
	DefaultMaxResponseBytes = 10 * 1024 * 1024
)

// ErrInvalidBaseURL is returned for base addresses that are not absolute
// http(s) URLs with a host.
var ErrInvalidBaseURL = errors.New("base URL must be an absolute http or https URL with a host")

// Timeouts holds the per-attempt budgets. They are independent: a slow
// connect does not shorten the receive budget.
type Timeouts struct {
	// Connect covers DNS, dialing and TLS, until a connection is obtained.
	Connect time.Duration
	// Send covers writing the request once a connection is obtained.
	Send time.Duration
	// Receive covers waiting for and reading the full response body.
	Receive time.Duration
}

// DefaultTimeouts returns 30s for every budget.
func DefaultTimeouts() Timeouts {
	return Timeouts{Connect: DefaultTimeout, Send: DefaultTimeout, Receive: DefaultTimeout}
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Connect <= 0 {
		t.Connect = DefaultTimeout
	}
	if t.Send <= 0 {
		t.Send = DefaultTimeout
	}
	if t.Receive <= 0 {
		t.Receive = DefaultTimeout
	}
	return t
}

// Options configures New.
type Options struct {
	BaseURL  string
	Timeouts Timeouts

	// MaxResponseBytes defaults to DefaultMaxResponseBytes.
	MaxResponseBytes int64

	// DialContext replaces the default dialer, e.g. to route through a
	// custom network. The connect budget still applies.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	Logger zerolog.Logger
}

// =============================================================================
// REQUEST / RESPONSE
// =============================================================================

// Request is a single HTTP call relative to the base address.
type Request struct {
	Method string
	Path   string
	Body   []byte
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err classifies a non-2xx status, returning nil for success.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	if fe := fault.FromStatus(r.StatusCode); fe != nil {
		return fe
	}
	return &fault.Error{Kind: fault.KindInvalidResponse, Status: r.StatusCode}
}

// =============================================================================
// TRANSPORT
// =============================================================================

// Transport is safe for concurrent use.
type Transport struct {
	mu   sync.RWMutex
	base *url.URL

	timeouts Timeouts
	maxBody  int64
	client   *http.Client
	log      zerolog.Logger
}

// ParseBaseURL validates a base address.
func ParseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, ErrInvalidBaseURL
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" || u.Hostname() == "" {
		return nil, ErrInvalidBaseURL
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// New creates a Transport.
func New(opts Options) (*Transport, error) {
	base, err := ParseBaseURL(opts.BaseURL)
	if err != nil {
		return nil, err
	}

	timeouts := opts.Timeouts.withDefaults()
	maxBody := opts.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}

	// The dialer timeout backs up the traced connect budget; no client-wide
	// timeout is set because the budgets are enforced per phase.
	dial := opts.DialContext
	if dial == nil {
		dial = (&net.Dialer{Timeout: timeouts.Connect, KeepAlive: 30 * time.Second}).DialContext
	}
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dial,
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: timeouts.Connect,
		},
	}

	return &Transport{
		base:     base,
		timeouts: timeouts,
		maxBody:  maxBody,
		client:   client,
		log:      logging.Component(opts.Logger, "transport"),
	}, nil
}

// BaseURL returns the configured base address.
func (t *Transport) BaseURL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.base.String()
}

// SetBaseURL replaces the base address. Invalid addresses leave the current
// one in place.
func (t *Transport) SetBaseURL(raw string) error {
	base, err := ParseBaseURL(raw)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.base = base
	t.mu.Unlock()
	return nil
}

// WithBaseURL returns a Transport that shares this one's connection pool and
// budgets but targets another address. t itself is not modified.
func (t *Transport) WithBaseURL(raw string) (*Transport, error) {
	base, err := ParseBaseURL(raw)
	if err != nil {
		return nil, err
	}
	return &Transport{
		base:     base,
		timeouts: t.timeouts,
		maxBody:  t.maxBody,
		client:   t.client,
		log:      t.log,
	}, nil
}

// Timeouts returns the per-attempt budgets.
func (t *Transport) Timeouts() Timeouts {
	return t.timeouts
}

// Execute performs exactly one HTTP attempt.
//
// Cancelling ctx aborts the attempt promptly and yields a KindCancelled
// error, even when a timeout budget has also elapsed.
func (t *Transport) Execute(ctx context.Context, req Request) (*Response, error) {
	t.mu.RLock()
	target := t.base.JoinPath(req.Path)
	t.mu.RUnlock()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	b := newBudget(t.timeouts, cancel)
	defer b.stop()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(
		httptrace.WithClientTrace(attemptCtx, b.trace()),
		method, target.String(), body,
	)
	if err != nil {
		return nil, fault.New(fault.KindUnknown, err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	b.startConnect()

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, t.finish(req.Path, start, 0, t.classify(ctx, attemptCtx, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		return nil, t.finish(req.Path, start, resp.StatusCode, t.classify(ctx, attemptCtx, err))
	}
	if int64(len(data)) > t.maxBody {
		return nil, t.finish(req.Path, start, resp.StatusCode, &fault.Error{
			Kind:    fault.KindInvalidResponse,
			Status:  resp.StatusCode,
			Message: "Response too large",
		})
	}

	out := &Response{StatusCode: resp.StatusCode, Body: data}
	t.finish(req.Path, start, resp.StatusCode, out.Err())
	return out, nil
}

// classify decides which failure an aborted attempt represents. A cancelled
// caller context always wins over an elapsed budget.
func (t *Transport) classify(parent, attemptCtx context.Context, err error) *fault.Error {
	if perr := parent.Err(); perr != nil {
		if errors.Is(perr, context.Canceled) {
			return fault.New(fault.KindCancelled, perr)
		}
		return fault.New(fault.KindTimeout, perr)
	}

	var fe *fault.Error
	if cause := context.Cause(attemptCtx); cause != nil && errors.As(cause, &fe) {
		return fe
	}

	return fault.Classify(err)
}

func (t *Transport) finish(path string, start time.Time, status int, err error) error {
	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = fault.KindOf(err).String()
	}

	metrics.TransportAttempts.WithLabelValues(path, outcome).Inc()
	metrics.TransportDuration.WithLabelValues(path).Observe(elapsed.Seconds())

	ev := t.log.Debug()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str("endpoint", path).
		Int("status", status).
		Str("outcome", outcome).
		Dur("elapsed", elapsed).
		Msg("attempt finished")

	return err
}

// =============================================================================
// TIMEOUT BUDGETS
// =============================================================================

// budget runs one timer per phase and cancels the attempt with a phase
// specific cause when a timer fires.
type budget struct {
	mu       sync.Mutex
	timeouts Timeouts
	cancel   context.CancelCauseFunc
	timer    *time.Timer
	stopped  bool
}

func newBudget(timeouts Timeouts, cancel context.CancelCauseFunc) *budget {
	return &budget{timeouts: timeouts, cancel: cancel}
}

func (b *budget) arm(d time.Duration, phase fault.Phase) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(d, func() {
		b.cancel(fault.Timeout(phase, context.DeadlineExceeded))
	})
}

func (b *budget) startConnect() { b.arm(b.timeouts.Connect, fault.PhaseConnect) }

func (b *budget) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
	}
}

func (b *budget) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) {
			b.arm(b.timeouts.Send, fault.PhaseSend)
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			b.arm(b.timeouts.Receive, fault.PhaseReceive)
		},
	}
}
