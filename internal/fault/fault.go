// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package fault defines the error taxonomy shared by the transport, retry
// and inference layers.
//
// Every failure that crosses a package boundary is a *Error carrying a Kind.
// The Kind decides retry eligibility and the user-facing message; neither is
// ever derived from free-form error text.
package fault

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
)

// =============================================================================
// KINDS
// =============================================================================

// Kind categorizes a failure for retry and display decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindConnectionFailed
	KindServerError
	KindClientError
	KindCancelled
	KindOffline
	KindInvalidModel
	KindNoModelSelected
	KindInvalidResponse
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindTimeout:          "timeout",
	KindConnectionFailed: "connection_failed",
	KindServerError:      "server_error",
	KindClientError:      "client_error",
	KindCancelled:        "cancelled",
	KindOffline:          "offline",
	KindInvalidModel:     "invalid_model",
	KindNoModelSelected:  "no_model_selected",
	KindInvalidResponse:  "invalid_response",
}

// String returns a stable lowercase name, suitable for log fields and
// metric labels.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Retryable reports whether a failure of this kind may be retried by the
// retry policy. Only transient network and server-side conditions qualify.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindConnectionFailed, KindServerError:
		return true
	default:
		return false
	}
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Phase identifies which transport budget a timeout belongs to.
type Phase string

const (
	PhaseNone    Phase = ""
	PhaseConnect Phase = "connect"
	PhaseSend    Phase = "send"
	PhaseReceive Phase = "receive"
)

// Error is a classified failure.
type Error struct {
	Kind Kind

	// Status is the HTTP status code for server and client errors, 0 otherwise.
	Status int

	// Phase is set for timeouts.
	Phase Phase

	// Message overrides the table-driven user message when non-empty.
	Message string

	Cause error
}

func (e *Error) Error() string {
	msg := e.UserMessage()
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by Kind, so sentinels like ErrCancelled work
// with errors.Is regardless of status or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Status == 0 || t.Status == e.Status)
}

// UserMessage returns the message shown to the user for this failure.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return UserMessage(e.Kind, e.Status)
}

// Retryable reports whether the failure may be retried.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// Sentinel errors for errors.Is checks.
var (
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrConnectionFailed = &Error{Kind: KindConnectionFailed}
	ErrServerError      = &Error{Kind: KindServerError}
	ErrClientError      = &Error{Kind: KindClientError}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrOffline          = &Error{Kind: KindOffline}
	ErrInvalidModel     = &Error{Kind: KindInvalidModel}
	ErrNoModelSelected  = &Error{Kind: KindNoModelSelected}
	ErrInvalidResponse  = &Error{Kind: KindInvalidResponse}
)

// New creates an error of the given kind wrapping cause.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Timeout creates a timeout error for the given phase.
func Timeout(phase Phase, cause error) *Error {
	return &Error{Kind: KindTimeout, Phase: phase, Cause: cause}
}

// Offline creates an offline error with a specific message.
func Offline(message string) *Error {
	return &Error{Kind: KindOffline, Message: message}
}

// =============================================================================
// USER MESSAGES
// =============================================================================

// Messages shown for each kind. Client errors use statusMessages instead.
var kindMessages = map[Kind]string{
	KindUnknown:          "An unexpected error occurred.",
	KindTimeout:          "Request timed out. Check your connection and try again.",
	KindConnectionFailed: "Connection failed. Check your network and try again.",
	KindServerError:      "Server error. Please try again later.",
	KindCancelled:        "Request cancelled",
	KindOffline:          "No network connection",
	KindInvalidModel:     "Model is not available on the server",
	KindNoModelSelected:  "No model selected",
	KindInvalidResponse:  "Unexpected response from server",
}

var statusMessages = map[int]string{
	http.StatusBadRequest:            "Bad request",
	http.StatusUnauthorized:          "Unauthorized",
	http.StatusForbidden:             "Access denied",
	http.StatusNotFound:              "Resource not found",
	http.StatusMethodNotAllowed:      "Method not allowed",
	http.StatusRequestTimeout:        "Request timeout",
	http.StatusRequestEntityTooLarge: "Request too large",
	http.StatusUnprocessableEntity:   "Invalid request",
	http.StatusTooManyRequests:       "Too many requests",
}

// UserMessage returns the fixed user-facing message for kind. status is only
// consulted for client errors.
func UserMessage(kind Kind, status int) string {
	if kind == KindClientError {
		if msg, ok := statusMessages[status]; ok {
			return msg
		}
		return "Request failed (HTTP " + strconv.Itoa(status) + ")"
	}
	if msg, ok := kindMessages[kind]; ok {
		return msg
	}
	return kindMessages[KindUnknown]
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// FromStatus classifies a non-success HTTP status. It returns nil for 2xx
// and 3xx codes.
func FromStatus(status int) *Error {
	switch {
	case status >= 500:
		return &Error{Kind: KindServerError, Status: status}
	case status >= 400:
		return &Error{Kind: KindClientError, Status: status}
	default:
		return nil
	}
}

// Classify maps an arbitrary error onto the taxonomy using only its
// structure: wrapped sentinels, net.Error and syscall errnos.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	if errors.Is(err, context.Canceled) {
		return New(KindCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return New(KindTimeout, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return New(KindConnectionFailed, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return New(KindConnectionFailed, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return New(KindConnectionFailed, err)
	}

	return New(KindUnknown, err)
}

// KindOf returns the Kind of err, or KindUnknown when err is nil or
// unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	return Classify(err).Kind
}
