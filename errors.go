package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors returned by the router client and the account manager.
var (
	// ErrSessionExpired indicates the backend rejected the session secret (401).
	ErrSessionExpired = errors.New("session expired, import the cookie again")

	// ErrWAFBlocked indicates the anti-bot gate could not be passed.
	ErrWAFBlocked = errors.New("blocked by WAF, automatic bypass failed")

	// ErrInvalidResponse indicates a payload that could not be understood.
	ErrInvalidResponse = errors.New("invalid response data")

	// ErrNoSecret indicates no session secret is stored for the account.
	ErrNoSecret = errors.New("no session cookie set")

	// ErrNoIdentifier indicates the account has no identity header value and none
	// could be decoded from its session secret.
	ErrNoIdentifier = errors.New("no account identifier")
)

// HTTPError is a non-2xx status other than 401 and 403.
type HTTPError struct {
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error: %d", e.Code)
}

// CheckInError carries the backend's reason for a rejected check-in.
type CheckInError struct {
	Message string
}

func (e *CheckInError) Error() string {
	return "check-in failed: " + e.Message
}

// statusError maps an HTTP status to the error taxonomy. 2xx yields nil.
func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 401:
		return ErrSessionExpired
	case code == 403:
		return ErrWAFBlocked
	default:
		return &HTTPError{Code: code}
	}
}

// networkErrorPatterns contains error message substrings that indicate a transport failure.
var networkErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"context deadline exceeded",
	"TLS handshake timeout",
	"EOF",
	"malformed HTTP response",
	"transport connection broken",
	"use of closed network connection",
}

// IsNetworkError reports whether err came from the transport rather than the backend.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	errStr := err.Error()
	for _, pattern := range networkErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// UserMessage renders err as the status text shown for an account.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var httpErr *HTTPError
	var checkInErr *CheckInError
	switch {
	case errors.Is(err, ErrSessionExpired):
		return ErrSessionExpired.Error()
	case errors.Is(err, ErrWAFBlocked):
		return ErrWAFBlocked.Error()
	case errors.Is(err, ErrInvalidResponse):
		return ErrInvalidResponse.Error()
	case errors.As(err, &httpErr):
		return httpErr.Error()
	case errors.As(err, &checkInErr):
		return checkInErr.Error()
	case IsNetworkError(err):
		return "network error: " + err.Error()
	default:
		return err.Error()
	}
}
