// Package failures classifies provider and transport failures into a closed set of categories.
//
// Every failure crossing the write or read boundary is mapped to exactly one [Category] by [Classify]
// before any retry, pause, or context-switch decision is made.
package failures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	"github.com/sony/gobreaker/v2"
)

// Category is the closed set of failure kinds.
type Category string

const (
	RateLimited      Category = "RATE_LIMITED"
	QuotaExceeded    Category = "QUOTA_EXCEEDED"
	PermissionDenied Category = "PERMISSION_DENIED"
	NotFound         Category = "NOT_FOUND"
	InvalidRequest   Category = "INVALID_REQUEST"
	ServerError      Category = "SERVER_ERROR"
	NetworkError     Category = "NETWORK_ERROR"
	Unknown          Category = "UNKNOWN"
)

// Categories lists every category in reporting order.
var Categories = []Category{
	RateLimited, QuotaExceeded, PermissionDenied, NotFound, InvalidRequest, ServerError, NetworkError, Unknown,
}

var remediations = map[Category]string{
	RateLimited:      "The provider is throttling requests. Wait and retry, or raise --delay between writes.",
	QuotaExceeded:    "Daily quota is exhausted for this project. Add a project to the same quota group or resume after the Pacific-time midnight reset.",
	PermissionDenied: "The credential lacks access. Re-run `ytq auth login` for the project and check that the API is enabled and the playlist belongs to the account.",
	NotFound:         "The playlist or video does not exist or is not visible to this account. Check the source ID.",
	InvalidRequest:   "The provider rejected the request as malformed. Check titles, descriptions, and video IDs.",
	ServerError:      "The provider returned a server error. Retry later.",
	NetworkError:     "The provider could not be reached. Check connectivity and the proxy, then retry.",
	Unknown:          "Unexpected failure. Re-run with --verbose and inspect the error message.",
}

var retryable = map[Category]bool{
	RateLimited:  true,
	ServerError:  true,
	NetworkError: true,
}

// ErrNetwork marks failures that happened without a provider response.
var ErrNetwork = errors.New("network failure")

// Retryable reports whether failures of this category may be retried locally.
func (c Category) Retryable() bool {
	return retryable[c]
}

// Remediation returns the fixed operator guidance for the category.
func (c Category) Remediation() string {
	if r, ok := remediations[c]; ok {
		return r
	}
	return remediations[Unknown]
}

// ParseCategory parses a stored category name; unknown names map to [Unknown].
func ParseCategory(raw string) Category {
	c := Category(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := remediations[c]; ok {
		return c
	}
	return Unknown
}

// ClassifiedError is an immutable classification of one failure.
type ClassifiedError struct {
	Category    Category
	Message     string
	Status      int // 0 when no response was received
	Reason      string
	Retryable   bool
	Remediation string
	cause       error
}

// New builds a classified error of the given category around cause.
func New(category Category, status int, reason, message string, cause error) *ClassifiedError {
	return &ClassifiedError{
		Category:    category,
		Message:     message,
		Status:      status,
		Reason:      reason,
		Retryable:   category.Retryable(),
		Remediation: category.Remediation(),
		cause:       cause,
	}
}

func (e *ClassifiedError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Category))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d", e.Status)
		if e.Reason != "" {
			fmt.Fprintf(&b, ", reason %s", e.Reason)
		}
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Unwrap returns the underlying failure.
func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

// Is matches another [ClassifiedError] by category so errors.Is works against category templates.
func (e *ClassifiedError) Is(target error) bool {
	t, ok := target.(*ClassifiedError)
	return ok && t.Category == e.Category && t.Message == "" && t.Status == 0
}

// Of returns a template usable with errors.Is to match any error of the category.
func Of(c Category) error {
	return &ClassifiedError{Category: c}
}

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(string(e.Body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		return fmt.Sprintf("provider returned status %d", e.Status)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.Status, msg)
}

// apiErrorEnvelope is the Google API error body.
type apiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Domain  string `json:"domain"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

// quotaReason is the nested reason that separates an exhausted budget from other 403s.
const quotaReason = "quotaExceeded"

// parseEnvelope returns the decisive nested reason and the message, tolerating non-JSON bodies.
// Any nested quotaExceeded wins; otherwise the first non-empty reason is reported.
func parseEnvelope(body []byte) (reason, message string) {
	var env apiErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", strings.TrimSpace(string(body))
	}
	for _, e := range env.Error.Errors {
		if e.Reason == quotaReason {
			return quotaReason, env.Error.Message
		}
		if reason == "" {
			reason = e.Reason
		}
	}
	return reason, env.Error.Message
}

// FromResponse classifies an HTTP status and payload.
func FromResponse(status int, body []byte, cause error) *ClassifiedError {
	reason, message := parseEnvelope(body)
	if message == "" {
		message = http.StatusText(status)
	}

	var category Category
	switch {
	case status == http.StatusTooManyRequests:
		category = RateLimited
	case status == http.StatusForbidden && reason == quotaReason:
		category = QuotaExceeded
	case status == http.StatusForbidden:
		category = PermissionDenied
	case status == http.StatusNotFound:
		category = NotFound
	case status == http.StatusBadRequest:
		category = InvalidRequest
	case status >= 500 && status <= 599:
		category = ServerError
	default:
		category = Unknown
	}

	return New(category, status, reason, message, cause)
}

// Classify maps any failure to a [ClassifiedError]. A nil error returns nil.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	var he *HTTPError
	if errors.As(err, &he) {
		return FromResponse(he.Status, he.Body, err)
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return New(ServerError, 0, "", "circuit breaker open: "+err.Error(), err)
	}

	if errors.Is(err, context.Canceled) {
		return New(Unknown, 0, "", "operation cancelled", err)
	}

	if isTransport(err) {
		return New(NetworkError, 0, "", err.Error(), err)
	}

	return New(Unknown, 0, "", err.Error(), err)
}

func isTransport(err error) bool {
	if errors.Is(err, ErrNetwork) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
