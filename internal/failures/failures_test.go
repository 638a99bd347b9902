package failures

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"testing"

	"github.com/sony/gobreaker/v2"
)

func envelope(code int, reason string) []byte {
	return fmt.Appendf(nil, `{"error":{"code":%d,"message":"failure %s","errors":[{"reason":%q,"domain":"youtube.quota"}]}}`, code, reason, reason)
}

func TestFromResponse(t *testing.T) {
	tt := []struct {
		name      string
		status    int
		body      []byte
		want      Category
		retryable bool
	}{
		{name: "403 quotaExceeded", status: 403, body: envelope(403, "quotaExceeded"), want: QuotaExceeded},
		{name: "403 dailyLimitExceeded", status: 403, body: envelope(403, "dailyLimitExceeded"), want: PermissionDenied},
		{name: "403 rateLimitExceeded", status: 403, body: envelope(403, "rateLimitExceeded"), want: PermissionDenied},
		{name: "403 userRateLimitExceeded", status: 403, body: envelope(403, "userRateLimitExceeded"), want: PermissionDenied},
		{name: "403 quotaExceeded after other reason", status: 403, body: []byte(`{"error":{"code":403,"errors":[{"reason":"forbidden"},{"reason":"quotaExceeded"}]}}`), want: QuotaExceeded},
		{name: "403 reason only at top level", status: 403, body: []byte(`{"error":{"code":403,"status":"quotaExceeded"}}`), want: PermissionDenied},
		{name: "403 forbidden", status: 403, body: envelope(403, "forbidden"), want: PermissionDenied},
		{name: "403 no body", status: 403, want: PermissionDenied},
		{name: "403 html body", status: 403, body: []byte("<html>nope</html>"), want: PermissionDenied},
		{name: "401", status: 401, body: envelope(401, "authError"), want: Unknown},
		{name: "429", status: 429, want: RateLimited, retryable: true},
		{name: "404", status: 404, body: envelope(404, "playlistNotFound"), want: NotFound},
		{name: "400", status: 400, body: envelope(400, "invalidValue"), want: InvalidRequest},
		{name: "500", status: 500, want: ServerError, retryable: true},
		{name: "503", status: 503, want: ServerError, retryable: true},
		{name: "409", status: 409, want: Unknown},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			ce := FromResponse(tc.status, tc.body, nil)
			if ce.Category != tc.want {
				t.Errorf("category = %s, want %s", ce.Category, tc.want)
			}
			if ce.Retryable != tc.retryable {
				t.Errorf("retryable = %v, want %v", ce.Retryable, tc.retryable)
			}
			if ce.Remediation == "" {
				t.Error("remediation should never be empty")
			}
			if ce.Status != tc.status {
				t.Errorf("status = %d, want %d", ce.Status, tc.status)
			}
		})
	}
}

func TestParseEnvelope(t *testing.T) {
	tt := []struct {
		name       string
		body       string
		wantReason string
	}{
		{name: "single reason", body: `{"error":{"message":"m","errors":[{"reason":"forbidden"}]}}`, wantReason: "forbidden"},
		{name: "quota reason anywhere wins", body: `{"error":{"message":"m","errors":[{"reason":"forbidden"},{"reason":"quotaExceeded"}]}}`, wantReason: "quotaExceeded"},
		{name: "first non-empty reason", body: `{"error":{"message":"m","errors":[{"reason":""},{"reason":"insufficientPermissions"}]}}`, wantReason: "insufficientPermissions"},
		{name: "no nested errors", body: `{"error":{"message":"m"}}`},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			reason, message := parseEnvelope([]byte(tc.body))
			if reason != tc.wantReason {
				t.Errorf("reason = %q, want %q", reason, tc.wantReason)
			}
			if message != "m" {
				t.Errorf("message = %q, want m", message)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	quota := &HTTPError{Status: 403, Body: envelope(403, "quotaExceeded")}

	tt := []struct {
		name string
		err  error
		want Category
	}{
		{name: "http error", err: quota, want: QuotaExceeded},
		{name: "wrapped http error", err: fmt.Errorf("insert item: %w", quota), want: QuotaExceeded},
		{name: "net timeout", err: timeoutErr{}, want: NetworkError},
		{name: "url error", err: &url.Error{Op: "Get", URL: "http://x", Err: errors.New("connection refused")}, want: NetworkError},
		{name: "deadline", err: context.DeadlineExceeded, want: NetworkError},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: NetworkError},
		{name: "network sentinel", err: fmt.Errorf("%w: proxy down", ErrNetwork), want: NetworkError},
		{name: "breaker open", err: gobreaker.ErrOpenState, want: ServerError},
		{name: "cancelled", err: &url.Error{Op: "Get", URL: "http://x", Err: context.Canceled}, want: Unknown},
		{name: "plain", err: errors.New("boom"), want: Unknown},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			ce := Classify(tc.err)
			if ce.Category != tc.want {
				t.Errorf("Classify(%v) = %s, want %s", tc.err, ce.Category, tc.want)
			}
			if !errors.Is(ce, tc.err) && tc.name != "wrapped http error" {
				t.Errorf("classified error should wrap its cause")
			}
		})
	}

	t.Run("nil", func(t *testing.T) {
		if Classify(nil) != nil {
			t.Error("Classify(nil) should be nil")
		}
	})

	t.Run("already classified is returned as is", func(t *testing.T) {
		ce := New(NotFound, 404, "", "gone", nil)
		if got := Classify(fmt.Errorf("task: %w", ce)); got != ce {
			t.Errorf("expected same pointer, got %v", got)
		}
	})

	t.Run("errors.Is by category", func(t *testing.T) {
		ce := Classify(quota)
		if !errors.Is(ce, Of(QuotaExceeded)) {
			t.Error("expected match on QUOTA_EXCEEDED template")
		}
		if errors.Is(ce, Of(RateLimited)) {
			t.Error("unexpected match on RATE_LIMITED template")
		}
	})
}

func TestCategory(t *testing.T) {
	for _, c := range Categories {
		if c.Remediation() == "" {
			t.Errorf("%s has no remediation", c)
		}
		if ParseCategory(string(c)) != c {
			t.Errorf("ParseCategory(%s) did not round trip", c)
		}
	}

	if ParseCategory("bogus") != Unknown {
		t.Error("unknown names should parse to UNKNOWN")
	}

	for _, c := range []Category{QuotaExceeded, PermissionDenied, NotFound, InvalidRequest, Unknown} {
		if c.Retryable() {
			t.Errorf("%s must not be retryable", c)
		}
	}
}
