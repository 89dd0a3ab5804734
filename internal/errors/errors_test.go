package errors

import (
	"fmt"
	"net/http"
	"testing"
)

// TestHTTPStatusMapping checks every code maps onto the documented status.
func TestHTTPStatusMapping(t *testing.T) {
	cases := map[ErrorCode]int{
		CAT_VALIDATION:    http.StatusBadRequest,
		CAT_MEDIA_TYPE:    http.StatusBadRequest,
		CAT_MEDIA_SIZE:    http.StatusBadRequest,
		CAT_TIMEOUT:       http.StatusRequestTimeout,
		CAT_AUTHN:         http.StatusUnauthorized,
		CAT_TOKEN_EXPIRED: http.StatusUnauthorized,
		CAT_AUTHZ:         http.StatusForbidden,
		CAT_NOT_FOUND:     http.StatusNotFound,
		CAT_CONFLICT:      http.StatusConflict,
		CAT_RATE_LIMITED:  http.StatusTooManyRequests,
		CAT_INTERNAL:      http.StatusInternalServerError,
		CAT_UNAVAILABLE:   http.StatusServiceUnavailable,
	}
	for code, want := range cases {
		if got := New(code, "x", "").HTTPStatus; got != want {
			t.Errorf("%s: got %d want %d", code, got, want)
		}
	}
}

// TestAsUnwraps verifies wrapped errors are still recognized.
func TestAsUnwraps(t *testing.T) {
	err := fmt.Errorf("create work: %w", Validation("title is required"))
	e, ok := As(err)
	if !ok {
		t.Fatal("As() did not find *Error in chain")
	}
	if e.Code != CAT_VALIDATION {
		t.Errorf("code = %s, want %s", e.Code, CAT_VALIDATION)
	}
	if !IsCode(err, CAT_VALIDATION) || IsCode(err, CAT_CONFLICT) {
		t.Error("IsCode() mismatch")
	}
}

func TestWithCorrelationCopies(t *testing.T) {
	base := NotFound("work not found")
	stamped := base.WithCorrelation("abc")
	if base.CorrelationID != "" {
		t.Error("WithCorrelation mutated the original")
	}
	if stamped.CorrelationID != "abc" || stamped.HTTPStatus != http.StatusNotFound {
		t.Errorf("unexpected stamped error %+v", stamped)
	}
}
