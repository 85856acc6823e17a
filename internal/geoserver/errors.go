package geoserver

import (
	"fmt"
	"strings"

	"github.com/yungbote/geoatlas-backend/internal/platform/httpx"
)

// RequestError is any non-2xx answer from the catalog. Retryable
// follows HTTP semantics: timeouts, throttling and 5xx retry, the
// rest do not.
type RequestError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if e == nil {
		return "geoserver: <nil error>"
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 2000 {
		msg = msg[:2000] + "..."
	}
	return fmt.Sprintf("geoserver %s: http %d: %s", e.Op, e.StatusCode, msg)
}

func (e *RequestError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	return httpx.IsRetryableHTTPStatus(e.StatusCode)
}

// ValidationError means the request itself is wrong (bad geometry,
// malformed archive, name the catalog rejects). Re-running the same
// request can never succeed, so the retry loop must not.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "geoserver: <nil validation error>"
	}
	return fmt.Sprintf("geoserver %s: %s", e.Op, e.Reason)
}

func (e *ValidationError) Retryable() bool { return false }

// NotFoundError distinguishes a missing resource from other 4xx.
// Cleanup treats it as success.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return "geoserver: <nil not found error>"
	}
	return fmt.Sprintf("geoserver %s: %s not found", e.Op, e.Resource)
}

func (e *NotFoundError) Retryable() bool { return false }
