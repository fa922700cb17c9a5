package llmclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// quotaKeywords mark an error body as quota exhaustion even when the
// status code is not 429. The API reports RESOURCE_EXHAUSTED for both
// per-minute rate limits and daily quota.
var quotaKeywords = []string{"quota", "resource_exhausted", "rate limit"}

// ServiceError is a transport-level failure from the inference service,
// carrying the numeric status classification the caller-facing messaging
// distinguishes (429, 5xx, 400, 403, 404).
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("inference API error: status %d, body: %s", e.StatusCode, e.Body)
	if hint := e.Hint(); hint != "" {
		msg += " (" + hint + ")"
	}
	return msg
}

// Quota reports whether the failure is quota exhaustion: HTTP 429 or a
// quota keyword match in the error text. Quota failures on the premium
// model are what trigger the fallback policy.
func (e *ServiceError) Quota() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	body := strings.ToLower(e.Body)
	for _, kw := range quotaKeywords {
		if strings.Contains(body, kw) {
			return true
		}
	}
	return false
}

// Transient reports whether retrying is likely to succeed: quota
// exhaustion or a server-side fault. Everything else fails immediately.
func (e *ServiceError) Transient() bool {
	return e.Quota() || e.StatusCode >= http.StatusInternalServerError
}

// Hint annotates permanent failures with their likely cause.
func (e *ServiceError) Hint() string {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return "likely cause: unsupported media format or size"
	case http.StatusForbidden:
		return "likely cause: invalid API key"
	case http.StatusNotFound:
		return "likely cause: model not found or access not granted"
	}
	return ""
}

// IsQuota reports whether err is (or wraps) a quota-classified service
// error.
func IsQuota(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Quota()
}

// failureClass names the error class for retry logging.
func failureClass(err error) string {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		return "network"
	}
	if svcErr.Quota() {
		return "quota"
	}
	if svcErr.StatusCode >= http.StatusInternalServerError {
		return "server_fault"
	}
	return "permanent"
}
