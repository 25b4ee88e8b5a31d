package erp

import (
	"fmt"
	"net/http"
)

// The backend surfaces exactly three failure classes to callers. No call is
// retried here; retry policy belongs to whoever issued the command.

// AuthError means the bearer credential is missing, invalid or expired. The
// caller must abandon the current command and re-authenticate.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("erp auth: %s", e.Message)
}

// ConflictError means the document's server-side state no longer matches the
// pre-condition for the action (already approved, voided, not approved).
// Blind retry could apply the wrong transition, so callers must not auto-retry.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("erp conflict: %s", e.Message)
}

// TransportError covers network failures and 5xx responses. A user-initiated
// retry re-sends the same mutation, which the backend treats idempotently per
// document key.
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("erp transport: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("erp transport: %s", e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an upstream HTTP status to the error taxonomy. The ERP
// does not document a dedicated conflict code, so both 409 and 422 are read
// as "pre-condition no longer holds".
func classifyStatus(status int, detail string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Message: detail}
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return &ConflictError{Message: detail}
	default:
		return &TransportError{Message: fmt.Sprintf("status %d: %s", status, detail)}
	}
}
