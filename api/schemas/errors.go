package schemas

import (
	"errors"
	"fmt"
)

// ErrorCode identifies one kind of page-load or navigation failure. The set
// is closed: the classifier and the driver only ever produce these codes.
type ErrorCode string

const (
	// Navigation errors the driver may return from GotoURL. These two are
	// recoverable: they downgrade into a reported page-load error instead of
	// aborting the run.
	ErrNoFCP    ErrorCode = "NO_FCP"
	ErrPageHung ErrorCode = "PAGE_HUNG"

	// Network document errors produced by the classifier.
	ErrNoDocumentRequest      ErrorCode = "NO_DOCUMENT_REQUEST"
	ErrFailedDocumentRequest  ErrorCode = "FAILED_DOCUMENT_REQUEST"
	ErrDNSFailure             ErrorCode = "DNS_FAILURE"
	ErrErroredDocumentRequest ErrorCode = "ERRORED_DOCUMENT_REQUEST"

	// Interstitial errors: the browser substituted its own error page.
	ErrInsecureDocumentRequest ErrorCode = "INSECURE_DOCUMENT_REQUEST"
	ErrChromeInterstitial      ErrorCode = "CHROME_INTERSTITIAL_ERROR"
)

// PageError is a coded, user-presentable load failure. It is reported into
// the base artifacts and as a run warning, never thrown through the engine.
type PageError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	// ErrorReason carries the browser's native failure description
	// (e.g. "net::ERR_NAME_NOT_RESOLVED") when one exists.
	ErrorReason string `json:"errorReason,omitempty"`
	// StatusCode is set for ERRORED_DOCUMENT_REQUEST, as a string to match
	// the reporting layer's expectations.
	StatusCode string `json:"statusCode,omitempty"`
}

// NewPageError builds a PageError with a formatted message.
func NewPageError(code ErrorCode, format string, args ...any) *PageError {
	return &PageError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *PageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FriendlyMessage is the human-readable warning attached to a truncated run.
func (e *PageError) FriendlyMessage() string {
	return e.Message
}

// IsRecoverableNavigationError reports whether err is one of the two
// navigation failures that downgrade into a reported load error. Any other
// error from GotoURL is fatal to the run.
func IsRecoverableNavigationError(err error) bool {
	var pe *PageError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Code == ErrNoFCP || pe.Code == ErrPageHung
}
