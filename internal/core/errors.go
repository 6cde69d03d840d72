package core

// Error codes for domain errors surfaced to clients.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeAlreadyJoined = "already_joined"
	ErrCodeNotInContext  = "not_in_context"
	ErrCodeSendFailed    = "send_failed"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeUnauthorized  = "unauthorized"

	// Call-related error codes
	ErrCodeCallsDisabled  = "calls_disabled"
	ErrCodeCallNotFound   = "call_not_found"
	ErrCodeCallEnded      = "call_ended"
	ErrCodeNotParticipant = "not_participant"
	ErrCodeCallError      = "call_error"
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
