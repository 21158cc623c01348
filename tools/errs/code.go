package errs

// Gateway error codes. Connection-level auth failures use ErrUnauthorized and
// never leave a session behind; the rest surface as scoped error events.
const (
	ValidationErrorCode   = 1400
	UnauthorizedErrorCode = 1401
	NotFoundErrorCode     = 1404
	BusyErrorCode         = 1486
	UpstreamErrorCode     = 1502
	ServerInternalError   = 1500
)

var (
	ErrUnauthorized = NewCodeError(UnauthorizedErrorCode, "unauthorized")
	ErrValidation   = NewCodeError(ValidationErrorCode, "validation failed")
	ErrNotFound     = NewCodeError(NotFoundErrorCode, "not found")
	ErrBusy         = NewCodeError(BusyErrorCode, "busy")
	ErrUpstream     = NewCodeError(UpstreamErrorCode, "upstream failure")
	ErrInternal     = NewCodeError(ServerInternalError, "internal error")
)
