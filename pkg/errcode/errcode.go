package errcode

import "fmt"

// Error represents a business error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code: e.Code,
		Msg:  fmt.Sprintf("%s: %v", e.Msg, err),
	}
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam   = New(1001, "invalid parameter")
	ErrInternalServer = New(1002, "internal server error")
	ErrUnauthorized   = New(1003, "unauthorized")

	// Auth errors (2xxx)
	ErrTokenInvalid  = New(2001, "token invalid")
	ErrTokenExpired  = New(2002, "token expired")
	ErrTokenMissing  = New(2003, "token missing")
	ErrTokenMismatch = New(2004, "token user mismatch")

	// Conversation / membership errors (3xxx).
	// ErrNoAccess covers both missing membership and missing target
	// rows so a caller cannot distinguish "not allowed" from "gone".
	ErrNoAccess       = New(3001, "no access to this conversation")
	ErrNoCapability   = New(3002, "missing required capability")
	ErrOwnerImmutable = New(3003, "owner role cannot be changed or removed")
	ErrInvalidRole    = New(3004, "invalid role")
	ErrAlreadyMember  = New(3005, "already a member")
	ErrSelfTarget     = New(3006, "operation cannot target yourself")

	// Message errors (4xxx)
	ErrEmptyMessage     = New(4001, "message needs content or an attachment")
	ErrContentTooLong   = New(4002, "message content too long")
	ErrEditWindowClosed = New(4003, "edit window has closed")
	ErrReplyCrossConv   = New(4004, "reply target is in another conversation")
	ErrInvalidEmoji     = New(4005, "invalid emoji")
	ErrSendFailed       = New(4006, "message send failed")

	// Gateway / call errors (5xxx)
	ErrConnOverLimit   = New(5001, "connection over max limit")
	ErrConnClosed      = New(5002, "connection closed")
	ErrInvalidProtocol = New(5003, "invalid protocol")
	ErrNotInRoom       = New(5004, "connection has not joined this room")
	ErrNotInCall       = New(5005, "connection has not joined this call")
)
