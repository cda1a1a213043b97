package gateway

import "errors"

// Gateway errors
var (
	ErrConnClosed       = errors.New("connection closed")
	ErrWriteChannelFull = errors.New("write channel full")
	ErrInvalidProtocol  = errors.New("invalid protocol")
	ErrUserIdMismatch   = errors.New("user Id mismatch")
	ErrNotInCall        = errors.New("not in call")
	ErrPanic            = errors.New("panic error")
)
