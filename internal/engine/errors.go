package engine

import "errors"

var (
	ErrNotJoined      = errors.New("peer has not joined a room")
	ErrTargetNotFound = errors.New("signal target not found in room")
	ErrInvalidField   = errors.New("invalid field")
	ErrSendFailed     = errors.New("send failed")
	ErrRateLimited    = errors.New("rate limit exceeded")
)
