package apperr

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrUnknownVersion = errors.New("unknown version")
	ErrInvalidDOI     = errors.New("invalid doi")
)
