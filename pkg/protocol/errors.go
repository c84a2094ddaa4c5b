package protocol

import "errors"

// Sentinel errors for codec failures.
var (
	ErrInvalidParameterLength = errors.New("invalid parameter length")
	ErrMalformedFrame         = errors.New("malformed frame")
	ErrOutOfRange             = errors.New("value out of range")
)
