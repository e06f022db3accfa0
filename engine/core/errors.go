package core

import (
	"errors"
)

var (
	// setup
	ErrReflection          = errors.New("kernel reflection failed")
	ErrBindingKindMismatch = errors.New("descriptor kind mismatch between stages")
	ErrPoolExhausted       = errors.New("binding pool exhausted")
	ErrCompile             = errors.New("kernel compilation failed")
	ErrKernelNotFound      = errors.New("kernel not found")
	ErrDevice              = errors.New("device operation failed")

	// programmer contract
	ErrUnknownField   = errors.New("unknown uniform field")
	ErrLayoutMismatch = errors.New("value width does not match field layout")
	ErrUnboundBinding = errors.New("no such set/binding in pass")
	ErrInvalidStage   = errors.New("invalid stage index")
	ErrPassState      = errors.New("compute pass in wrong state")
	ErrInvalidConfig  = errors.New("invalid configuration")

	// device level
	ErrDeviceLost    = errors.New("device lost")
	ErrNotMappable   = errors.New("buffer memory is not host visible")
	ErrBufferRange   = errors.New("data does not fit buffer")
	ErrBackendClosed = errors.New("backend already shut down")
	ErrTimeout       = errors.New("wait timed out")

	// validation
	ErrValidation = errors.New("sorted output does not match reference")

	ErrUnknown = errors.New("unknown")
)
