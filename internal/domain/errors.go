package domain

import "errors"

var (
	ErrNotFound           = errors.New("account not found")
	ErrConflict           = errors.New("account already exists")
	ErrValidation         = errors.New("invalid request")
	ErrAdapterUnavailable = errors.New("protocol adapter unavailable")
	ErrServerNotFound     = errors.New("server not found")
)
