package store

import "errors"

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrCorruptState     = errors.New("corrupt window state")
)
