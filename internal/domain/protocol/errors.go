package protocol

import "errors"

var (
	ErrNotFound            = errors.New("protocol not found")
	ErrDuplicateNumber     = errors.New("duplicate protocol number")
	ErrSnapshotUnavailable = errors.New("no print snapshot available")
	ErrSnapshotCorrupt     = errors.New("print snapshot is corrupt")
	ErrInvalidPriority     = errors.New("invalid priority")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrInvalidInput        = errors.New("invalid input")
)
