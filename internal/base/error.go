package base

import "errors"

var (
	ErrInvalidOffset      = errors.New("invalid offset: out of bounds")
	ErrInvalidSlot        = errors.New("slot index out of range")
	ErrWrongPageKind      = errors.New("operation on wrong page kind")
	ErrKeyTooLarge        = errors.New("key too large")
	ErrInvalidMagicNumber = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("invalid format version")
	ErrInvalidPageSize    = errors.New("invalid Page Size")
	ErrInvalidChecksum    = errors.New("invalid checksum")
	ErrPageOverflow       = errors.New("page overflow")
)
