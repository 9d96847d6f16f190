package perchdb

import (
	"errors"

	"perchdb/internal/base"
	"perchdb/internal/cache"
)

//goland:noinspection GoUnusedGlobalVariable
var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrIndexClosed     = errors.New("index is closed")
	ErrKeyEmpty        = errors.New("key cannot be empty")
	ErrDuplicateObject = errors.New("object already indexed under key")

	ErrKeyTooLarge   = base.ErrKeyTooLarge
	ErrPageOverflow  = base.ErrPageOverflow
	ErrInvalidOffset = base.ErrInvalidOffset
	ErrInvalidSlot   = base.ErrInvalidSlot
	ErrWrongPageKind = base.ErrWrongPageKind

	ErrInvalidMagicNumber = base.ErrInvalidMagicNumber
	ErrInvalidVersion     = base.ErrInvalidVersion
	ErrInvalidPageSize    = base.ErrInvalidPageSize
	ErrInvalidChecksum    = base.ErrInvalidChecksum

	ErrPoolExhausted = cache.ErrPoolExhausted
	ErrPageNotPinned = cache.ErrPageNotPinned
)
