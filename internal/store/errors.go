package store

import "errors"

var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrDuplicateKey    = errors.New("already exists")
	ErrLockNotAcquired = errors.New("advisory lock not acquired")
)
