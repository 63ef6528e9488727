package repository

import (
	"errors"

	"github.com/okian/rally/internal/domain/model"
)

// Sentinel kinds for store errors. The first three alias the domain kinds
// so callers can match either.
var (
	ErrNotFound            = model.ErrNotFound
	ErrConcurrencyConflict = model.ErrConcurrencyConflict
	ErrUnavailable         = model.ErrStoreUnavailable
	ErrMatchExists         = errors.New("match already exists")
	ErrInvalidCommit       = errors.New("invalid commit")
	ErrClosed              = errors.New("store closed")
)
