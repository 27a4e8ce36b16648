package domain

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("invalid input")
	ErrConflict             = errors.New("seats unavailable")
	ErrBusy                 = errors.New("seat map busy")
	ErrStaleState           = errors.New("stale booking state")
	ErrDuplicateReference   = errors.New("duplicate payment reference")
	ErrSerializationFailure = errors.New("serialization failure")
)

// ConflictError reports which seats blocked an all-or-nothing hold. It
// matches ErrConflict under errors.Is so boundary code can branch on the
// sentinel without caring about the payload.
type ConflictError struct {
	UnavailableSeats []string
}

func (e *ConflictError) Error() string {
	return "seats unavailable: " + strings.Join(e.UnavailableSeats, ", ")
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
