package listings

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("listing not found")
	ErrConflict = errors.New("listing conflict")
)

// ConflictError reports more than one stored listing sharing a natural key.
// It is an integrity fault and is never resolved automatically.
type ConflictError struct {
	Key     NaturalKey
	Matches []int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%d stored listings share key %s/%d/%s: ids %v",
		len(e.Matches), e.Key.SourceType, e.Key.SourceID, e.Key.LocalID, e.Matches)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
