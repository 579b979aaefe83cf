// Package ids mints the identifiers carbyr hands out: ULIDs for listings and
// UUIDs for import runs.
package ids

import (
	"crypto/rand"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var ulidRegex = regexp.MustCompile(`(?i)^[0-9A-HJKMNP-TV-Z]{26}$`)

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a listing's public id. Ids minted in the same millisecond
// still sort in minting order.
func NewULID() (string, error) {
	return newULIDAt(time.Now())
}

func newULIDAt(t time.Time) (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// IsULID reports whether value is a ULID (case-insensitive Crockford Base32).
func IsULID(value string) bool {
	return ulidRegex.MatchString(strings.TrimSpace(value))
}

// NewRunID identifies one import run across logs, spans and the import log.
func NewRunID() string {
	return uuid.NewString()
}
