package task

import (
	"strings"

	"github.com/google/uuid"

	"github.com/dean0x/claudine-sub000/internal/errs"
)

// maxIDLength bounds an externally-supplied id; generated ids are always
// well under this via uuid.NewString().
const maxIDLength = 128

// ID is an opaque task identifier. The zero value is never valid.
type ID string

// NewID generates a fresh, globally-unique task id.
func NewID() ID {
	return ID(uuid.NewString())
}

// ParseID validates a caller-supplied id string, rejecting empty or
// oversized input per the opaque-value-type constructor design note.
func ParseID(s string) (ID, error) {
	if strings.TrimSpace(s) == "" {
		return "", errs.New(errs.InvalidTaskID, "task id must not be empty")
	}
	if len(s) > maxIDLength {
		return "", errs.New(errs.InvalidTaskID, "task id exceeds maximum length")
	}
	return ID(s), nil
}

func (id ID) String() string {
	return string(id)
}
