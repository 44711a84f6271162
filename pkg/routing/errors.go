package routing

import (
	"errors"
	"fmt"
)

// Common routing errors that can be checked with errors.Is().
var (
	// ErrGroupNotFound is returned when a reference names an unknown
	// task group.
	ErrGroupNotFound = errors.New("task group not found")

	// ErrEchelonNotFound is returned when a reference names an unknown
	// echelon within an existing group.
	ErrEchelonNotFound = errors.New("echelon not found")
)

// NotFoundError is returned when a group reference does not resolve
// against the currently loaded routing table.
type NotFoundError struct {
	// Reference is the reference that failed to resolve.
	Reference GroupReference

	// KnownGroups lists the groups present in the table snapshot the
	// lookup ran against.
	KnownGroups []string

	// missingEchelon marks an existing group with an unknown echelon.
	missingEchelon bool
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.missingEchelon {
		return fmt.Sprintf("echelon %q not found in task group %q", e.Reference.Echelon, e.Reference.Group)
	}
	return fmt.Sprintf("task group %q not found", e.Reference.Group)
}

// Is implements error matching for errors.Is().
func (e *NotFoundError) Is(target error) bool {
	if e.missingEchelon {
		return target == ErrEchelonNotFound
	}
	return target == ErrGroupNotFound
}
