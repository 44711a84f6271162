// Package routing maps group references to candidate models and fallback
// chains. The table is built from already-parsed configuration and is
// swapped atomically on reload: in-flight calls keep the snapshot they
// started with.
package routing

import (
	"fmt"
	"strings"
)

// GroupReference identifies a routing target: a task group plus an
// optional echelon. A reference without an echelon denotes all echelons
// of the group.
type GroupReference struct {
	// Group is the task group name. Never empty.
	Group string

	// Echelon is the echelon name within the group, or "" for the
	// whole group.
	Echelon string
}

// ParseReference parses a dotted reference string such as
// "fast_group.echelon1" or "fast_group".
func ParseReference(s string) (GroupReference, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return GroupReference{}, fmt.Errorf("empty group reference")
	}

	group, echelon, found := strings.Cut(s, ".")
	if group == "" {
		return GroupReference{}, fmt.Errorf("invalid group reference %q: empty group name", s)
	}
	if found && echelon == "" {
		return GroupReference{}, fmt.Errorf("invalid group reference %q: trailing separator", s)
	}
	if strings.Contains(echelon, ".") {
		return GroupReference{}, fmt.Errorf("invalid group reference %q: too many segments", s)
	}

	return GroupReference{Group: group, Echelon: echelon}, nil
}

// MustParseReference is ParseReference that panics on error.
// For use in tests and static initialization only.
func MustParseReference(s string) GroupReference {
	ref, err := ParseReference(s)
	if err != nil {
		panic(err)
	}
	return ref
}

// HasEchelon reports whether the reference names a specific echelon.
func (r GroupReference) HasEchelon() bool {
	return r.Echelon != ""
}

// String returns the dotted form of the reference.
func (r GroupReference) String() string {
	if r.Echelon == "" {
		return r.Group
	}
	return r.Group + "." + r.Echelon
}
