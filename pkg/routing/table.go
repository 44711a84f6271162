package routing

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/kkkqkx123/open-agent-sub001/pkg/config"
)

// Echelon is one priority tier of a task group, resolved and ordered.
type Echelon struct {
	// Name is the echelon name within its group.
	Name string

	// Group is the owning task group name.
	Group string

	// Models is the ordered candidate model list.
	Models []string

	// Priority orders echelons within the group; lower is tried first.
	Priority int

	// ConcurrencyLimit caps in-flight calls to this echelon. Zero means
	// unlimited.
	ConcurrencyLimit int

	// RPMLimit caps the request rate in requests per minute. Zero means
	// unlimited.
	RPMLimit float64

	// Timeout is the per-call backend timeout. Zero uses the gateway
	// default.
	Timeout time.Duration

	// MaxRetries bounds how many of Models may be tried per attempt.
	MaxRetries int
}

// Reference returns the full dotted reference of this echelon.
func (e *Echelon) Reference() GroupReference {
	return GroupReference{Group: e.Group, Echelon: e.Name}
}

// TaskGroup is one resolved routing policy: its echelons in priority
// order plus the group's fallback settings.
type TaskGroup struct {
	// Name is the task group name.
	Name string

	// Echelons lists the group's echelons sorted by ascending priority,
	// ties broken by name for determinism.
	Echelons []*Echelon

	// Fallback is the group's degradation policy.
	Fallback config.FallbackConfig

	byName map[string]*Echelon
}

// Echelon returns the named echelon, or nil when absent.
func (g *TaskGroup) Echelon(name string) *Echelon {
	return g.byName[name]
}

// snapshot is one immutable generation of the routing table. Lookups
// run against a snapshot; reload builds a new one and swaps the pointer.
type snapshot struct {
	groups     map[string]*TaskGroup
	generation uint64
	loadedAt   time.Time
}

// Table resolves group references to candidate models and fallback
// chains. All lookups are lock-free reads against the current snapshot,
// so a reload never affects a call already in flight.
type Table struct {
	current atomic.Pointer[snapshot]
}

// NewTable builds a routing table from task group configuration.
func NewTable(groups map[string]config.TaskGroupConfig) (*Table, error) {
	snap, err := buildSnapshot(groups, 1)
	if err != nil {
		return nil, err
	}

	t := &Table{}
	t.current.Store(snap)
	return t, nil
}

// Reload atomically replaces the table contents. The new configuration
// is fully validated and built before the swap; on error the previous
// snapshot stays active.
func (t *Table) Reload(groups map[string]config.TaskGroupConfig) error {
	old := t.current.Load()
	snap, err := buildSnapshot(groups, old.generation+1)
	if err != nil {
		return err
	}
	t.current.Store(snap)
	return nil
}

// Resolve returns the candidate models for a reference in priority
// order. A reference with an echelon yields that echelon's models; a
// group-level reference concatenates all echelons by ascending priority.
func (t *Table) Resolve(ref GroupReference) ([]string, error) {
	snap := t.current.Load()

	group, ok := snap.groups[ref.Group]
	if !ok {
		return nil, &NotFoundError{Reference: ref, KnownGroups: snap.groupNames()}
	}

	if ref.HasEchelon() {
		ech := group.Echelon(ref.Echelon)
		if ech == nil {
			return nil, &NotFoundError{Reference: ref, KnownGroups: snap.groupNames(), missingEchelon: true}
		}
		return append([]string(nil), ech.Models...), nil
	}

	var models []string
	for _, ech := range group.Echelons {
		models = append(models, ech.Models...)
	}
	return models, nil
}

// Validate reports whether ref names a known group and, when an echelon
// suffix is present, a known echelon of that group. It is the boolean
// counterpart of Resolve for callers that only need an existence check.
func (t *Table) Validate(ref GroupReference) bool {
	group, ok := t.current.Load().groups[ref.Group]
	if !ok {
		return false
	}
	return !ref.HasEchelon() || group.Echelon(ref.Echelon) != nil
}

// Group returns the named task group from the current snapshot.
func (t *Table) Group(name string) (*TaskGroup, error) {
	snap := t.current.Load()
	group, ok := snap.groups[name]
	if !ok {
		return nil, &NotFoundError{Reference: GroupReference{Group: name}, KnownGroups: snap.groupNames()}
	}
	return group, nil
}

// Echelon resolves a reference to a single echelon. A group-level
// reference yields the group's highest-priority echelon.
func (t *Table) Echelon(ref GroupReference) (*Echelon, error) {
	group, err := t.Group(ref.Group)
	if err != nil {
		return nil, err
	}

	if !ref.HasEchelon() {
		return group.Echelons[0], nil
	}

	ech := group.Echelon(ref.Echelon)
	if ech == nil {
		snap := t.current.Load()
		return nil, &NotFoundError{Reference: ref, KnownGroups: snap.groupNames(), missingEchelon: true}
	}
	return ech, nil
}

// FallbackChain returns the ordered targets for a call against ref, the
// primary included. With explicit fallback_groups configured the chain
// is the primary followed by those references verbatim; otherwise the
// echelon_down strategy falls through to each lower-priority echelon of
// the same group in turn.
func (t *Table) FallbackChain(ref GroupReference) ([]GroupReference, error) {
	group, err := t.Group(ref.Group)
	if err != nil {
		return nil, err
	}

	if len(group.Fallback.FallbackGroups) > 0 {
		chain := make([]GroupReference, 0, len(group.Fallback.FallbackGroups)+1)
		chain = append(chain, ref)
		for _, raw := range group.Fallback.FallbackGroups {
			next, err := ParseReference(raw)
			if err != nil {
				return nil, err
			}
			chain = append(chain, next)
		}
		return chain, nil
	}

	start := 0
	if ref.HasEchelon() {
		found := false
		for i, ech := range group.Echelons {
			if ech.Name == ref.Echelon {
				start = i
				found = true
				break
			}
		}
		if !found {
			snap := t.current.Load()
			return nil, &NotFoundError{Reference: ref, KnownGroups: snap.groupNames(), missingEchelon: true}
		}
	}

	chain := make([]GroupReference, 0, len(group.Echelons)-start)
	for _, ech := range group.Echelons[start:] {
		chain = append(chain, ech.Reference())
	}
	return chain, nil
}

// Groups returns the sorted names of all task groups.
func (t *Table) Groups() []string {
	return t.current.Load().groupNames()
}

// Generation returns the monotonically increasing snapshot generation,
// starting at 1 and incremented on every successful reload.
func (t *Table) Generation() uint64 {
	return t.current.Load().generation
}

// LoadedAt returns when the current snapshot was installed.
func (t *Table) LoadedAt() time.Time {
	return t.current.Load().loadedAt
}

func (s *snapshot) groupNames() []string {
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func buildSnapshot(groups map[string]config.TaskGroupConfig, generation uint64) (*snapshot, error) {
	snap := &snapshot{
		groups:     make(map[string]*TaskGroup, len(groups)),
		generation: generation,
		loadedAt:   time.Now(),
	}

	for name, gc := range groups {
		group, err := buildGroup(name, gc)
		if err != nil {
			return nil, err
		}
		snap.groups[name] = group
	}

	// Explicit fallback chains may reach across groups; verify every
	// reference resolves so a bad chain is caught at load time rather
	// than mid-request.
	for name, group := range snap.groups {
		for _, raw := range group.Fallback.FallbackGroups {
			ref, err := ParseReference(raw)
			if err != nil {
				return nil, fmt.Errorf("task group %q: fallback chain: %w", name, err)
			}
			target, ok := snap.groups[ref.Group]
			if !ok {
				return nil, fmt.Errorf("task group %q: fallback chain references unknown group %q", name, ref.Group)
			}
			if ref.HasEchelon() && target.Echelon(ref.Echelon) == nil {
				return nil, fmt.Errorf("task group %q: fallback chain references unknown echelon %q", name, ref.String())
			}
		}
	}

	return snap, nil
}

func buildGroup(name string, gc config.TaskGroupConfig) (*TaskGroup, error) {
	if len(gc.Echelons) == 0 {
		return nil, fmt.Errorf("task group %q: at least one echelon required", name)
	}

	group := &TaskGroup{
		Name:     name,
		Fallback: gc.Fallback,
		byName:   make(map[string]*Echelon, len(gc.Echelons)),
	}

	for echName, ec := range gc.Echelons {
		if len(ec.Models) == 0 {
			return nil, fmt.Errorf("task group %q: echelon %q: at least one model required", name, echName)
		}
		ech := &Echelon{
			Name:             echName,
			Group:            name,
			Models:           append([]string(nil), ec.Models...),
			Priority:         ec.Priority,
			ConcurrencyLimit: ec.ConcurrencyLimit,
			RPMLimit:         ec.RPMLimit,
			Timeout:          ec.Timeout,
			MaxRetries:       ec.MaxRetries,
		}
		group.Echelons = append(group.Echelons, ech)
		group.byName[echName] = ech
	}

	sort.Slice(group.Echelons, func(i, j int) bool {
		if group.Echelons[i].Priority != group.Echelons[j].Priority {
			return group.Echelons[i].Priority < group.Echelons[j].Priority
		}
		return group.Echelons[i].Name < group.Echelons[j].Name
	})

	return group, nil
}
