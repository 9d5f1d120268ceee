package binding

import (
	"fmt"
	"sync"

	"github.com/cuemby/kbus/pkg/errdefs"
	"github.com/cuemby/kbus/pkg/message"
)

// Role selects listener or replier bindings.
type Role int

const (
	RoleListener Role = iota
	RoleReplier
	// RoleAny is accepted by Unbind only, and fails with ErrAmbiguousUnbind
	// when the endpoint holds the pattern in both roles.
	RoleAny
)

// RoleOf converts an is-replier flag to a Role.
func RoleOf(replier bool) Role {
	if replier {
		return RoleReplier
	}
	return RoleListener
}

func (r Role) String() string {
	switch r {
	case RoleListener:
		return "listener"
	case RoleReplier:
		return "replier"
	default:
		return "any"
	}
}

// Binding is one (pattern, endpoint, role) triple.
type Binding struct {
	Pattern  string
	Endpoint message.EndpointID
	Replier  bool
}

func (b Binding) String() string {
	return fmt.Sprintf("%s %q -> %d", RoleOf(b.Replier), b.Pattern, b.Endpoint)
}

// Resolution is the result of routing a name.
type Resolution struct {
	// Replier is the single most specific replier binding, or nil.
	Replier *Binding
	// Listeners holds every matching listener binding in bind order. An
	// endpoint bound to several matching patterns appears once per binding.
	Listeners []Binding
}

type entry struct {
	Binding
	pat pattern
}

// Table stores bindings and answers routing queries. It is safe for
// concurrent use; a Resolve never observes a partially applied Bind or
// Unbind.
type Table struct {
	mu         sync.RWMutex
	entries    []*entry
	maxNameLen int
}

// NewTable creates an empty table. maxNameLen <= 0 selects
// message.DefaultMaxNameLength.
func NewTable(maxNameLen int) *Table {
	if maxNameLen <= 0 {
		maxNameLen = message.DefaultMaxNameLength
	}
	return &Table{maxNameLen: maxNameLen}
}

// Bind adds a binding. Binding a replier to a pattern that already has a
// replier fails with ErrAddressInUse. Listener bindings may repeat.
func (t *Table) Bind(ep message.EndpointID, pat string, role Role) error {
	if role == RoleAny {
		return fmt.Errorf("bind %q: role must be listener or replier", pat)
	}
	if err := message.ValidatePattern(pat, t.maxNameLen); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	replier := role == RoleReplier
	if replier {
		for _, e := range t.entries {
			if e.Replier && e.Pattern == pat {
				return fmt.Errorf("bind %q: endpoint %d is already replier: %w", pat, e.Endpoint, errdefs.ErrAddressInUse)
			}
		}
	}

	t.entries = append(t.entries, &entry{
		Binding: Binding{Pattern: pat, Endpoint: ep, Replier: replier},
		pat:     parsePattern(pat),
	})
	return nil
}

// Unbind removes exactly one binding owned by ep for pat in the given role.
// When identical bindings exist the most recent is removed.
func (t *Table) Unbind(ep message.EndpointID, pat string, role Role) (Binding, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	found := -1
	roles := map[bool]bool{}
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.Endpoint != ep || e.Pattern != pat {
			continue
		}
		if role != RoleAny && e.Replier != (role == RoleReplier) {
			continue
		}
		roles[e.Replier] = true
		if found < 0 {
			found = i
		}
	}

	if found < 0 {
		return Binding{}, fmt.Errorf("unbind %s %q from %d: %w", role, pat, ep, errdefs.ErrNoSuchBinding)
	}
	if len(roles) > 1 {
		return Binding{}, fmt.Errorf("unbind %q from %d: bound as both listener and replier: %w", pat, ep, errdefs.ErrAmbiguousUnbind)
	}

	removed := t.entries[found].Binding
	t.entries = append(t.entries[:found], t.entries[found+1:]...)
	return removed, nil
}

// Resolve finds the elected replier and all listeners for name.
func (t *Table) Resolve(name string) Resolution {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var res Resolution
	var best *entry
	for _, e := range t.entries {
		if !e.pat.matches(name) {
			continue
		}
		if !e.Replier {
			res.Listeners = append(res.Listeners, e.Binding)
			continue
		}
		if best == nil || e.pat.moreSpecific(best.pat) {
			best = e
		}
	}
	if best != nil {
		b := best.Binding
		res.Replier = &b
	}
	return res
}

// ReplierFor returns the replier binding Resolve would elect for name.
func (t *Table) ReplierFor(name string) (Binding, bool) {
	res := t.Resolve(name)
	if res.Replier == nil {
		return Binding{}, false
	}
	return *res.Replier, true
}

// RemoveEndpoint drops every binding owned by ep and returns them in bind
// order.
func (t *Table) RemoveEndpoint(ep message.EndpointID) []Binding {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []Binding
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.Endpoint == ep {
			removed = append(removed, e.Binding)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(t.entries); i++ {
		t.entries[i] = nil
	}
	t.entries = kept
	return removed
}

// List returns a snapshot of all bindings in bind order.
func (t *Table) List() []Binding {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Binding, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.Binding)
	}
	return out
}

// Counts returns the number of replier and listener bindings.
func (t *Table) Counts() (repliers, listeners int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		if e.Replier {
			repliers++
		} else {
			listeners++
		}
	}
	return repliers, listeners
}
