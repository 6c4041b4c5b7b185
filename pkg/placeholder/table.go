package placeholder

import "sync"

// Table is the per-mount state table. The owning mount applies all
// transitions from its command loop; the read side is safe for concurrent
// use by status reporting.
type Table struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{states: make(map[string]State)}
}

// Get returns the state of path. Unknown paths are dehydrated.
func (t *Table) Get(path string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.states[path]; ok {
		return s
	}
	return StateDehydrated
}

// Apply transitions path by event and returns the new state.
// The table is unchanged when the transition is invalid.
func (t *Table) Apply(path string, event Event) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	from, ok := t.states[path]
	if !ok {
		from = StateDehydrated
	}
	to, err := Next(from, event)
	if err != nil {
		return from, err
	}
	t.states[path] = to
	return to, nil
}

// Set forces path into state, bypassing the transition table. Used when
// restoring persisted state and when registering newly created paths.
func (t *Table) Set(path string, state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[path] = state
}

// Delete removes path from the table.
func (t *Table) Delete(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, path)
}

// Snapshot returns a copy of the full table.
func (t *Table) Snapshot() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]State, len(t.states))
	for p, s := range t.states {
		out[p] = s
	}
	return out
}

// Count returns the number of paths in state.
func (t *Table) Count(state State) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, s := range t.states {
		if s == state {
			n++
		}
	}
	return n
}
