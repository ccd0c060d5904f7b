package bridge

import "net"

// Table is the worker's bridge arena: dense integer ids with vacant-slot
// reuse. A removed id may be reassigned to a later bridge; a completion
// for a removed bridge simply fails the lookup.
type Table struct {
	slots []*Bridge
	free  []int
	live  int
}

// NewTable creates a table with room for capacity bridges before growing.
func NewTable(capacity int) *Table {
	return &Table{slots: make([]*Bridge, 0, capacity)}
}

// Insert creates a bridge for an accepted downstream fd, assigning the
// most recently vacated id, or a new id past the end when none is vacant.
func (t *Table) Insert(downstream int, addr *net.TCPAddr) *Bridge {
	var id int
	if n := len(t.free); n > 0 {
		id = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		id = len(t.slots)
		t.slots = append(t.slots, nil)
	}

	b := New(id, downstream, addr)
	t.slots[id] = b
	t.live++
	return b
}

// Get returns the live bridge with the given id.
func (t *Table) Get(id int) (*Bridge, bool) {
	if id < 0 || id >= len(t.slots) || t.slots[id] == nil {
		return nil, false
	}
	return t.slots[id], true
}

// Remove frees the bridge's slot for reuse. Removing an absent id is a
// no-op.
func (t *Table) Remove(id int) {
	if id < 0 || id >= len(t.slots) || t.slots[id] == nil {
		return
	}
	t.slots[id] = nil
	t.free = append(t.free, id)
	t.live--
}

// Len returns the number of live bridges.
func (t *Table) Len() int {
	return t.live
}
