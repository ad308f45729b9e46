package timeline

import (
	"fmt"
	"sync"
)

// Status of a dispatched action as shown to the user.
type Status int

const (
	StatusPending Status = iota
	StatusLoading
	StatusDone
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusLoading:
		return "loading"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Entry is the visible audit record of one dispatched side-effecting action.
// Status only ever moves forward: pending -> loading -> done|error.
type Entry struct {
	ID     int64
	Label  string
	Icon   string
	Status Status
}

// Board keeps entries in creation order and hands out monotonic ids.
type Board struct {
	mu      sync.Mutex
	nextID  int64
	entries []*Entry
}

func NewBoard() *Board { return &Board{} }

// Add creates a new entry in the given initial status and returns it.
func (b *Board) Add(label, icon string, status Status) *Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	e := &Entry{ID: b.nextID, Label: label, Icon: icon, Status: status}
	b.entries = append(b.entries, e)
	return e
}

// Advance moves an entry's status forward. Backward moves, and any move off a
// terminal status, are rejected.
func (b *Board) Advance(id int64, to Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.find(id)
	if e == nil {
		return fmt.Errorf("timeline: no entry %d", id)
	}
	if e.Status == StatusDone || e.Status == StatusError {
		return fmt.Errorf("timeline: entry %d already terminal (%s)", id, e.Status)
	}
	if to <= e.Status {
		return fmt.Errorf("timeline: entry %d cannot move %s -> %s", id, e.Status, to)
	}
	e.Status = to
	return nil
}

// FailInFlight marks every non-terminal entry as error. Used when the session
// transport closes underneath outstanding actions.
func (b *Board) FailInFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.entries {
		if e.Status == StatusPending || e.Status == StatusLoading {
			e.Status = StatusError
			n++
		}
	}
	return n
}

// Entries returns a snapshot copy in creation order.
func (b *Board) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	for i, e := range b.entries {
		out[i] = *e
	}
	return out
}

func (b *Board) find(id int64) *Entry {
	for _, e := range b.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}
