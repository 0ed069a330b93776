package model

import (
	"fmt"
	"time"
)

// Item is the immutable (name, old_state, new_state) triple identifying a
// state change, value-equal by all three fields.
type Item struct {
	Name     string
	OldState string
	NewState string
}

// Event is an immutable, value-object state change with auxiliary
// contextual conditions and a storage identity. Equality is on Item
// alone — two occurrences of the same state transition collapse into one
// node in a sequence graph, irrespective of when they happened. Timestamp
// and Conditions travel with the event for logging and explanation but
// never enter its identity.
type Event struct {
	Item       Item
	Timestamp  time.Time
	Conditions ConditionSet
	ID         int64 // storage-layer identity; 0 means not yet persisted
}

// Equal reports Event equality on Item alone. Timestamp and Conditions
// are auxiliary and excluded.
func (e Event) Equal(other Event) bool {
	return e.Item == other.Item
}

// String renders the event for logging and explanation output.
func (e Event) String() string {
	return fmt.Sprintf("%s(%s=>%s) [%s]", e.Item.Name, e.Item.OldState, e.Item.NewState, e.Timestamp)
}
