// Package queue keeps the ordered track list used for skip navigation, independent of what the
// playback device reports.
package queue

import (
	"fmt"
	"sync"

	"tunechat/internal/core"
)

const (
	// NoSelection is the index of a queue with no active track
	NoSelection = -1

	// BoundaryFirst is the detail of a skip before the first item
	BoundaryFirst = "first track"
	// BoundaryLast is the detail of a skip past the last item
	BoundaryLast = "last track"
)

// New builds a queue value, validating the index against the items.
func New(items []core.Item, index int) (core.Queue, error) {
	if index < NoSelection || index >= len(items) {
		return core.Queue{}, fmt.Errorf("queue index %d out of range for %d items", index, len(items))
	}
	copied := make([]core.Item, len(items))
	copy(copied, items)
	return core.Queue{Items: copied, Index: index}, nil
}

// Empty returns a queue with no items and no selection.
func Empty() core.Queue {
	return core.Queue{Index: NoSelection}
}

// Next computes the item after the current one and the queue advanced to it.
// The input queue is not modified.
func Next(q core.Queue) (core.Item, core.Queue, error) {
	if len(q.Items) == 0 || q.Index+1 >= len(q.Items) {
		return core.Item{}, q, core.NewError(core.ErrQueueBoundary, BoundaryLast)
	}
	return q.Items[q.Index+1], core.Queue{Items: q.Items, Index: q.Index + 1}, nil
}

// Previous computes the item before the current one and the queue moved back to it.
// The input queue is not modified.
func Previous(q core.Queue) (core.Item, core.Queue, error) {
	if len(q.Items) == 0 || q.Index-1 < 0 {
		return core.Item{}, q, core.NewError(core.ErrQueueBoundary, BoundaryFirst)
	}
	return q.Items[q.Index-1], core.Queue{Items: q.Items, Index: q.Index - 1}, nil
}

// Navigator holds the session's current queue.
type Navigator struct {
	current core.Queue
	mutex   sync.RWMutex
}

// NewNavigator creates a navigator with an empty queue.
func NewNavigator() *Navigator {
	return &Navigator{current: Empty()}
}

// Set replaces the queue wholesale.
func (n *Navigator) Set(items []core.Item, index int) error {
	q, err := New(items, index)
	if err != nil {
		return err
	}

	n.mutex.Lock()
	n.current = q
	n.mutex.Unlock()
	return nil
}

// Current returns a copy of the current queue.
func (n *Navigator) Current() core.Queue {
	n.mutex.RLock()
	defer n.mutex.RUnlock()

	items := make([]core.Item, len(n.current.Items))
	copy(items, n.current.Items)
	return core.Queue{Items: items, Index: n.current.Index}
}

// Next returns the next item and the advanced queue without applying it.
func (n *Navigator) Next() (core.Item, core.Queue, error) {
	return Next(n.Current())
}

// Previous returns the previous item and the retreated queue without applying it.
func (n *Navigator) Previous() (core.Item, core.Queue, error) {
	return Previous(n.Current())
}

// HasNext reports whether a next item exists.
func (n *Navigator) HasNext() bool {
	_, _, err := n.Next()
	return err == nil
}

// HasPrevious reports whether a previous item exists.
func (n *Navigator) HasPrevious() bool {
	_, _, err := n.Previous()
	return err == nil
}

// Clear drops all items and the selection.
func (n *Navigator) Clear() {
	n.mutex.Lock()
	n.current = Empty()
	n.mutex.Unlock()
}
