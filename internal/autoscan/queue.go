package autoscan

import "sync"

// Entry is one queued tool with the priority inherited from its check-item.
type Entry struct {
	ToolID   string `json:"tool_iid"`
	Priority int    `json:"priority"`
}

// Queue is an ordered set of tools awaiting launch. Entries are unique by
// tool id and kept sorted by ascending priority; equal priorities preserve
// insertion order.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue inserts a tool at the lowest index whose priority is strictly
// greater. Returns false when the tool is already queued.
func (q *Queue) Enqueue(toolID string, priority int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.ToolID == toolID {
			return false
		}
	}
	at := len(q.entries)
	for i, e := range q.entries {
		if e.Priority > priority {
			at = i
			break
		}
	}
	q.entries = append(q.entries, Entry{})
	copy(q.entries[at+1:], q.entries[at:])
	q.entries[at] = Entry{ToolID: toolID, Priority: priority}
	return true
}

// Remove deletes a tool from the queue.
func (q *Queue) Remove(toolID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.ToolID == toolID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, true
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}

// Items returns a copy of the queue in order.
func (q *Queue) Items() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the number of queued tools.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}
