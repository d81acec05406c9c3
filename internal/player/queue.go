package player

// queue is the ordered list of pending entries. It is owned by the engine's
// control goroutine and never touched from anywhere else, so it needs no
// locking of its own. The currently playing entry is held by the engine, not
// kept in the list.
type queue struct {
	nextID  uint64
	entries []QueueEntry
}

func newQueue() *queue {
	return &queue{nextID: 1}
}

// enqueue appends t and returns the entry id assigned to it. Ids come from a
// monotonic counter and are never reused within a session.
func (q *queue) enqueue(t Track) uint64 {
	id := q.nextID
	q.nextID++
	q.entries = append(q.entries, QueueEntry{ID: id, Track: t})
	return id
}

// next pops the head of the queue, or returns false when empty.
func (q *queue) next() (QueueEntry, bool) {
	if len(q.entries) == 0 {
		return QueueEntry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

func (q *queue) remove(id uint64) (Track, error) {
	for i, e := range q.entries {
		if e.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e.Track, nil
		}
	}
	return Track{}, ErrNoSuchEntry
}

// move reorders the entry with the given id to pos (0 = next to play).
// Entries keep their ids; only their order changes.
func (q *queue) move(id uint64, pos int) error {
	src := -1
	for i, e := range q.entries {
		if e.ID == id {
			src = i
			break
		}
	}
	if src == -1 {
		return ErrNoSuchEntry
	}
	if pos < 0 {
		pos = 0
	}
	if pos >= len(q.entries) {
		pos = len(q.entries) - 1
	}

	e := q.entries[src]
	q.entries = append(q.entries[:src], q.entries[src+1:]...)
	q.entries = append(q.entries[:pos], append([]QueueEntry{e}, q.entries[pos:]...)...)
	return nil
}

func (q *queue) clear() {
	q.entries = nil
}

func (q *queue) len() int { return len(q.entries) }

// list returns a copy so callers can hold it outside the control loop.
func (q *queue) list() []QueueEntry {
	out := make([]QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}
