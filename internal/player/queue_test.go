package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func track(title string) Track {
	return Track{Title: title, VideoID: title, URL: "https://www.youtube.com/watch?v=" + title}
}

func TestQueueFIFO(t *testing.T) {
	q := newQueue()
	q.enqueue(track("a"))
	q.enqueue(track("b"))
	q.enqueue(track("c"))

	for _, want := range []string{"a", "b", "c"} {
		e, ok := q.next()
		require.True(t, ok)
		assert.Equal(t, want, e.Track.Title)
	}
	_, ok := q.next()
	assert.False(t, ok)
}

func TestQueueIDsAreMonotonicAndStable(t *testing.T) {
	q := newQueue()
	ida := q.enqueue(track("a"))
	idb := q.enqueue(track("b"))
	idc := q.enqueue(track("c"))
	assert.Less(t, ida, idb)
	assert.Less(t, idb, idc)

	// reorder; ids must stay attached to their tracks
	require.NoError(t, q.move(idc, 0))
	list := q.list()
	require.Len(t, list, 3)
	assert.Equal(t, idc, list[0].ID)
	assert.Equal(t, "c", list[0].Track.Title)
	assert.Equal(t, ida, list[1].ID)

	// removal by id is unambiguous regardless of position
	tr, err := q.remove(ida)
	require.NoError(t, err)
	assert.Equal(t, "a", tr.Title)

	// ids are never reused
	idd := q.enqueue(track("d"))
	assert.Greater(t, idd, idc)
}

func TestQueueRemoveMissing(t *testing.T) {
	q := newQueue()
	q.enqueue(track("a"))
	_, err := q.remove(99)
	assert.ErrorIs(t, err, ErrNoSuchEntry)
}

func TestQueueMoveClampsPosition(t *testing.T) {
	q := newQueue()
	ida := q.enqueue(track("a"))
	q.enqueue(track("b"))

	require.NoError(t, q.move(ida, 50))
	list := q.list()
	assert.Equal(t, "b", list[0].Track.Title)
	assert.Equal(t, "a", list[1].Track.Title)

	assert.ErrorIs(t, q.move(99, 0), ErrNoSuchEntry)
}

func TestQueueListIsACopy(t *testing.T) {
	q := newQueue()
	q.enqueue(track("a"))
	list := q.list()
	list[0].Track.Title = "mutated"
	assert.Equal(t, "a", q.list()[0].Track.Title)
}

func TestQueueClear(t *testing.T) {
	q := newQueue()
	q.enqueue(track("a"))
	q.enqueue(track("b"))
	q.clear()
	assert.Equal(t, 0, q.len())
	_, ok := q.next()
	assert.False(t, ok)
}
