package stream

import (
	"context"
	"sync"
)

// frameBuffer is a bounded ring of encoded frames between the decode
// goroutine and the delivery loop. Push blocks while full, pop blocks while
// empty; close unblocks both sides.
type frameBuffer struct {
	mu       sync.Mutex
	frames   []Frame
	maxSize  int
	readPos  int
	writePos int
	closed   bool
	eos      bool
	notEmpty *sync.Cond
	notFull  *sync.Cond
}

func newFrameBuffer(maxFrames int) *frameBuffer {
	fb := &frameBuffer{
		frames:  make([]Frame, maxFrames),
		maxSize: maxFrames,
	}
	fb.notEmpty = sync.NewCond(&fb.mu)
	fb.notFull = sync.NewCond(&fb.mu)
	return fb
}

func (fb *frameBuffer) used() int {
	return (fb.writePos - fb.readPos + fb.maxSize) % fb.maxSize
}

// push blocks until there is room for f. It returns false once the buffer
// has been closed.
func (fb *frameBuffer) push(f Frame) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for fb.used() >= fb.maxSize-1 {
		if fb.closed || fb.eos {
			return false
		}
		fb.notFull.Wait()
	}
	if fb.closed || fb.eos {
		return false
	}

	fb.frames[fb.writePos] = Frame{
		Seq:   f.Seq,
		PTS48: f.PTS48,
		Opus:  append([]byte(nil), f.Opus...),
	}
	fb.writePos = (fb.writePos + 1) % fb.maxSize
	fb.notEmpty.Signal()
	return true
}

// pop blocks until a frame is available. It returns false when the buffer is
// closed, or drained after end of stream.
func (fb *frameBuffer) pop(ctx context.Context) (Frame, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for {
		if fb.closed {
			return Frame{}, false
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, false
		}
		if fb.used() > 0 {
			f := fb.frames[fb.readPos]
			fb.frames[fb.readPos] = Frame{}
			fb.readPos = (fb.readPos + 1) % fb.maxSize
			fb.notFull.Signal()
			return f, true
		}
		if fb.eos {
			return Frame{}, false
		}
		fb.notEmpty.Wait()
	}
}

func (fb *frameBuffer) buffered() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.used()
}

// markEOS signals that no further frames will be pushed; pending frames stay
// readable.
func (fb *frameBuffer) markEOS() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.eos = true
	fb.notEmpty.Broadcast()
	fb.notFull.Broadcast()
}

func (fb *frameBuffer) close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.closed = true
	fb.notEmpty.Broadcast()
	fb.notFull.Broadcast()
}
