package stream

import (
	"context"
	"errors"
)

// Source is a concrete, directly streamable media input. Locators produce one
// just before playback starts; the URL it carries is typically short-lived.
type Source struct {
	URL     string
	IsLive  bool
	SeekSec int               // decode start offset in seconds
	Headers map[string]string // extra HTTP headers for network inputs
}

// Frame is one 20 ms Opus packet ready for the voice transport.
type Frame struct {
	Seq   uint64 // strictly increasing within one stream, starting at 0
	PTS48 int64  // presentation timestamp in 48 kHz samples
	Opus  []byte
}

// FrameStream is the lazily produced frame sequence for a single track.
// A stream is not resumable after failure; start a new one instead.
type FrameStream interface {
	// Next blocks until a frame is available. It returns io.EOF once the
	// stream finished cleanly and the buffer drained; any other error is a
	// decode failure. Stop unblocks a pending Next.
	Next(ctx context.Context) (Frame, error)
	// Stop terminates decoding and releases the process, pipes and codec
	// contexts. Safe to call more than once.
	Stop()
}

var (
	// ErrProcessFailed reports that the decode process died or could not
	// start before the expected end of stream.
	ErrProcessFailed = errors.New("stream: decode process failed")
	// ErrMalformedOutput reports decoder output that could not be framed
	// or encoded.
	ErrMalformedOutput = errors.New("stream: malformed decoder output")
)

const (
	sampleRate   = 48000
	channels     = 2
	frameSamples = 960 // 20 ms at 48 kHz
	frameBytes   = frameSamples * channels * 2

	// bufferFrames bounds how far decode may run ahead of delivery (~3 s).
	// The producer blocks on a full buffer, so pausing delivery pauses
	// decoding without growing memory.
	bufferFrames = 150
)
