package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Pipeline turns a Source into a FrameStream. One pipeline instance can run
// any number of streams, but each stream owns exactly one decode process and
// is never reused across tracks.
//
// The pipeline does not pace output: frames are produced as fast as the
// bounded buffer allows and the delivery loop in the playback engine is the
// single owner of real-time pacing.
type Pipeline struct{}

func NewPipeline() *Pipeline { return &Pipeline{} }

func (p *Pipeline) Start(ctx context.Context, src Source) (FrameStream, error) {
	ctx2, cancel := context.WithCancel(ctx)

	dec, err := newPCMDecoder(ctx2, src)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrProcessFailed, err)
	}
	enc, err := newOpusEncoder()
	if err != nil {
		dec.Close()
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrProcessFailed, err)
	}

	fs := &frames{
		dec:    dec,
		enc:    enc,
		buf:    newFrameBuffer(bufferFrames),
		cancel: cancel,
	}
	go fs.run(ctx2)
	return fs, nil
}

type frames struct {
	dec    *pcmDecoder
	enc    *opusEncoder
	buf    *frameBuffer
	cancel context.CancelFunc

	stopOnce sync.Once

	errMu  sync.Mutex
	runErr error
}

// run reads PCM off the decoder, encodes 20 ms frames and pushes them into
// the buffer until EOF, failure or Stop. Resources are released here on
// every exit path.
func (f *frames) run(ctx context.Context) {
	defer func() {
		f.buf.markEOS()
		f.enc.Close()
		f.dec.Close()
	}()

	r := bufio.NewReaderSize(f.dec.Reader(), 128*1024)
	pcm := make([]byte, frameBytes)
	var seq uint64

	emit := func(pkt []byte) error {
		frame := Frame{Seq: seq, PTS48: int64(seq) * frameSamples, Opus: pkt}
		seq++
		if !f.buf.push(frame) {
			return errStopped
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := io.ReadFull(r, pcm); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				// clean end of PCM unless the decoder died mid-track
				if decErr := f.dec.Err(); decErr != nil {
					f.fail(fmt.Errorf("%w: %v", ErrProcessFailed, decErr))
					return
				}
				if err := f.enc.flush(emit); err != nil && !errors.Is(err, errStopped) {
					f.fail(fmt.Errorf("%w: %v", ErrMalformedOutput, err))
				}
				return
			}
			f.fail(fmt.Errorf("%w: read pcm: %v", ErrProcessFailed, err))
			return
		}

		if err := f.enc.encode(pcm, emit); err != nil {
			if !errors.Is(err, errStopped) {
				f.fail(fmt.Errorf("%w: %v", ErrMalformedOutput, err))
			}
			return
		}
	}
}

var errStopped = errors.New("stream stopped")

func (f *frames) Next(ctx context.Context) (Frame, error) {
	if frame, ok := f.buf.pop(ctx); ok {
		return frame, nil
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if err := f.err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}

func (f *frames) Stop() {
	f.stopOnce.Do(func() {
		f.cancel()
		f.buf.close()
	})
}

func (f *frames) fail(err error) {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	if f.runErr == nil {
		f.runErr = err
	}
}

func (f *frames) err() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.runErr
}
