package player

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const frameDuration = 20 * time.Millisecond

// playback is one track's locate→decode→deliver run. It lives on its own
// goroutine, owns the decode pipeline for the track exclusively, and reports
// exactly one playResult on done. The engine talks to it only through
// cancel, pauseCh and resumeCh.
type playback struct {
	id      uuid.UUID
	entry   QueueEntry
	seekSec int
	cancel  context.CancelFunc

	pauseCh  chan struct{}
	resumeCh chan struct{}
	done     chan playResult

	delivered atomic.Int64 // frames handed to the sink
}

func newPlayback(entry QueueEntry, seekSec int, cancel context.CancelFunc) *playback {
	return &playback{
		id:       uuid.New(),
		entry:    entry,
		seekSec:  seekSec,
		cancel:   cancel,
		pauseCh:  make(chan struct{}, 1),
		resumeCh: make(chan struct{}, 1),
		done:     make(chan playResult, 1),
	}
}

func (pb *playback) positionSec() int {
	return pb.seekSec + int(pb.delivered.Load()/int64(time.Second/frameDuration))
}

type playEndKind int

const (
	playFinished playEndKind = iota
	playCancelled
	playLocateErr
	playDecodeErr
	playTransportErr
	playPauseExpired
)

type playResult struct {
	kind   playEndKind
	err    error
	posSec int
}

func (e *Engine) runPlayback(ctx context.Context, pb *playback, sink Sink) {
	pb.done <- e.deliver(ctx, pb, sink)
}

// deliver runs the full per-track pipeline: just-in-time locate, pipeline
// start, then the paced frame loop. Pacing happens here and only here; the
// pipeline itself produces as fast as its bounded buffer allows.
func (e *Engine) deliver(ctx context.Context, pb *playback, sink Sink) playResult {
	cancelled := func() playResult {
		return playResult{kind: playCancelled, posSec: pb.positionSec()}
	}

	lctx, lcancel := context.WithTimeout(ctx, e.cfg.LocateTimeout)
	src, err := e.locator.Locate(lctx, pb.entry.Track)
	lcancel()
	if err != nil {
		if ctx.Err() != nil {
			return cancelled()
		}
		return playResult{kind: playLocateErr, err: err}
	}
	src.SeekSec = pb.seekSec

	fs, err := e.pipeline.Start(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled()
		}
		return playResult{kind: playDecodeErr, err: err}
	}
	defer fs.Stop()

	_ = sink.Speaking(true)
	defer func() { _ = sink.Speaking(false) }()

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return cancelled()

		case <-pb.pauseCh:
			_ = sink.Speaking(false)
			select {
			case <-pb.resumeCh:
				_ = sink.Speaking(true)
				continue
			case <-ctx.Done():
				return cancelled()
			case <-time.After(e.cfg.PauseStopAfter):
				// bounded pause: release the decode process rather than
				// hold it (and its buffer) indefinitely
				return playResult{kind: playPauseExpired, posSec: pb.positionSec()}
			}

		case <-ticker.C:
			f, err := fs.Next(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return playResult{kind: playFinished, posSec: pb.positionSec()}
				}
				if ctx.Err() != nil {
					return cancelled()
				}
				return playResult{kind: playDecodeErr, err: err}
			}
			if err := sink.SendFrame(ctx, f); err != nil {
				if ctx.Err() != nil {
					return cancelled()
				}
				return playResult{kind: playTransportErr, err: err, posSec: pb.positionSec()}
			}
			pb.delivered.Add(1)
		}
	}
}
