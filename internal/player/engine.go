package player

import (
	"context"
	"log/slog"
	"time"

	"github.com/calliope-bot/calliope/internal/config"
	"github.com/calliope-bot/calliope/internal/repository"
	"github.com/google/uuid"
)

// Engine is the per-session coordinator. A single control goroutine owns all
// session state (queue, status, sink, active playback); external callers
// submit commands as messages and wait for the reply, so no locking is
// needed and commands apply in submission order.
type Engine struct {
	cfg     *config.Config
	repo    *repository.Repo
	guildID string

	resolver  Resolver
	locator   Locator
	pipeline  Pipeline
	transport Transport

	cmds    chan command
	events  chan Event
	closed  chan struct{}
	onClose func(guildID string)

	// everything below is owned by the run loop
	q            *queue
	status       Status
	sink         Sink
	channelID    string
	current      *QueueEntry
	pb           *playback
	playID       uuid.UUID
	resumeFrom   int // seconds; position to restart a stopped pipeline from
	idleWait     time.Duration
	idleTimer    *time.Timer
	reconnecting bool
	wasPlaying   bool // status before the transport dropped
}

// Deps are the collaborators an engine drives. All are interfaces so the
// control loop can be exercised with test doubles.
type Deps struct {
	Resolver  Resolver
	Locator   Locator
	Pipeline  Pipeline
	Transport Transport
}

func NewEngine(cfg *config.Config, repo *repository.Repo, guildID string, deps Deps, onClose func(guildID string)) *Engine {
	e := &Engine{
		cfg:       cfg,
		repo:      repo,
		guildID:   guildID,
		resolver:  deps.Resolver,
		locator:   deps.Locator,
		pipeline:  deps.Pipeline,
		transport: deps.Transport,
		cmds:      make(chan command, 16),
		events:    make(chan Event, 128),
		closed:    make(chan struct{}),
		onClose:   onClose,
		q:         newQueue(),
		status:    StatusIdle,
		idleWait:  cfg.IdleDisconnectWait,
	}
	go e.run()
	return e
}

func (e *Engine) GuildID() string { return e.guildID }

// Events delivers status notifications. The channel is closed when the
// session is torn down.
func (e *Engine) Events() <-chan Event { return e.events }

// Done is closed once the session has been torn down.
func (e *Engine) Done() <-chan struct{} { return e.closed }

type command interface{}

type cmdJoin struct {
	channelID string
	reply     chan error
}
type cmdEnqueue struct {
	tracks []Track
	reply  chan []QueueEntry
}
type cmdSkip struct{ reply chan error }
type cmdPause struct{ reply chan error }
type cmdResume struct{ reply chan error }
type cmdStop struct{ reply chan error }
type cmdClear struct{ reply chan int }
type cmdRemove struct {
	id    uint64
	reply chan removeResult
}
type cmdMove struct {
	id    uint64
	pos   int
	reply chan error
}
type cmdSnapshot struct{ reply chan Snapshot }
type cmdDisconnected struct{}
type cmdReconnected struct{ sink Sink }
type cmdReconnectFailed struct{ err error }
type cmdIdleTimeout struct{}

type removeResult struct {
	track Track
	err   error
}

// Snapshot is a consistent copy of session state for display commands.
type Snapshot struct {
	Status      Status
	ChannelID   string
	Current     *QueueEntry
	PositionSec int
	Queue       []QueueEntry
}

// Join connects the session to a voice channel, moving it if already
// connected elsewhere.
func (e *Engine) Join(ctx context.Context, channelID string) error {
	reply := make(chan error, 1)
	if err := e.submit(ctx, cmdJoin{channelID: channelID, reply: reply}); err != nil {
		return err
	}
	res, err := waitReply(ctx, e, reply)
	if err != nil {
		return err
	}
	return res
}

// Enqueue resolves ref synchronously and appends the resulting tracks to the
// queue. Resolution failure is returned to the caller and leaves the queue
// untouched. If the session was idle, playback starts with the first track.
func (e *Engine) Enqueue(ctx context.Context, ref TrackReference) ([]QueueEntry, error) {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.ResolveTimeout)
	defer cancel()
	tracks, err := e.resolver.Resolve(rctx, ref)
	if err != nil {
		return nil, err
	}
	for i := range tracks {
		tracks[i].RequestedBy = ref.RequestedBy
	}

	reply := make(chan []QueueEntry, 1)
	if err := e.submit(ctx, cmdEnqueue{tracks: tracks, reply: reply}); err != nil {
		return nil, err
	}
	return waitReply(ctx, e, reply)
}

func (e *Engine) Skip(ctx context.Context) error {
	return e.errCommand(ctx, func(r chan error) command { return cmdSkip{r} })
}

func (e *Engine) Pause(ctx context.Context) error {
	return e.errCommand(ctx, func(r chan error) command { return cmdPause{r} })
}

func (e *Engine) Resume(ctx context.Context) error {
	return e.errCommand(ctx, func(r chan error) command { return cmdResume{r} })
}

func (e *Engine) Stop(ctx context.Context) error {
	return e.errCommand(ctx, func(r chan error) command { return cmdStop{r} })
}

func (e *Engine) Clear(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := e.submit(ctx, cmdClear{reply}); err != nil {
		return 0, err
	}
	return waitReply(ctx, e, reply)
}

func (e *Engine) Remove(ctx context.Context, id uint64) (Track, error) {
	reply := make(chan removeResult, 1)
	if err := e.submit(ctx, cmdRemove{id: id, reply: reply}); err != nil {
		return Track{}, err
	}
	res, err := waitReply(ctx, e, reply)
	if err != nil {
		return Track{}, err
	}
	return res.track, res.err
}

func (e *Engine) Move(ctx context.Context, id uint64, pos int) error {
	reply := make(chan error, 1)
	if err := e.submit(ctx, cmdMove{id: id, pos: pos, reply: reply}); err != nil {
		return err
	}
	res, err := waitReply(ctx, e, reply)
	if err != nil {
		return err
	}
	return res
}

func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := e.submit(ctx, cmdSnapshot{reply}); err != nil {
		return Snapshot{}, err
	}
	return waitReply(ctx, e, reply)
}

// NotifyDisconnect reports that the voice transport dropped; the engine will
// attempt a bounded reconnect.
func (e *Engine) NotifyDisconnect() {
	_ = e.submit(context.Background(), cmdDisconnected{})
}

func (e *Engine) errCommand(ctx context.Context, mk func(chan error) command) error {
	reply := make(chan error, 1)
	if err := e.submit(ctx, mk(reply)); err != nil {
		return err
	}
	res, err := waitReply(ctx, e, reply)
	if err != nil {
		return err
	}
	return res
}

func (e *Engine) submit(ctx context.Context, c command) error {
	select {
	case e.cmds <- c:
		return nil
	case <-e.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitReply[T any](ctx context.Context, e *Engine, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.closed:
		// the loop may have replied just before tearing down
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrSessionClosed
		}
	}
}

func (e *Engine) run() {
	defer close(e.events)
	for {
		var doneCh chan playResult
		if e.pb != nil {
			doneCh = e.pb.done
		}
		select {
		case c := <-e.cmds:
			if e.handle(c) {
				return
			}
		case res := <-doneCh:
			e.pb = nil
			if e.handlePlayEnded(res) {
				return
			}
		}
	}
}

// handle applies one command. It returns true when the session tore down and
// the loop must exit.
func (e *Engine) handle(c command) bool {
	switch c := c.(type) {
	case cmdJoin:
		c.reply <- e.join(c.channelID)

	case cmdEnqueue:
		entries := make([]QueueEntry, 0, len(c.tracks))
		for _, t := range c.tracks {
			id := e.q.enqueue(t)
			entries = append(entries, QueueEntry{ID: id, Track: t})
		}
		e.cancelIdle()
		if e.status == StatusIdle && e.pb == nil && e.current == nil && e.sink != nil {
			e.advance()
		}
		c.reply <- entries

	case cmdSkip:
		if e.current == nil && e.q.len() == 0 {
			c.reply <- ErrInvalidState
			break
		}
		e.finishCurrent(EndSkipped)
		e.advance()
		c.reply <- nil

	case cmdPause:
		if e.status != StatusPlaying {
			c.reply <- ErrInvalidState
			break
		}
		e.status = StatusPaused
		if e.pb != nil {
			select {
			case e.pb.pauseCh <- struct{}{}:
			default:
			}
		}
		c.reply <- nil

	case cmdResume:
		if e.status != StatusPaused {
			c.reply <- ErrInvalidState
			break
		}
		if e.reconnecting || e.sink == nil {
			c.reply <- ErrNotConnected
			break
		}
		e.status = StatusPlaying
		if e.pb != nil {
			select {
			case e.pb.resumeCh <- struct{}{}:
			default:
			}
		} else if e.current != nil {
			// the pipeline was stopped while paused; restart from where
			// delivery left off
			e.startPlayback(*e.current, e.resumeFrom)
		}
		c.reply <- nil

	case cmdStop:
		// reply lands before closed is observable, so the caller cannot
		// wake on teardown and miss a stop that succeeded
		c.reply <- nil
		e.shutdown()
		return true

	case cmdClear:
		n := e.q.len()
		e.q.clear()
		c.reply <- n

	case cmdRemove:
		if e.current != nil && e.current.ID == c.id {
			track := e.current.Track
			e.finishCurrent(EndSkipped)
			e.advance()
			c.reply <- removeResult{track: track}
			break
		}
		t, err := e.q.remove(c.id)
		c.reply <- removeResult{track: t, err: err}

	case cmdMove:
		c.reply <- e.q.move(c.id, c.pos)

	case cmdSnapshot:
		s := Snapshot{
			Status:    e.status,
			ChannelID: e.channelID,
			Queue:     e.q.list(),
		}
		if e.current != nil {
			cp := *e.current
			s.Current = &cp
			if e.pb != nil {
				s.PositionSec = e.pb.positionSec()
			} else {
				s.PositionSec = e.resumeFrom
			}
		}
		c.reply <- s

	case cmdDisconnected:
		if e.reconnecting || e.sink == nil {
			break
		}
		slog.Warn("voice transport disconnected", "guildID", e.guildID)
		e.wasPlaying = e.status == StatusPlaying
		if e.pb != nil {
			e.resumeFrom = e.stopPlaybackWait()
		}
		if e.status == StatusPlaying {
			e.status = StatusPaused
		}
		_ = e.sink.Close()
		e.sink = nil
		e.startReconnect()

	case cmdReconnected:
		e.reconnecting = false
		e.sink = c.sink
		slog.Info("voice transport reconnected", "guildID", e.guildID)
		if e.current != nil {
			// a track interrupted mid-flight resumes; an explicit pause
			// before the drop survives the reconnect
			if e.wasPlaying {
				e.status = StatusPlaying
				e.startPlayback(*e.current, e.resumeFrom)
			} else {
				e.status = StatusPaused
			}
		} else if e.q.len() > 0 {
			e.advance()
		} else {
			e.status = StatusIdle
			e.scheduleIdle()
		}

	case cmdReconnectFailed:
		e.emit(Event{Kind: EventError, GuildID: e.guildID, Err: c.err})
		slog.Error("voice reconnect exhausted, tearing down session", "guildID", e.guildID, "err", c.err)
		e.shutdown()
		return true

	case cmdIdleTimeout:
		if e.status == StatusIdle && e.pb == nil && e.current == nil && e.q.len() == 0 {
			slog.Info("session idle past wait, leaving", "guildID", e.guildID)
			e.shutdown()
			return true
		}
	}
	return false
}

func (e *Engine) join(channelID string) error {
	if e.sink != nil && e.channelID == channelID {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sink, err := e.transport.Open(ctx, e.guildID, channelID)
	if err != nil {
		return err
	}

	midTrack := e.pb != nil && e.status == StatusPlaying
	if e.pb != nil {
		e.resumeFrom = e.stopPlaybackWait()
	}
	if e.sink != nil {
		_ = e.sink.Close()
	}
	e.sink = sink
	e.channelID = channelID
	e.loadSettings()
	e.cancelIdle()

	// carry a mid-flight track over to the new channel
	if midTrack && e.current != nil {
		e.startPlayback(*e.current, e.resumeFrom)
	}
	return nil
}

// finishCurrent stops the active playback, if any, and emits TrackEnded with
// the given reason. The queue is not advanced here.
func (e *Engine) finishCurrent(reason EndReason) {
	if e.current == nil {
		return
	}
	if e.pb != nil {
		e.stopPlaybackWait()
	}
	e.emitEnded(e.current.Track, reason, nil)
	e.current = nil
	e.resumeFrom = 0
}

// stopPlaybackWait cancels the active playback and waits for its goroutine to
// exit, returning the playback position in seconds. The TrackEnded transition
// for the old track is always recorded before any new playback starts.
func (e *Engine) stopPlaybackWait() int {
	pb := e.pb
	e.pb = nil
	pb.cancel()
	select {
	case res := <-pb.done:
		return res.posSec
	case <-time.After(2 * time.Second):
		slog.Warn("playback goroutine did not exit in time", "guildID", e.guildID)
		return pb.positionSec()
	}
}

func (e *Engine) advance() {
	entry, ok := e.q.next()
	if !ok {
		e.current = nil
		e.status = StatusIdle
		e.emit(Event{Kind: EventQueueEmpty, GuildID: e.guildID})
		e.scheduleIdle()
		return
	}
	e.current = &entry
	e.resumeFrom = 0
	if e.sink == nil {
		// not connected (or mid-reconnect); playback starts once a sink
		// is available again
		return
	}
	e.startPlayback(entry, 0)
}

func (e *Engine) startPlayback(entry QueueEntry, seekSec int) {
	e.cancelIdle()
	ctx, cancel := context.WithCancel(context.Background())
	pb := newPlayback(entry, seekSec, cancel)
	e.pb = pb
	e.playID = pb.id
	e.status = StatusPlaying
	e.emit(Event{Kind: EventTrackStarted, GuildID: e.guildID, PlayID: pb.id, Track: &pb.entry.Track})
	go e.runPlayback(ctx, pb, e.sink)
}

// handlePlayEnded reacts to a playback goroutine finishing on its own.
// Returns true when the session tore down.
func (e *Engine) handlePlayEnded(res playResult) bool {
	switch res.kind {
	case playFinished:
		if e.current != nil {
			e.emitEnded(e.current.Track, EndFinished, nil)
		}
		e.current = nil
		e.advance()

	case playLocateErr:
		// per-track failure: report, advance, never retry the same entry
		if e.current != nil {
			e.emit(Event{Kind: EventError, GuildID: e.guildID, PlayID: e.playID, Track: &e.current.Track, Err: res.err})
			e.emitEnded(e.current.Track, EndLocateError, res.err)
		}
		slog.Warn("locate failed, skipping track", "guildID", e.guildID, "err", res.err)
		e.current = nil
		e.advance()

	case playDecodeErr:
		if e.current != nil {
			e.emit(Event{Kind: EventError, GuildID: e.guildID, PlayID: e.playID, Track: &e.current.Track, Err: res.err})
			e.emitEnded(e.current.Track, EndDecodeError, res.err)
		}
		slog.Warn("decode failed, skipping track", "guildID", e.guildID, "err", res.err)
		e.current = nil
		e.advance()

	case playTransportErr:
		e.resumeFrom = res.posSec
		e.wasPlaying = e.status == StatusPlaying
		if e.status == StatusPlaying {
			e.status = StatusPaused
		}
		if e.sink != nil {
			_ = e.sink.Close()
			e.sink = nil
		}
		e.emit(Event{Kind: EventError, GuildID: e.guildID, PlayID: e.playID, Err: res.err})
		e.startReconnect()

	case playPauseExpired:
		// paused past the threshold: the pipeline shut itself down; keep
		// the position so resume can restart with a seek
		e.resumeFrom = res.posSec
		slog.Info("pipeline stopped after long pause", "guildID", e.guildID, "posSec", res.posSec)
		if e.status == StatusPlaying && e.current != nil && e.sink != nil {
			// a resume raced the expiry; restart right away
			e.startPlayback(*e.current, e.resumeFrom)
		}

	case playCancelled:
		// normally drained by stopPlaybackWait; nothing to do
	}
	return false
}

func (e *Engine) startReconnect() {
	e.reconnecting = true
	guildID, channelID := e.guildID, e.channelID
	attempts, backoff := e.cfg.ReconnectAttempts, e.cfg.ReconnectBackoff

	go func() {
		var lastErr error
		for i := 0; i < attempts; i++ {
			select {
			case <-time.After(backoff << i):
			case <-e.closed:
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			sink, err := e.transport.Open(ctx, guildID, channelID)
			cancel()
			if err == nil {
				_ = e.submit(context.Background(), cmdReconnected{sink: sink})
				return
			}
			lastErr = err
			slog.Warn("voice reconnect attempt failed", "guildID", guildID, "attempt", i+1, "err", err)
		}
		_ = e.submit(context.Background(), cmdReconnectFailed{err: lastErr})
	}()
}

// shutdown is the Stopping state: cleanup is guaranteed to complete before
// the session is destroyed.
func (e *Engine) shutdown() {
	e.status = StatusStopping
	if e.pb != nil {
		track := e.current
		e.stopPlaybackWait()
		if track != nil {
			e.emitEnded(track.Track, EndStopped, nil)
		}
	}
	e.current = nil
	e.q.clear()
	e.cancelIdle()
	if e.sink != nil {
		_ = e.sink.Speaking(false)
		_ = e.sink.Close()
		e.sink = nil
	}
	close(e.closed)
	if e.onClose != nil {
		go e.onClose(e.guildID)
	}
}

func (e *Engine) scheduleIdle() {
	e.cancelIdle()
	if e.idleWait <= 0 {
		return
	}
	e.idleTimer = time.AfterFunc(e.idleWait, func() {
		_ = e.submit(context.Background(), cmdIdleTimeout{})
	})
}

func (e *Engine) cancelIdle() {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
}

func (e *Engine) loadSettings() {
	if e.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	set, err := e.repo.GetSettings(ctx, e.guildID)
	if err != nil || set == nil {
		return
	}
	if set.SecondsWaitAfterEmpty > 0 {
		e.idleWait = time.Duration(set.SecondsWaitAfterEmpty) * time.Second
	}
}

func (e *Engine) emitEnded(t Track, reason EndReason, err error) {
	e.emit(Event{Kind: EventTrackEnded, GuildID: e.guildID, PlayID: e.playID, Track: &t, Reason: reason, Err: err})
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		slog.Warn("event buffer full, dropping event", "guildID", e.guildID, "kind", ev.Kind)
	}
}
