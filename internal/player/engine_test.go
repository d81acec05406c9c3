package player

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calliope-bot/calliope/internal/config"
	"github.com/calliope-bot/calliope/internal/stream"
)

type resolverFunc func(context.Context, TrackReference) ([]Track, error)

func (f resolverFunc) Resolve(ctx context.Context, ref TrackReference) ([]Track, error) {
	return f(ctx, ref)
}

type locatorFunc func(context.Context, Track) (stream.Source, error)

func (f locatorFunc) Locate(ctx context.Context, t Track) (stream.Source, error) {
	return f(ctx, t)
}

func staticResolver(titles ...string) resolverFunc {
	return func(_ context.Context, ref TrackReference) ([]Track, error) {
		for _, title := range titles {
			if title == ref.Raw {
				return []Track{track(title)}, nil
			}
		}
		return nil, errors.New("no matching track")
	}
}

func passLocator(_ context.Context, t Track) (stream.Source, error) {
	return stream.Source{URL: t.URL}, nil
}

type fakeStream struct {
	mu        sync.Mutex
	remaining int // -1 = endless
	failAfter int // -1 = never
	seq       uint64

	stopOnce sync.Once
	stopped  chan struct{}
}

func (f *fakeStream) Next(ctx context.Context) (stream.Frame, error) {
	if err := ctx.Err(); err != nil {
		return stream.Frame{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && int(f.seq) >= f.failAfter {
		return stream.Frame{}, stream.ErrProcessFailed
	}
	if f.remaining >= 0 && int(f.seq) >= f.remaining {
		return stream.Frame{}, io.EOF
	}
	fr := stream.Frame{Seq: f.seq, PTS48: int64(f.seq) * 960, Opus: []byte{0xfc}}
	f.seq++
	return fr, nil
}

func (f *fakeStream) Stop() {
	f.stopOnce.Do(func() { close(f.stopped) })
}

func (f *fakeStream) wasStopped() bool {
	select {
	case <-f.stopped:
		return true
	default:
		return false
	}
}

type fakePipeline struct {
	mu        sync.Mutex
	frames    int
	startErr  map[string]error // keyed by source URL
	failAfter map[string]int
	streams   []*fakeStream
	srcs      []stream.Source
}

func (p *fakePipeline) Start(_ context.Context, src stream.Source) (stream.FrameStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.startErr[src.URL]; err != nil {
		return nil, err
	}
	fs := &fakeStream{remaining: p.frames, failAfter: -1, stopped: make(chan struct{})}
	if n, ok := p.failAfter[src.URL]; ok {
		fs.failAfter = n
	}
	p.streams = append(p.streams, fs)
	p.srcs = append(p.srcs, src)
	return fs, nil
}

func (p *fakePipeline) stream(i int) *fakeStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.streams) {
		return nil
	}
	return p.streams[i]
}

func (p *fakePipeline) src(i int) stream.Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.srcs[i]
}

type fakeSink struct {
	mu           sync.Mutex
	frames       []stream.Frame
	sendErrAfter int // -1 = never fail
	closed       bool
}

func (s *fakeSink) SendFrame(_ context.Context, f stream.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErrAfter >= 0 && len(s.frames) >= s.sendErrAfter {
		return errors.New("gateway gone")
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSink) Speaking(bool) error { return nil }

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) sent() []stream.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stream.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

type fakeTransport struct {
	mu           sync.Mutex
	sinks        []*fakeSink
	firstFailsAt int // sendErrAfter for the first sink opened; -1 = never
}

func (t *fakeTransport) Open(context.Context, string, string) (Sink, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &fakeSink{sendErrAfter: -1}
	if len(t.sinks) == 0 {
		s.sendErrAfter = t.firstFailsAt
	}
	t.sinks = append(t.sinks, s)
	return s, nil
}

func (t *fakeTransport) sink(i int) *fakeSink {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.sinks) {
		return nil
	}
	return t.sinks[i]
}

func testConfig() *config.Config {
	return &config.Config{
		PlaylistLimit:      50,
		ResolveTimeout:     2 * time.Second,
		LocateTimeout:      2 * time.Second,
		PauseStopAfter:     time.Minute,
		ReconnectAttempts:  2,
		ReconnectBackoff:   5 * time.Millisecond,
		IdleDisconnectWait: 0,
	}
}

func newTestEngine(t *testing.T, deps Deps) *Engine {
	t.Helper()
	return newTestEngineCfg(t, testConfig(), deps)
}

func newTestEngineCfg(t *testing.T, cfg *config.Config, deps Deps) *Engine {
	t.Helper()
	e := NewEngine(cfg, nil, "guild-1", deps, nil)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func nextEvent(t *testing.T, e *Engine) Event {
	t.Helper()
	select {
	case ev, ok := <-e.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPlaysQueueInOrder(t *testing.T) {
	tr := &fakeTransport{firstFailsAt: -1}
	pipe := &fakePipeline{frames: 2}
	e := newTestEngine(t, Deps{
		Resolver:  staticResolver("a", "b", "c"),
		Locator:   locatorFunc(passLocator),
		Pipeline:  pipe,
		Transport: tr,
	})

	ctx := context.Background()
	require.NoError(t, e.Join(ctx, "vc-1"))
	for _, q := range []string{"a", "b", "c"} {
		_, err := e.Enqueue(ctx, TrackReference{Kind: ReferenceSearch, Raw: q})
		require.NoError(t, err)
	}

	var started, ended []string
	for {
		ev := nextEvent(t, e)
		switch ev.Kind {
		case EventTrackStarted:
			started = append(started, ev.Track.Title)
		case EventTrackEnded:
			assert.Equal(t, EndFinished, ev.Reason)
			ended = append(ended, ev.Track.Title)
		case EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
		if ev.Kind == EventQueueEmpty && len(ended) == 3 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, started)
	assert.Equal(t, []string{"a", "b", "c"}, ended)
}

func TestFramesArriveInOrder(t *testing.T) {
	tr := &fakeTransport{firstFailsAt: -1}
	pipe := &fakePipeline{frames: 5}
	e := newTestEngine(t, Deps{
		Resolver:  staticResolver("a"),
		Locator:   locatorFunc(passLocator),
		Pipeline:  pipe,
		Transport: tr,
	})

	ctx := context.Background()
	require.NoError(t, e.Join(ctx, "vc-1"))
	_, err := e.Enqueue(ctx, TrackReference{Raw: "a"})
	require.NoError(t, err)

	for {
		ev := nextEvent(t, e)
		if ev.Kind == EventTrackEnded {
			break
		}
	}

	sent := tr.sink(0).sent()
	require.Len(t, sent, 5)
	for i, f := range sent {
		assert.Equal(t, uint64(i), f.Seq)
	}
}

func TestPauseResumeStateGuards(t *testing.T) {
	tr := &fakeTransport{firstFailsAt: -1}
	pipe := &fakePipeline{frames: -1}
	e := newTestEngine(t, Deps{
		Resolver:  staticResolver("a"),
		Locator:   locatorFunc(passLocator),
		Pipeline:  pipe,
		Transport: tr,
	})

	ctx := context.Background()
	assert.ErrorIs(t, e.Pause(ctx), ErrInvalidState)

	require.NoError(t, e.Join(ctx, "vc-1"))
	_, err := e.Enqueue(ctx, TrackReference{Raw: "a"})
	require.NoError(t, err)
	require.Equal(t, EventTrackStarted, nextEvent(t, e).Kind)

	require.NoError(t, e.Pause(ctx))
	assert.ErrorIs(t, e.Pause(ctx), ErrInvalidState)

	require.NoError(t, e.Resume(ctx))
	assert.ErrorIs(t, e.Resume(ctx), ErrInvalidState)

	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusPlaying, snap.Status)
}

func TestResolutionFailureLeavesQueueUntouched(t *testing.T) {
	tr := &fakeTransport{firstFailsAt: -1}
	pipe := &fakePipeline{frames: -1}
	e := newTestEngine(t, Deps{
		Resolver:  staticResolver("good"),
		Locator:   locatorFunc(passLocator),
		Pipeline:  pipe,
		Transport: tr,
	})

	ctx := context.Background()
	require.NoError(t, e.Join(ctx, "vc-1"))

	_, err := e.Enqueue(ctx, TrackReference{Raw: "does-not-exist"})
	require.Error(t, err)

	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Current)
	assert.Empty(t, snap.Queue)
	assert.Equal(t, StatusIdle, snap.Status)

	// the session keeps working after a failed resolution
	_, err = e.Enqueue(ctx, TrackReference{Raw: "good"})
	require.NoError(t, err)
	assert.Equal(t, EventTrackStarted, nextEvent(t, e).Kind)
}

func TestDecodeFailureSkipsToNextTrack(t *testing.T) {
	tr := &fakeTransport{firstFailsAt: -1}
	pipe := &fakePipeline{
		frames:   2,
		startErr: map[string]error{track("bad").URL: stream.ErrProcessFailed},
	}
	e := newTestEngine(t, Deps{
		Resolver:  staticResolver("bad", "good"),
		Locator:   locatorFunc(passLocator),
		Pipeline:  pipe,
		Transport: tr,
	})

	ctx := context.Background()
	require.NoError(t, e.Join(ctx, "vc-1"))
	_, err := e.Enqueue(ctx, TrackReference{Raw: "bad"})
	require.NoError(t, err)
	_, err = e.Enqueue(ctx, TrackReference{Raw: "good"})
	require.NoError(t, err)

	var sawError bool
	var endReasons []EndReason
	var started []string
	for {
		ev := nextEvent(t, e)
		switch ev.Kind {
		case EventTrackStarted:
			started = append(started, ev.Track.Title)
		case EventError:
			sawError = true
			assert.ErrorIs(t, ev.Err, stream.ErrProcessFailed)
		case EventTrackEnded:
			endReasons = append(endReasons, ev.Reason)
		}
		if ev.Kind == EventQueueEmpty && len(endReasons) == 2 {
			break
		}
	}
	assert.True(t, sawError)
	assert.Equal(t, []string{"bad", "good"}, started)
	assert.Equal(t, []EndReason{EndDecodeError, EndFinished}, endReasons)
}

func TestSkipCancelsActivePlayback(t *testing.T) {
	tr := &fakeTransport{firstFailsAt: -1}
	pipe := &fakePipeline{frames: -1}
	e := newTestEngine(t, Deps{
		Resolver:  staticResolver("a", "b"),
		Locator:   locatorFunc(passLocator),
		Pipeline:  pipe,
		Transport: tr,
	})

	ctx := context.Background()
	assert.ErrorIs(t, e.Skip(ctx), ErrInvalidState)

	require.NoError(t, e.Join(ctx, "vc-1"))
	_, err := e.Enqueue(ctx, TrackReference{Raw: "a"})
	require.NoError(t, err)
	_, err = e.Enqueue(ctx, TrackReference{Raw: "b"})
	require.NoError(t, err)
	require.Equal(t, EventTrackStarted, nextEvent(t, e).Kind)

	require.NoError(t, e.Skip(ctx))

	ev := nextEvent(t, e)
	require.Equal(t, EventTrackEnded, ev.Kind)
	assert.Equal(t, "a", ev.Track.Title)
	assert.Equal(t, EndSkipped, ev.Reason)

	ev = nextEvent(t, e)
	require.Equal(t, EventTrackStarted, ev.Kind)
	assert.Equal(t, "b", ev.Track.Title)

	// the first track's stream was released, and cancellation was not
	// surfaced as a decode error
	assert.True(t, pipe.stream(0).wasStopped())
}

func TestRemoveCurrentActsAsSkip(t *testing.T) {
	tr := &fakeTransport{firstFailsAt: -1}
	pipe := &fakePipeline{frames: -1}
	e := newTestEngine(t, Deps{
		Resolver:  staticResolver("a"),
		Locator:   locatorFunc(passLocator),
		Pipeline:  pipe,
		Transport: tr,
	})

	ctx := context.Background()
	require.NoError(t, e.Join(ctx, "vc-1"))
	entries, err := e.Enqueue(ctx, TrackReference{Raw: "a"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, EventTrackStarted, nextEvent(t, e).Kind)

	tr2, err := e.Remove(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "a", tr2.Title)

	ev := nextEvent(t, e)
	assert.Equal(t, EventTrackEnded, ev.Kind)
	assert.Equal(t, EndSkipped, ev.Reason)
}

func TestTransportFailureReconnectsAndResumes(t *testing.T) {
	tr := &fakeTransport{firstFailsAt: 3}
	pipe := &fakePipeline{frames: 10}
	e := newTestEngine(t, Deps{
		Resolver:  staticResolver("a"),
		Locator:   locatorFunc(passLocator),
		Pipeline:  pipe,
		Transport: tr,
	})

	ctx := context.Background()
	require.NoError(t, e.Join(ctx, "vc-1"))
	_, err := e.Enqueue(ctx, TrackReference{Raw: "a"})
	require.NoError(t, err)

	var starts int
	for {
		ev := nextEvent(t, e)
		switch ev.Kind {
		case EventTrackStarted:
			starts++
		case EventTrackEnded:
			require.Equal(t, EndFinished, ev.Reason)
		}
		if ev.Kind == EventQueueEmpty {
			break
		}
	}

	// once on the original sink, once more after the reconnect
	assert.Equal(t, 2, starts)
	assert.True(t, tr.sink(0).closed)
	require.NotNil(t, tr.sink(1))
	assert.NotEmpty(t, tr.sink(1).sent())
}

func TestStopTearsDownSession(t *testing.T) {
	tr := &fakeTransport{firstFailsAt: -1}
	pipe := &fakePipeline{frames: -1}
	e := newTestEngine(t, Deps{
		Resolver:  staticResolver("a"),
		Locator:   locatorFunc(passLocator),
		Pipeline:  pipe,
		Transport: tr,
	})

	ctx := context.Background()
	require.NoError(t, e.Join(ctx, "vc-1"))
	_, err := e.Enqueue(ctx, TrackReference{Raw: "a"})
	require.NoError(t, err)
	require.Equal(t, EventTrackStarted, nextEvent(t, e).Kind)

	require.NoError(t, e.Stop(ctx))

	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not tear down")
	}
	assert.True(t, tr.sink(0).closed)
	assert.ErrorIs(t, e.Pause(ctx), ErrSessionClosed)
}

func TestLocateFailureAdvancesWithoutRetry(t *testing.T) {
	tr := &fakeTransport{firstFailsAt: -1}
	pipe := &fakePipeline{frames: 2}
	locateCalls := make(map[string]int)
	var mu sync.Mutex
	loc := locatorFunc(func(_ context.Context, tk Track) (stream.Source, error) {
		mu.Lock()
		locateCalls[tk.Title]++
		mu.Unlock()
		if tk.Title == "bad" {
			return stream.Source{}, errors.New("url gone")
		}
		return stream.Source{URL: tk.URL}, nil
	})
	e := newTestEngine(t, Deps{
		Resolver:  staticResolver("bad", "good"),
		Locator:   loc,
		Pipeline:  pipe,
		Transport: tr,
	})

	ctx := context.Background()
	require.NoError(t, e.Join(ctx, "vc-1"))
	_, err := e.Enqueue(ctx, TrackReference{Raw: "bad"})
	require.NoError(t, err)
	_, err = e.Enqueue(ctx, TrackReference{Raw: "good"})
	require.NoError(t, err)

	var reasons []EndReason
	for {
		ev := nextEvent(t, e)
		if ev.Kind == EventTrackEnded {
			reasons = append(reasons, ev.Reason)
		}
		if ev.Kind == EventQueueEmpty && len(reasons) == 2 {
			break
		}
	}
	assert.Equal(t, []EndReason{EndLocateError, EndFinished}, reasons)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, locateCalls["bad"])
}

func TestStopOutcomeNeverLost(t *testing.T) {
	for i := 0; i < 500; i++ {
		e := NewEngine(testConfig(), nil, "guild-1", Deps{
			Resolver:  staticResolver("a"),
			Locator:   locatorFunc(passLocator),
			Pipeline:  &fakePipeline{frames: -1},
			Transport: &fakeTransport{firstFailsAt: -1},
		}, nil)
		require.NoError(t, e.Stop(context.Background()))
	}
}

func TestLongPauseReleasesPipelineAndResumesWithSeek(t *testing.T) {
	tr := &fakeTransport{firstFailsAt: -1}
	pipe := &fakePipeline{frames: -1}
	cfg := testConfig()
	cfg.PauseStopAfter = 40 * time.Millisecond
	e := newTestEngineCfg(t, cfg, Deps{
		Resolver:  staticResolver("a"),
		Locator:   locatorFunc(passLocator),
		Pipeline:  pipe,
		Transport: tr,
	})

	ctx := context.Background()
	require.NoError(t, e.Join(ctx, "vc-1"))
	_, err := e.Enqueue(ctx, TrackReference{Raw: "a"})
	require.NoError(t, err)
	require.Equal(t, EventTrackStarted, nextEvent(t, e).Kind)

	require.NoError(t, e.Pause(ctx))

	// past the threshold the decode stream is released, not held
	deadline := time.Now().Add(2 * time.Second)
	for s := pipe.stream(0); s == nil || !s.wasStopped(); s = pipe.stream(0) {
		if time.Now().After(deadline) {
			t.Fatal("pipeline was not released after the pause threshold")
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, snap.Status)
	pos := snap.PositionSec

	require.NoError(t, e.Resume(ctx))
	require.Equal(t, EventTrackStarted, nextEvent(t, e).Kind)

	deadline = time.Now().Add(2 * time.Second)
	for pipe.stream(1) == nil {
		if time.Now().After(deadline) {
			t.Fatal("resume did not start a new pipeline")
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, pos, pipe.src(1).SeekSec)

	snap, err = e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusPlaying, snap.Status)
}

func TestReconnectKeepsExplicitPause(t *testing.T) {
	tr := &fakeTransport{firstFailsAt: -1}
	pipe := &fakePipeline{frames: -1}
	e := newTestEngine(t, Deps{
		Resolver:  staticResolver("a"),
		Locator:   locatorFunc(passLocator),
		Pipeline:  pipe,
		Transport: tr,
	})

	ctx := context.Background()
	require.NoError(t, e.Join(ctx, "vc-1"))
	_, err := e.Enqueue(ctx, TrackReference{Raw: "a"})
	require.NoError(t, err)
	require.Equal(t, EventTrackStarted, nextEvent(t, e).Kind)

	require.NoError(t, e.Pause(ctx))
	e.NotifyDisconnect()

	// the reconnected session stays paused; only an explicit resume
	// restarts delivery
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := e.Resume(ctx)
		if err == nil {
			break
		}
		require.ErrorIs(t, err, ErrNotConnected)
		if time.Now().After(deadline) {
			t.Fatal("resume never succeeded after reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.Equal(t, EventTrackStarted, nextEvent(t, e).Kind)
	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusPlaying, snap.Status)
	assert.True(t, tr.sink(0).closed)
	require.NotNil(t, tr.sink(1))
}
