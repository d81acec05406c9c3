package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/asticode/go-astiav"
)

// pcmDecoder demuxes and decodes a Source and resamples it to interleaved
// s16le stereo 48 kHz PCM readable from Reader(). The FFmpeg contexts, the
// resampler and the pipe are released on every exit path via Close.
type pcmDecoder struct {
	fc          *astiav.FormatContext
	audioStream *astiav.Stream
	decCtx      *astiav.CodecContext
	swr         *astiav.SoftwareResampleContext
	srcFrame    *astiav.Frame
	dstFrame    *astiav.Frame

	cancel       context.CancelFunc
	pr           *io.PipeReader
	pw           *io.PipeWriter
	writerClosed bool
	closeOnce    sync.Once

	errMu  sync.Mutex
	runErr error
}

// newPCMDecoder opens src and starts a background decode loop. The returned
// decoder's Reader yields PCM until EOF; Err reports why decoding stopped if
// it did not reach a clean end of stream.
func newPCMDecoder(ctx context.Context, src Source) (*pcmDecoder, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("alloc format context")
	}

	dict := astiav.NewDictionary()
	defer dict.Free()
	if strings.HasPrefix(src.URL, "http") {
		_ = dict.Set("reconnect", "1", 0)
		_ = dict.Set("reconnect_streamed", "1", 0)
		_ = dict.Set("reconnect_delay_max", "5", 0)
		if hdr := headerBlock(src.Headers); hdr != "" {
			_ = dict.Set("headers", hdr, 0)
		}
	}

	if err := fc.OpenInput(src.URL, nil, dict); err != nil {
		fc.Free()
		return nil, fmt.Errorf("open input: %w", err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, fmt.Errorf("find stream info: %w", err)
	}

	st, codec, err := fc.FindBestStream(astiav.MediaTypeAudio, -1, -1)
	if err != nil || st == nil || codec == nil {
		fc.CloseInput()
		fc.Free()
		if err != nil {
			return nil, fmt.Errorf("find best audio stream: %w", err)
		}
		return nil, errors.New("no audio stream found")
	}

	decCtx := astiav.AllocCodecContext(codec)
	if decCtx == nil {
		fc.CloseInput()
		fc.Free()
		return nil, errors.New("alloc codec context")
	}
	if err := decCtx.FromCodecParameters(st.CodecParameters()); err != nil {
		decCtx.Free()
		fc.CloseInput()
		fc.Free()
		return nil, fmt.Errorf("codec from params: %w", err)
	}
	decCtx.SetTimeBase(st.TimeBase())
	if err := decCtx.Open(codec, nil); err != nil {
		decCtx.Free()
		fc.CloseInput()
		fc.Free()
		return nil, fmt.Errorf("open decoder: %w", err)
	}

	swr := astiav.AllocSoftwareResampleContext()
	if swr == nil {
		decCtx.Free()
		fc.CloseInput()
		fc.Free()
		return nil, errors.New("alloc swr")
	}

	srcFrame := astiav.AllocFrame()
	dstFrame := astiav.AllocFrame()
	if srcFrame == nil || dstFrame == nil {
		if srcFrame != nil {
			srcFrame.Free()
		}
		if dstFrame != nil {
			dstFrame.Free()
		}
		swr.Free()
		decCtx.Free()
		fc.CloseInput()
		fc.Free()
		return nil, errors.New("alloc frames")
	}

	pr, pw := io.Pipe()
	ctx2, cancel := context.WithCancel(ctx)
	d := &pcmDecoder{
		fc:          fc,
		audioStream: st,
		decCtx:      decCtx,
		swr:         swr,
		srcFrame:    srcFrame,
		dstFrame:    dstFrame,
		cancel:      cancel,
		pr:          pr,
		pw:          pw,
	}

	go d.run(ctx2, src.SeekSec)

	return d, nil
}

func (d *pcmDecoder) Reader() io.Reader { return d.pr }

// Err reports the decode failure, if any. Cancellation is not a failure.
func (d *pcmDecoder) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if errors.Is(d.runErr, context.Canceled) {
		return nil
	}
	return d.runErr
}

func (d *pcmDecoder) Close() {
	d.closeOnce.Do(func() {
		d.cancel()
		_ = d.pr.Close()
		if !d.writerClosed {
			_ = d.pw.Close()
		}
		if d.srcFrame != nil {
			d.srcFrame.Free()
		}
		if d.dstFrame != nil {
			d.dstFrame.Free()
		}
		if d.swr != nil {
			d.swr.Free()
		}
		if d.decCtx != nil {
			d.decCtx.Free()
		}
		if d.fc != nil {
			d.fc.CloseInput()
			d.fc.Free()
		}
	})
}

func (d *pcmDecoder) run(ctx context.Context, seekSec int) {
	defer func() {
		d.writerClosed = true
		_ = d.pw.Close()
	}()

	if seekSec > 0 {
		tb := d.audioStream.TimeBase()
		ts := int64(float64(seekSec) / tb.Float64())
		// best effort; some inputs are not seekable
		if err := d.fc.SeekFrame(d.audioStream.Index(), ts, astiav.NewSeekFlags()); err == nil {
			_ = d.fc.Flush()
		}
	}

	packet := astiav.AllocPacket()
	defer packet.Free()

	for {
		select {
		case <-ctx.Done():
			d.setErr(ctx.Err())
			return
		default:
		}

		packet.Unref()
		if err := d.fc.ReadFrame(packet); err != nil {
			if astErr, ok := err.(astiav.Error); ok && astErr.Is(io.EOF) {
				d.flushDecoder()
				return
			}
			if astErr, ok := err.(astiav.Error); ok && astErr.Is(astiav.ErrEagain) {
				continue
			}
			d.setErr(fmt.Errorf("read frame: %w", err))
			return
		}

		if packet.StreamIndex() != d.audioStream.Index() {
			continue
		}

		if err := d.decCtx.SendPacket(packet); err != nil {
			if astErr, ok := err.(astiav.Error); !ok || !astErr.Is(astiav.ErrEagain) {
				d.setErr(fmt.Errorf("send packet: %w", err))
				return
			}
		}

		if err := d.drainDecoded(); err != nil {
			d.setErr(err)
			return
		}
	}
}

func (d *pcmDecoder) flushDecoder() {
	_ = d.decCtx.SendPacket(nil)
	for {
		d.srcFrame.Unref()
		if err := d.decCtx.ReceiveFrame(d.srcFrame); err != nil {
			return
		}
		if err := d.resampleAndWrite(d.srcFrame); err != nil {
			d.setErr(err)
			return
		}
	}
}

func (d *pcmDecoder) drainDecoded() error {
	for {
		d.srcFrame.Unref()
		if err := d.decCtx.ReceiveFrame(d.srcFrame); err != nil {
			if astErr, ok := err.(astiav.Error); ok && (astErr.Is(astiav.ErrEagain) || astErr.Is(io.EOF)) {
				return nil
			}
			return fmt.Errorf("receive frame: %w", err)
		}
		if err := d.resampleAndWrite(d.srcFrame); err != nil {
			return err
		}
	}
}

func (d *pcmDecoder) resampleAndWrite(src *astiav.Frame) error {
	d.dstFrame.Unref()
	d.dstFrame.SetNbSamples(src.NbSamples())
	d.dstFrame.SetChannelLayout(astiav.ChannelLayoutStereo)
	d.dstFrame.SetSampleRate(sampleRate)
	d.dstFrame.SetSampleFormat(astiav.SampleFormatS16)
	if err := d.dstFrame.AllocBuffer(0); err != nil {
		return fmt.Errorf("dst alloc buffer: %w", err)
	}

	if err := d.swr.ConvertFrame(src, d.dstFrame); err != nil {
		return fmt.Errorf("swr convert: %w", err)
	}

	b, err := d.dstFrame.Data().Bytes(0)
	if err != nil {
		return fmt.Errorf("dst bytes: %w", err)
	}
	_, err = d.pw.Write(b)
	return err
}

func (d *pcmDecoder) setErr(err error) {
	if err == nil {
		return
	}
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if d.runErr == nil {
		d.runErr = err
	}
}
