// Package voice adapts a Discord gateway session to the playback engine's
// transport interface. One Conn wraps one voice connection.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/calliope-bot/calliope/internal/player"
	"github.com/calliope-bot/calliope/internal/stream"
)

// ErrSendTimeout reports that the gateway stopped draining the opus channel.
// The engine treats it as a disconnect and starts its reconnect loop.
var ErrSendTimeout = errors.New("voice: send timed out")

// Frames are paced at 20 ms; a healthy connection never comes near this.
const sendTimeout = 2 * time.Second

type Transport struct {
	s *discordgo.Session
}

func NewTransport(s *discordgo.Session) *Transport {
	return &Transport{s: s}
}

// Open joins the voice channel and waits for the connection to become ready.
// ChannelVoiceJoin blocks with its own internal timeout, so it runs on a
// goroutine and the context races it; a join that lands after the caller gave
// up is disconnected rather than leaked.
func (t *Transport) Open(ctx context.Context, guildID, channelID string) (player.Sink, error) {
	type joinResult struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan joinResult, 1)
	go func() {
		vc, err := t.s.ChannelVoiceJoin(guildID, channelID, false, true)
		ch <- joinResult{vc: vc, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("voice join %s/%s: %w", guildID, channelID, res.err)
		}
		ensureChannels(res.vc)
		return &Conn{vc: res.vc, guildID: guildID}, nil
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.err == nil {
				_ = disconnect(res.vc, guildID)
			}
		}()
		return nil, fmt.Errorf("voice join %s/%s: %w", guildID, channelID, ctx.Err())
	}
}

type Conn struct {
	vc      *discordgo.VoiceConnection
	guildID string

	closeOnce sync.Once
	closeErr  error
}

// SendFrame hands one opus packet to the gateway. A blocked gateway channel
// past sendTimeout is reported as a transport failure.
func (c *Conn) SendFrame(ctx context.Context, f stream.Frame) error {
	select {
	case c.vc.OpusSend <- f.Opus:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sendTimeout):
		return ErrSendTimeout
	}
}

func (c *Conn) Speaking(on bool) error {
	return c.vc.Speaking(on)
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = disconnect(c.vc, c.guildID)
	})
	return c.closeErr
}

// disconnect tears a connection down. discordgo's Kill path can panic on nil
// channels, hence the recover and the channel backfill.
func disconnect(vc *discordgo.VoiceConnection, guildID string) (err error) {
	if vc == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("voice disconnect panic recovered", "panic", r, "guildID", guildID)
			err = fmt.Errorf("voice disconnect panicked: %v", r)
		}
	}()

	ensureChannels(vc)
	_ = vc.Speaking(false)
	return vc.Disconnect()
}

func ensureChannels(vc *discordgo.VoiceConnection) {
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}
	if vc.OpusRecv == nil {
		vc.OpusRecv = make(chan *discordgo.Packet, 2)
	}
}
