package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Sink consumes synthesized audio, typically an outbound media track.
type Sink interface {
	WritePCM(pcm []byte)
	// FlushTail pushes any partial frame plus a short silence tail.
	FlushTail()
	// Reset drops everything queued so playback stops immediately.
	Reset()
	// Drain blocks until queued audio has been played out.
	Drain(ctx context.Context) error
}

// Player speaks text into a sink. It satisfies turn.Player.
type Player struct {
	streamer Streamer
	sink     Sink
	voice    Voice
}

func NewPlayer(s Streamer, sink Sink, v Voice) *Player {
	return &Player{streamer: s, sink: sink, voice: v}
}

// Play returns once the audio has played out, or with ctx.Err() after clearing the sink
// when canceled mid-way.
func (p *Player) Play(ctx context.Context, text string) error {
	if p.streamer == nil || p.sink == nil {
		return errors.New("tts: player not configured")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pcmCh, errCh := p.streamer.StreamPCM48k(ctx, text, p.voice)
	bytes := 0
	for pcmCh != nil {
		select {
		case <-ctx.Done():
			p.sink.Reset()
			return ctx.Err()
		case chunk, ok := <-pcmCh:
			if !ok {
				pcmCh = nil
				continue
			}
			bytes += len(chunk)
			p.sink.WritePCM(chunk)
		}
	}

	var streamErr error
	select {
	case err, ok := <-errCh:
		if ok {
			streamErr = err
		}
	case <-ctx.Done():
		p.sink.Reset()
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		p.sink.Reset()
		return err
	}

	p.sink.FlushTail()
	if err := p.sink.Drain(ctx); err != nil {
		p.sink.Reset()
		return err
	}
	log.Debug().Int("pcm_bytes", bytes).Msg("tts playback finished")
	if streamErr != nil {
		return fmt.Errorf("tts stream: %w", streamErr)
	}
	return nil
}
