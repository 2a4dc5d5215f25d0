package device

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Speaker renders frames received from the peer through a jitter queue.
type Speaker struct {
	*session
	sink   core.Sink
	jitter *JitterQueue
}

func NewSpeaker(opts Options) *Speaker {
	sp := &Speaker{
		session: newSession(opts, speakerRole),
		jitter:  NewJitterQueue(opts.JitterCapacity, opts.DhID, opts.Metrics),
	}
	sp.acquire = func(param domain.AudioParam) (endpoint, error) {
		sink, err := sp.opts.Provider.OpenSink(param)
		if err != nil {
			return nil, err
		}
		sp.sink = sink
		return sink, nil
	}
	sp.prepare = func() {
		sp.jitter.Clear()
		sp.jitter.Prefill(sp.opts.JitterPrefill, sp.param.FrameSize())
	}
	sp.run = sp.render
	sp.onData = func(frame *domain.AudioFrame) { sp.jitter.Push(frame) }
	return sp
}

// Jitter exposes the queue for inspection.
func (sp *Speaker) Jitter() *JitterQueue { return sp.jitter }

// SetVolume forwards to the sink when it supports volume control.
func (sp *Speaker) SetVolume(level int, mute bool) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if st := sp.state.Load(); st == StateIdle || st == StateReleased {
		return fmt.Errorf("%w: set volume in state %s", domain.ErrStatus, st)
	}
	vc, ok := sp.sink.(core.VolumeControl)
	if !ok {
		return fmt.Errorf("%w: sink has no volume control", domain.ErrNullValue)
	}
	if err := vc.SetVolume(level, mute); err != nil {
		return err
	}
	log.Info().Str("module", sp.role.module).Str("dh_id", sp.opts.DhID).Int("level", level).Bool("mute", mute).Msg("volume set")
	return nil
}

// render keeps the sink fed at its own cadence: an empty queue after the
// pop wait is rendered as silence.
func (sp *Speaker) render(ctx context.Context, dump *dumper) {
	silence := domain.NewAudioFrame(sp.param.FrameSize())
	errLog := rate.Sometimes{Interval: time.Second}

	for sp.ready.Load() && ctx.Err() == nil {
		frame, ok := sp.jitter.Pop(sp.opts.PopWait)
		if !ok {
			sp.opts.Metrics.JitterUnderrun(sp.opts.DhID)
			silence.Silence()
			frame = silence
		}
		sp.watch.mark("render", time.Now())
		dump.write(frame)
		if err := sp.sink.WriteFrame(frame); err != nil {
			errLog.Do(func() {
				log.Warn().Err(err).Str("module", sp.role.module).Str("dh_id", sp.opts.DhID).Msg("write frame")
			})
		}
	}
}
