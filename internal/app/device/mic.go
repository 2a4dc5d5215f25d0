package device

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Mic captures frames from a local source and streams them to the peer.
type Mic struct {
	*session
	source core.Source
}

func NewMic(opts Options) *Mic {
	m := &Mic{session: newSession(opts, micRole)}
	m.acquire = func(param domain.AudioParam) (endpoint, error) {
		src, err := m.opts.Provider.OpenSource(param)
		if err != nil {
			return nil, err
		}
		m.source = src
		return src, nil
	}
	m.run = m.capture
	return m
}

func (m *Mic) capture(ctx context.Context, dump *dumper) {
	frame := domain.NewAudioFrame(m.param.FrameSize())
	backoff := m.param.FrameDuration()
	errLog := rate.Sometimes{Interval: time.Second}

	for m.ready.Load() && ctx.Err() == nil {
		if err := m.source.ReadFrame(frame); err != nil {
			if errors.Is(err, domain.ErrTimeout) {
				continue
			}
			errLog.Do(func() {
				log.Warn().Err(err).Str("module", m.role.module).Str("dh_id", m.opts.DhID).Msg("read frame")
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		now := time.Now()
		frame.PTS = now.UnixMicro()
		m.watch.mark("capture", now)
		dump.write(frame)

		if err := m.transport.Send(frame); err != nil {
			errLog.Do(func() {
				log.Warn().Err(err).Str("module", m.role.module).Str("dh_id", m.opts.DhID).Msg("send frame")
			})
			continue
		}
		m.watch.mark("send", time.Now())
	}
}
