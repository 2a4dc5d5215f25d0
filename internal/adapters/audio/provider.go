// Package audio provides local capture and render endpoints: a driver path
// backed by files and a framework path backed by portaudio.
package audio

import (
	"fmt"
	"time"

	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
)

const (
	ModeDriver    = "driver"
	ModeFramework = "framework"
)

type Config struct {
	Mode        string
	CaptureFile string
	RenderFile  string
}

// NewProvider picks the provider for cfg.Mode. Providers that hold process
// resources also implement io.Closer.
func NewProvider(cfg Config) (core.Provider, error) {
	switch cfg.Mode {
	case "", ModeDriver:
		return NewFileProvider(cfg.CaptureFile, cfg.RenderFile), nil
	case ModeFramework:
		return NewPortAudioProvider()
	default:
		return nil, fmt.Errorf("%w: audio mode %q", domain.ErrInvalidParam, cfg.Mode)
	}
}

// pacer releases one tick per period and resyncs when it falls far behind.
type pacer struct {
	period time.Duration
	next   time.Time
}

func newPacer(period time.Duration) *pacer { return &pacer{period: period} }

func (p *pacer) reset() { p.next = time.Now() }

func (p *pacer) wait() {
	now := time.Now()
	if p.next.IsZero() || now.Sub(p.next) > 4*p.period {
		p.next = now
	}
	if d := p.next.Sub(now); d > 0 {
		time.Sleep(d)
	}
	p.next = p.next.Add(p.period)
}
