package domain

import (
	"fmt"
	"strings"
	"time"
)

type SampleFormat string

const (
	FormatS16LE SampleFormat = "s16le"
	FormatS24LE SampleFormat = "s24le"
	FormatS32LE SampleFormat = "s32le"
)

func ParseSampleFormat(s string) (SampleFormat, error) {
	switch f := SampleFormat(strings.ToLower(s)); f {
	case FormatS16LE, FormatS24LE, FormatS32LE:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown sample format %q", ErrInvalidParam, s)
}

// BytesPerSample returns 0 for unknown formats.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatS16LE:
		return 2
	case FormatS24LE:
		return 3
	case FormatS32LE:
		return 4
	}
	return 0
}

// AudioParam is the negotiated stream shape shared by both ends of a session.
type AudioParam struct {
	SampleRate int          `json:"sampleRate"`
	Channels   int          `json:"channels"`
	Format     SampleFormat `json:"format"`
	FrameMs    int          `json:"frameMs"`
}

func DefaultAudioParam() AudioParam {
	return AudioParam{SampleRate: 48000, Channels: 2, Format: FormatS16LE, FrameMs: 20}
}

func (p AudioParam) Validate() error {
	if p.SampleRate <= 0 || p.SampleRate > 192000 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidParam, p.SampleRate)
	}
	if p.Channels <= 0 || p.Channels > 8 {
		return fmt.Errorf("%w: channels %d", ErrInvalidParam, p.Channels)
	}
	if p.Format.BytesPerSample() == 0 {
		return fmt.Errorf("%w: format %q", ErrInvalidParam, p.Format)
	}
	if p.FrameMs <= 0 || p.FrameMs > 1000 {
		return fmt.Errorf("%w: frame duration %dms", ErrInvalidParam, p.FrameMs)
	}
	return nil
}

// SamplesPerFrame is the per-channel sample count of one frame.
func (p AudioParam) SamplesPerFrame() int {
	return p.SampleRate * p.FrameMs / 1000
}

// FrameSize is the byte size of one interleaved frame.
func (p AudioParam) FrameSize() int {
	return p.SamplesPerFrame() * p.Channels * p.Format.BytesPerSample()
}

func (p AudioParam) FrameDuration() time.Duration {
	return time.Duration(p.FrameMs) * time.Millisecond
}
