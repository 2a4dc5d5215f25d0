package core

import "github.com/dkeye/daudio/internal/domain"

// Source is a local capture endpoint (microphone or file).
type Source interface {
	Start() error
	Stop() error
	// ReadFrame fills frame. It blocks at most a few frame durations and
	// returns domain.ErrTimeout when nothing was captured in time.
	ReadFrame(frame *domain.AudioFrame) error
	Close() error
}

// Sink is a local render endpoint (speaker or file).
type Sink interface {
	Start() error
	Stop() error
	WriteFrame(frame *domain.AudioFrame) error
	Close() error
}

// VolumeControl is optionally implemented by sinks.
type VolumeControl interface {
	SetVolume(level int, mute bool) error
}

// Provider acquires local endpoints: either through an audio framework
// client or through a direct driver handle.
type Provider interface {
	Name() string
	OpenSource(param domain.AudioParam) (Source, error)
	OpenSink(param domain.AudioParam) (Sink, error)
}
