//go:build portaudio

package audio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"
)

// PortAudioProvider is the framework path over the default host devices.
type PortAudioProvider struct {
	closeOnce sync.Once
}

var _ core.Provider = (*PortAudioProvider)(nil)

func NewPortAudioProvider() (core.Provider, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio: %v", domain.ErrProviderUnavailable, err)
	}
	log.Info().Str("module", "audio").Str("version", portaudio.VersionText()).Msg("portaudio initialized")
	return &PortAudioProvider{}, nil
}

func (p *PortAudioProvider) Name() string { return ModeFramework }

func (p *PortAudioProvider) Close() error {
	var err error
	p.closeOnce.Do(func() { err = portaudio.Terminate() })
	return err
}

func (p *PortAudioProvider) OpenSource(param domain.AudioParam) (core.Source, error) {
	st, err := openStream(param, param.Channels, 0)
	if err != nil {
		return nil, err
	}
	return &paSource{st}, nil
}

func (p *PortAudioProvider) OpenSink(param domain.AudioParam) (core.Sink, error) {
	st, err := openStream(param, 0, param.Channels)
	if err != nil {
		return nil, err
	}
	return &paSink{st}, nil
}

// paStream is a blocking portaudio stream over one frame of int16 samples.
type paStream struct {
	stream *portaudio.Stream
	buf    []int16
}

func openStream(param domain.AudioParam, in, out int) (*paStream, error) {
	if err := param.Validate(); err != nil {
		return nil, err
	}
	if param.Format != domain.FormatS16LE {
		return nil, fmt.Errorf("%w: portaudio path supports %s only", domain.ErrInvalidParam, domain.FormatS16LE)
	}
	buf := make([]int16, param.SamplesPerFrame()*param.Channels)
	stream, err := portaudio.OpenDefaultStream(in, out, float64(param.SampleRate), param.SamplesPerFrame(), buf)
	if err != nil {
		return nil, fmt.Errorf("%w: portaudio open: %v", domain.ErrProviderUnavailable, err)
	}
	return &paStream{stream: stream, buf: buf}, nil
}

func (s *paStream) Start() error { return s.stream.Start() }
func (s *paStream) Stop() error  { return s.stream.Stop() }
func (s *paStream) Close() error { return s.stream.Close() }

type paSource struct{ *paStream }

func (s *paSource) ReadFrame(frame *domain.AudioFrame) error {
	if err := s.stream.Read(); err != nil {
		return err
	}
	raw := frame.Raw()
	n := min(len(s.buf), len(raw)/2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s.buf[i]))
	}
	return frame.SetRange(0, n*2)
}

type paSink struct{ *paStream }

func (s *paSink) WriteFrame(frame *domain.AudioFrame) error {
	data := frame.Data()
	n := min(len(s.buf), len(data)/2)
	for i := 0; i < n; i++ {
		s.buf[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	clear(s.buf[n:])
	return s.stream.Write()
}
