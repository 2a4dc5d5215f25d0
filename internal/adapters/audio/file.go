package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog/log"
)

const maxVolume = 100

// FileProvider is the driver path: capture plays a PCM or MP3 file in a
// loop, render appends PCM to a file. Both run at real time.
type FileProvider struct {
	captureFile string
	renderFile  string
}

var _ core.Provider = (*FileProvider)(nil)

func NewFileProvider(captureFile, renderFile string) *FileProvider {
	return &FileProvider{captureFile: captureFile, renderFile: renderFile}
}

func (p *FileProvider) Name() string { return ModeDriver }

// OpenSource falls back to silence when no capture file is usable.
func (p *FileProvider) OpenSource(param domain.AudioParam) (core.Source, error) {
	if err := param.Validate(); err != nil {
		return nil, err
	}
	pcm, err := loadPCM(p.captureFile, param)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Str("module", "audio").Str("file", p.captureFile).Msg("capture file missing, capturing silence")
		pcm = nil
	default:
		return nil, err
	}
	return &fileSource{pcm: pcm, pace: newPacer(param.FrameDuration())}, nil
}

// OpenSink truncates the render file; without one frames are discarded.
func (p *FileProvider) OpenSink(param domain.AudioParam) (core.Sink, error) {
	if err := param.Validate(); err != nil {
		return nil, err
	}
	var w io.WriteCloser = nopWriteCloser{io.Discard}
	if p.renderFile != "" {
		if err := os.MkdirAll(filepath.Dir(p.renderFile), 0o755); err != nil {
			return nil, err
		}
		f, err := os.Create(p.renderFile)
		if err != nil {
			return nil, err
		}
		w = f
	}
	return &fileSink{w: w, format: param.Format, level: maxVolume, pace: newPacer(param.FrameDuration())}, nil
}

func loadPCM(path string, param domain.AudioParam) ([]byte, error) {
	if path == "" {
		return nil, fs.ErrNotExist
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(filepath.Ext(path), ".mp3") {
		return raw, nil
	}
	return decodeMP3(bytes.NewReader(raw), param)
}

// decodeMP3 yields s16le PCM; the decoder always produces stereo, so mono
// targets are downmixed.
func decodeMP3(r io.Reader, param domain.AudioParam) ([]byte, error) {
	if param.Format != domain.FormatS16LE {
		return nil, fmt.Errorf("%w: mp3 capture needs %s, got %s", domain.ErrInvalidParam, domain.FormatS16LE, param.Format)
	}
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", domain.ErrMalformed, err)
	}
	if d.SampleRate() != param.SampleRate {
		log.Warn().Str("module", "audio").Int("file_rate", d.SampleRate()).Int("rate", param.SampleRate).Msg("mp3 sample rate differs, playing as is")
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", domain.ErrMalformed, err)
	}
	switch param.Channels {
	case 2:
		return pcm, nil
	case 1:
		return downmix(pcm), nil
	default:
		return nil, fmt.Errorf("%w: mp3 capture supports 1 or 2 channels", domain.ErrInvalidParam)
	}
}

func downmix(stereo []byte) []byte {
	out := make([]byte, len(stereo)/2)
	for i, j := 0, 0; i+4 <= len(stereo); i, j = i+4, j+2 {
		l := int32(int16(binary.LittleEndian.Uint16(stereo[i:])))
		r := int32(int16(binary.LittleEndian.Uint16(stereo[i+2:])))
		binary.LittleEndian.PutUint16(out[j:], uint16(int16((l+r)/2)))
	}
	return out
}

type fileSource struct {
	mu      sync.Mutex
	pcm     []byte
	pos     int
	started bool
	pace    *pacer
}

func (s *fileSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.pace.reset()
	return nil
}

func (s *fileSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

func (s *fileSource) Close() error { return s.Stop() }

func (s *fileSource) ReadFrame(frame *domain.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return fmt.Errorf("%w: source not started", domain.ErrStatus)
	}
	s.pace.wait()
	buf := frame.Raw()
	if len(s.pcm) == 0 {
		clear(buf)
	} else {
		for n := 0; n < len(buf); {
			c := copy(buf[n:], s.pcm[s.pos:])
			n += c
			s.pos = (s.pos + c) % len(s.pcm)
		}
	}
	return frame.SetRange(0, len(buf))
}

type fileSink struct {
	mu      sync.Mutex
	w       io.WriteCloser
	format  domain.SampleFormat
	level   int
	mute    bool
	started bool
	scratch []byte
	pace    *pacer
}

var _ core.VolumeControl = (*fileSink)(nil)

func (s *fileSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.pace.reset()
	return nil
}

func (s *fileSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return s.w.Close()
}

// SetVolume takes a level in [0, 100].
func (s *fileSink) SetVolume(level int, mute bool) error {
	if level < 0 || level > maxVolume {
		return fmt.Errorf("%w: volume %d", domain.ErrInvalidParam, level)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level, s.mute = level, mute
	return nil
}

// WriteFrame never modifies frame.
func (s *fileSink) WriteFrame(frame *domain.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return fmt.Errorf("%w: sink not started", domain.ErrStatus)
	}
	s.pace.wait()
	_, err := s.w.Write(s.applyGain(frame.Data()))
	return err
}

func (s *fileSink) applyGain(data []byte) []byte {
	if !s.mute && s.level == maxVolume {
		return data
	}
	s.scratch = append(s.scratch[:0], data...)
	if s.mute || s.level == 0 {
		clear(s.scratch)
		return s.scratch
	}
	if s.format != domain.FormatS16LE {
		return data
	}
	for i := 0; i+2 <= len(s.scratch); i += 2 {
		v := int32(int16(binary.LittleEndian.Uint16(s.scratch[i:])))
		binary.LittleEndian.PutUint16(s.scratch[i:], uint16(int16(v*int32(s.level)/maxVolume)))
	}
	return s.scratch
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
