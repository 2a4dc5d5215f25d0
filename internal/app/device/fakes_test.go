package device

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
)

var errDeviceBusy = errors.New("device busy")

type fakeSource struct {
	startErr error
	starts   atomic.Int32
	stops    atomic.Int32
	closes   atomic.Int32
	reads    atomic.Int32
}

func (s *fakeSource) Start() error {
	s.starts.Add(1)
	return s.startErr
}

func (s *fakeSource) Stop() error  { s.stops.Add(1); return nil }
func (s *fakeSource) Close() error { s.closes.Add(1); return nil }

func (s *fakeSource) ReadFrame(frame *domain.AudioFrame) error {
	time.Sleep(2 * time.Millisecond)
	n := s.reads.Add(1)
	buf := frame.Raw()
	for i := range buf {
		buf[i] = byte(n)
	}
	return frame.SetRange(0, len(buf))
}

type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	level  int
	mute   bool
	starts atomic.Int32
	stops  atomic.Int32
	closes atomic.Int32
}

func (s *fakeSink) Start() error { s.starts.Add(1); return nil }
func (s *fakeSink) Stop() error  { s.stops.Add(1); return nil }
func (s *fakeSink) Close() error { s.closes.Add(1); return nil }

func (s *fakeSink) WriteFrame(frame *domain.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), frame.Data()...))
	return nil
}

func (s *fakeSink) SetVolume(level int, mute bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level, s.mute = level, mute
	return nil
}

func (s *fakeSink) written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

type fakeProvider struct {
	source  *fakeSource
	sink    *fakeSink
	openErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{source: &fakeSource{}, sink: &fakeSink{}}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) OpenSource(domain.AudioParam) (core.Source, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	return p.source, nil
}

func (p *fakeProvider) OpenSink(domain.AudioParam) (core.Sink, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	return p.sink, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.AudioEvent
}

func (l *eventLog) NotifyEvent(ev domain.AudioEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []domain.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.EventType, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func (l *eventLog) has(t domain.EventType) bool {
	for _, got := range l.types() {
		if got == t {
			return true
		}
	}
	return false
}

func (l *eventLog) last(t domain.EventType) (domain.AudioEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Type == t {
			return l.events[i], true
		}
	}
	return domain.AudioEvent{}, false
}

func smallParam() domain.AudioParam {
	return domain.AudioParam{SampleRate: 8000, Channels: 1, Format: domain.FormatS16LE, FrameMs: 10}
}
