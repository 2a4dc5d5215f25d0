package domain

import "fmt"

// AudioFrame is a fixed-capacity buffer with a valid window [offset, offset+size).
type AudioFrame struct {
	buf    []byte
	offset int
	size   int
	// PTS is the capture timestamp in microseconds, zero when unknown.
	PTS int64
}

// NewAudioFrame allocates a frame whose valid window covers the whole buffer.
func NewAudioFrame(capacity int) *AudioFrame {
	if capacity < 0 {
		capacity = 0
	}
	return &AudioFrame{buf: make([]byte, capacity), size: capacity}
}

// NewAudioFrameFrom copies b into a new frame.
func NewAudioFrameFrom(b []byte) *AudioFrame {
	f := NewAudioFrame(len(b))
	copy(f.buf, b)
	return f
}

func (f *AudioFrame) Capacity() int { return len(f.buf) }
func (f *AudioFrame) Offset() int   { return f.offset }
func (f *AudioFrame) Size() int     { return f.size }

// Raw returns the whole backing buffer.
func (f *AudioFrame) Raw() []byte { return f.buf }

// Data returns the valid window.
func (f *AudioFrame) Data() []byte { return f.buf[f.offset : f.offset+f.size] }

// SetRange moves the valid window. On failure the window is left unchanged.
func (f *AudioFrame) SetRange(offset, size int) error {
	if offset < 0 || size < 0 || offset+size > len(f.buf) || offset+size < offset {
		return fmt.Errorf("%w: range (%d,%d) exceeds capacity %d", ErrInvalidParam, offset, size, len(f.buf))
	}
	f.offset = offset
	f.size = size
	return nil
}

// Silence zeroes the buffer and resets the window to all of it.
func (f *AudioFrame) Silence() {
	clear(f.buf)
	f.offset = 0
	f.size = len(f.buf)
}

func (f *AudioFrame) Clone() *AudioFrame {
	c := &AudioFrame{buf: make([]byte, len(f.buf)), offset: f.offset, size: f.size, PTS: f.PTS}
	copy(c.buf, f.buf)
	return c
}
