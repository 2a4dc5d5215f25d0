package core

import "github.com/dkeye/daudio/internal/domain"

// SessionListener receives fabric traffic for one (channel, peer) binding.
type SessionListener interface {
	OnSessionOpened(id SessionID, info SessionInfo)
	OnSessionClosed(id SessionID)
	OnBytesReceived(id SessionID, data []byte)
	OnStreamReceived(id SessionID, data []byte)
}

// ChannelListener is the upper layer of a control or stream channel.
type ChannelListener interface {
	OnSessionOpened()
	OnSessionClosed()
	OnDataReceived(frame *domain.AudioFrame)
	OnEventReceived(ev domain.AudioEvent)
}

// EventSink receives lifecycle and remote control events.
type EventSink interface {
	NotifyEvent(ev domain.AudioEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev domain.AudioEvent)

func (f EventSinkFunc) NotifyEvent(ev domain.AudioEvent) { f(ev) }
