package channel

import (
	"fmt"

	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/rs/zerolog/log"
)

// StreamChannel carries raw audio frames.
type StreamChannel struct {
	base
}

var _ core.SessionListener = (*StreamChannel)(nil)

func NewStreamChannel(f Fabric, owner, peerID string) *StreamChannel {
	return &StreamChannel{base: newBase(f, owner, peerID, core.KindStream, "channel.stream")}
}

func (c *StreamChannel) CreateSession(listener core.ChannelListener, channelName string) error {
	return c.createSession(c, listener, channelName)
}

// SendData queues the frame's valid window; it never waits for the network.
func (c *StreamChannel) SendData(frame *domain.AudioFrame) error {
	if frame == nil {
		return fmt.Errorf("%w: nil frame", domain.ErrInvalidParam)
	}
	id, err := c.currentSession()
	if err != nil {
		return err
	}
	return c.fabric.SendStream(id, frame.Data())
}

func (c *StreamChannel) OnSessionOpened(id core.SessionID, _ core.SessionInfo) { c.onOpened(id) }
func (c *StreamChannel) OnSessionClosed(id core.SessionID)                     { c.onClosed(id) }

func (c *StreamChannel) OnStreamReceived(id core.SessionID, data []byte) {
	l := c.upper()
	if l == nil {
		return
	}
	l.OnDataReceived(domain.NewAudioFrameFrom(data))
}

func (c *StreamChannel) OnBytesReceived(id core.SessionID, data []byte) {
	log.Warn().Str("module", c.module).Int64("sid", int64(id)).Int("len", len(data)).Msg("byte message on stream channel ignored")
}
