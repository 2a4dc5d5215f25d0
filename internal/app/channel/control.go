package channel

import (
	"fmt"

	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/rs/zerolog/log"
)

// DefaultMaxMessageLen bounds one encoded control event.
const DefaultMaxMessageLen = 45 * 1024

// ControlChannel carries AudioEvents as byte messages.
type ControlChannel struct {
	base
	maxMessageLen int
}

var _ core.SessionListener = (*ControlChannel)(nil)

func NewControlChannel(f Fabric, owner, peerID string, maxMessageLen int) *ControlChannel {
	if maxMessageLen <= 0 {
		maxMessageLen = DefaultMaxMessageLen
	}
	return &ControlChannel{
		base:          newBase(f, owner, peerID, core.KindBytes, "channel.ctrl"),
		maxMessageLen: maxMessageLen,
	}
}

func (c *ControlChannel) CreateSession(listener core.ChannelListener, channelName string) error {
	return c.createSession(c, listener, channelName)
}

// SendEvent blocks until the fabric took the message.
func (c *ControlChannel) SendEvent(ev domain.AudioEvent) error {
	id, err := c.currentSession()
	if err != nil {
		return err
	}
	msg, err := domain.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidParam, err)
	}
	if len(msg) > c.maxMessageLen {
		return fmt.Errorf("%w: event %s encodes to %d bytes, limit %d", domain.ErrPayloadTooLarge, ev.Type, len(msg), c.maxMessageLen)
	}
	if err := c.fabric.SendBytes(id, msg); err != nil {
		return err
	}
	log.Debug().Str("module", c.module).Int64("sid", int64(id)).Str("event", ev.Type.String()).Msg("event sent")
	return nil
}

func (c *ControlChannel) OnSessionOpened(id core.SessionID, _ core.SessionInfo) { c.onOpened(id) }
func (c *ControlChannel) OnSessionClosed(id core.SessionID)                     { c.onClosed(id) }

func (c *ControlChannel) OnBytesReceived(id core.SessionID, data []byte) {
	ev, err := domain.UnmarshalEvent(data)
	if err != nil {
		log.Error().Err(err).Str("module", c.module).Int64("sid", int64(id)).Int("len", len(data)).Msg("drop malformed event")
		return
	}
	l := c.upper()
	if l == nil {
		log.Warn().Str("module", c.module).Int64("sid", int64(id)).Str("event", ev.Type.String()).Msg("event without listener")
		return
	}
	l.OnEventReceived(ev)
}

func (c *ControlChannel) OnStreamReceived(id core.SessionID, data []byte) {
	log.Warn().Str("module", c.module).Int64("sid", int64(id)).Int("len", len(data)).Msg("stream data on control channel ignored")
}
