package device

import (
	"context"

	"github.com/dkeye/daudio/internal/app/channel"
	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
)

// Transport is the stream channel of one device session. The initiator
// opens the data session on start; the acceptor waits for the peer.
type Transport struct {
	ch        *channel.StreamChannel
	name      string
	initiator bool
}

func NewTransport(f channel.Fabric, owner, peerID, channelName string, initiator bool) *Transport {
	return &Transport{
		ch:        channel.NewStreamChannel(f, owner, peerID),
		name:      channelName,
		initiator: initiator,
	}
}

// SetUp registers the channel so the peer can open it.
func (t *Transport) SetUp(l core.ChannelListener) error {
	return t.ch.CreateSession(l, t.name)
}

func (t *Transport) Start(ctx context.Context) error {
	if !t.initiator {
		return nil
	}
	return t.ch.OpenSession(ctx)
}

// Stop closes the data session and reports whether one was open.
func (t *Transport) Stop() (bool, error) {
	wasOpen := t.ch.IsOpen()
	return wasOpen, t.ch.CloseSession()
}

func (t *Transport) Release() error { return t.ch.ReleaseSession() }

func (t *Transport) Send(f *domain.AudioFrame) error { return t.ch.SendData(f) }

func (t *Transport) IsOpen() bool { return t.ch.IsOpen() }

func (t *Transport) ChannelName() string { return t.name }

func (t *Transport) Initiator() bool { return t.initiator }
