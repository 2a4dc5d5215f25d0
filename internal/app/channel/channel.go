// Package channel wraps fabric sessions into the two channel kinds a device
// pair uses: a control channel for events and a stream channel for audio.
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/rs/zerolog/log"
)

// Fabric is the part of the session fabric a channel drives.
type Fabric interface {
	CreateSessionServer(owner, channelName, peerID string) error
	RemoveSessionServer(owner, channelName, peerID string) error
	OpenSession(ctx context.Context, localName, peerName, peerID string, kind core.DataKind) (core.SessionID, error)
	CloseSession(id core.SessionID)
	SendBytes(id core.SessionID, data []byte) error
	SendStream(id core.SessionID, data []byte) error
	RegisterListener(channelName, peerID string, l core.SessionListener)
	UnregisterListener(channelName, peerID string)
}

// base carries the session lifecycle shared by both channel kinds.
type base struct {
	fabric Fabric
	owner  string
	peerID string
	kind   core.DataKind
	module string

	mu          sync.RWMutex
	channelName string
	sessionID   core.SessionID
	listener    core.ChannelListener
	self        core.SessionListener
}

func newBase(f Fabric, owner, peerID string, kind core.DataKind, module string) base {
	return base{fabric: f, owner: owner, peerID: peerID, kind: kind, module: module}
}

// createSession registers the session server and binds self under
// (channelName, peerID). Only a nil interface is rejected; a typed nil
// pointer passes and is the caller's bug.
func (b *base) createSession(self core.SessionListener, listener core.ChannelListener, channelName string) error {
	if listener == nil {
		return domain.ErrNullListener
	}
	if channelName == "" || b.peerID == "" {
		return fmt.Errorf("%w: channel name and peer are required", domain.ErrInvalidParam)
	}
	if b.fabric == nil {
		return fmt.Errorf("%w: session fabric", domain.ErrNullValue)
	}
	if err := b.fabric.CreateSessionServer(b.owner, channelName, b.peerID); err != nil {
		return err
	}
	b.mu.Lock()
	b.channelName = channelName
	b.listener = listener
	b.self = self
	b.mu.Unlock()
	b.fabric.RegisterListener(channelName, b.peerID, self)
	log.Debug().Str("module", b.module).Str("channel", channelName).Str("peer", b.peerID).Msg("session created")
	return nil
}

// ReleaseSession closes any open session and undoes CreateSession.
func (b *base) ReleaseSession() error {
	if err := b.CloseSession(); err != nil {
		return err
	}
	b.mu.Lock()
	name := b.channelName
	b.channelName = ""
	b.listener = nil
	b.mu.Unlock()
	if name == "" {
		return nil
	}
	b.fabric.UnregisterListener(name, b.peerID)
	return b.fabric.RemoveSessionServer(b.owner, name, b.peerID)
}

// OpenSession opens the channel towards the peer's channel of the same name.
func (b *base) OpenSession(ctx context.Context) error {
	b.mu.RLock()
	name := b.channelName
	b.mu.RUnlock()
	if name == "" {
		return fmt.Errorf("%w: channel not created", domain.ErrStatus)
	}
	id, err := b.fabric.OpenSession(ctx, name, name, b.peerID, b.kind)
	if err != nil {
		log.Warn().Err(err).Str("module", b.module).Str("channel", name).Str("peer", b.peerID).Msg("open session")
		return err
	}
	b.mu.Lock()
	b.sessionID = id
	b.mu.Unlock()
	return nil
}

// CloseSession is a no-op when no session is open.
func (b *base) CloseSession() error {
	b.mu.Lock()
	id := b.sessionID
	b.sessionID = 0
	b.mu.Unlock()
	if id == 0 {
		return nil
	}
	b.fabric.CloseSession(id)
	log.Debug().Str("module", b.module).Int64("sid", int64(id)).Msg("session closed")
	return nil
}

func (b *base) SessionID() core.SessionID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessionID
}

func (b *base) IsOpen() bool { return b.SessionID() != 0 }

func (b *base) PeerID() string { return b.peerID }

func (b *base) ChannelName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.channelName
}

func (b *base) upper() core.ChannelListener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.listener
}

func (b *base) onOpened(id core.SessionID) {
	b.mu.Lock()
	b.sessionID = id
	l := b.listener
	b.mu.Unlock()
	if l == nil {
		log.Warn().Str("module", b.module).Int64("sid", int64(id)).Msg("session opened without listener")
		return
	}
	l.OnSessionOpened()
}

func (b *base) onClosed(id core.SessionID) {
	b.mu.Lock()
	if b.sessionID == id {
		b.sessionID = 0
	}
	l := b.listener
	b.mu.Unlock()
	if l == nil {
		log.Warn().Str("module", b.module).Int64("sid", int64(id)).Msg("session closed without listener")
		return
	}
	l.OnSessionClosed()
}

func (b *base) currentSession() (core.SessionID, error) {
	id := b.SessionID()
	if id == 0 {
		return 0, fmt.Errorf("%w: %s to %s", domain.ErrSessionNotOpen, b.ChannelName(), b.peerID)
	}
	return id, nil
}
