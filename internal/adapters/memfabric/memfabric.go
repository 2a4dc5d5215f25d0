// Package memfabric is an in-process network fabric. Devices attach an
// Endpoint to a shared Network and open sessions to each other by device id.
package memfabric

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/daudio/internal/core"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownPeer    = errors.New("unknown peer device")
	ErrNoServer       = errors.New("peer has no session server")
	ErrUnknownSession = errors.New("unknown session")
	ErrNoCallbacks    = errors.New("endpoint has no callbacks")
)

type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
	nextID    atomic.Int64
}

func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*Endpoint)}
}

// Endpoint returns the endpoint of deviceID, creating it on first use.
func (n *Network) Endpoint(deviceID string) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, ok := n.endpoints[deviceID]; ok {
		return e
	}
	e := &Endpoint{
		net:      n,
		deviceID: deviceID,
		servers:  make(map[string]struct{}),
		links:    make(map[core.SessionID]link),
	}
	n.endpoints[deviceID] = e
	return e
}

func (n *Network) lookup(deviceID string) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[deviceID]
}

type link struct {
	peer   *Endpoint
	peerID core.SessionID
	kind   core.DataKind
}

// Endpoint implements core.Fabric for one device.
type Endpoint struct {
	net      *Network
	deviceID string

	mu      sync.RWMutex
	cb      core.FabricCallbacks
	servers map[string]struct{}
	links   map[core.SessionID]link
	openErr error
}

var _ core.Fabric = (*Endpoint)(nil)

func (e *Endpoint) DeviceID() string { return e.deviceID }

// SetOpenError makes every following OpenSession from this endpoint fail with err.
func (e *Endpoint) SetOpenError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openErr = err
}

func (e *Endpoint) SetCallbacks(cb core.FabricCallbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb = cb
}

func (e *Endpoint) CreateSessionServer(_, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.servers[name] = struct{}{}
	return nil
}

func (e *Endpoint) RemoveSessionServer(_, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.servers, name)
	return nil
}

func (e *Endpoint) OpenSession(ctx context.Context, localName, peerName, peerDevice string, attr core.SessionAttr) (core.SessionID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.RLock()
	openErr := e.openErr
	e.mu.RUnlock()
	if openErr != nil {
		return 0, openErr
	}
	peer := e.net.lookup(peerDevice)
	if peer == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPeer, peerDevice)
	}
	peer.mu.RLock()
	_, listening := peer.servers[peerName]
	peerCb := peer.cb
	peer.mu.RUnlock()
	if !listening {
		return 0, fmt.Errorf("%w: %s@%s", ErrNoServer, peerName, peerDevice)
	}
	if peerCb == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoCallbacks, peerDevice)
	}

	localID := core.SessionID(e.net.nextID.Add(1))
	remoteID := core.SessionID(e.net.nextID.Add(1))
	peer.addLink(remoteID, link{peer: e, peerID: localID, kind: attr.Kind})
	e.addLink(localID, link{peer: peer, peerID: remoteID, kind: attr.Kind})

	info := core.SessionInfo{
		SessionName:     peerName,
		PeerSessionName: localName,
		PeerID:          e.deviceID,
		Kind:            attr.Kind,
		IsServer:        true,
	}
	if err := peerCb.OnSessionOpened(remoteID, info); err != nil {
		peer.removeLink(remoteID)
		e.removeLink(localID)
		return 0, fmt.Errorf("peer rejected session: %w", err)
	}
	log.Debug().Str("module", "memfabric").Str("from", e.deviceID).Str("to", peerDevice).Int64("sid", int64(localID)).Msg("session linked")
	return localID, nil
}

// CloseSession notifies the peer asynchronously, the way a real network would.
func (e *Endpoint) CloseSession(id core.SessionID) {
	l, ok := e.removeLink(id)
	if !ok {
		return
	}
	if _, ok := l.peer.removeLink(l.peerID); !ok {
		return
	}
	l.peer.mu.RLock()
	cb := l.peer.cb
	l.peer.mu.RUnlock()
	if cb != nil {
		go cb.OnSessionClosed(l.peerID)
	}
}

func (e *Endpoint) SendBytes(id core.SessionID, data []byte) error {
	l, cb, err := e.route(id)
	if err != nil {
		return err
	}
	if err := cb.OnBytesReceived(l.peerID, append([]byte(nil), data...)); err != nil {
		log.Debug().Err(err).Str("module", "memfabric").Int64("sid", int64(id)).Msg("peer dropped bytes")
	}
	return nil
}

func (e *Endpoint) SendStream(id core.SessionID, data []byte) error {
	l, cb, err := e.route(id)
	if err != nil {
		return err
	}
	if err := cb.OnStreamReceived(l.peerID, append([]byte(nil), data...)); err != nil {
		log.Debug().Err(err).Str("module", "memfabric").Int64("sid", int64(id)).Msg("peer dropped frame")
	}
	return nil
}

func (e *Endpoint) route(id core.SessionID) (link, core.FabricCallbacks, error) {
	e.mu.RLock()
	l, ok := e.links[id]
	e.mu.RUnlock()
	if !ok {
		return link{}, nil, fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	l.peer.mu.RLock()
	cb := l.peer.cb
	l.peer.mu.RUnlock()
	if cb == nil {
		return link{}, nil, fmt.Errorf("%w: %s", ErrNoCallbacks, l.peer.deviceID)
	}
	return l, cb, nil
}

func (e *Endpoint) addLink(id core.SessionID, l link) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.links[id] = l
}

func (e *Endpoint) removeLink(id core.SessionID) (link, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.links[id]
	delete(e.links, id)
	return l, ok
}

// Sessions reports how many sessions this endpoint currently holds.
func (e *Endpoint) Sessions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.links)
}
