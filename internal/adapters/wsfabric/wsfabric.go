// Package wsfabric is a network fabric over websockets. Every session is one
// websocket: byte sessions carry one binary message per send, stream
// sessions carry one RTP packet per frame.
package wsfabric

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/daudio/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	Path = "/api/fabric/ws"

	DefaultWriteTimeout = 2 * time.Second
	DefaultPingPeriod   = 5 * time.Second
	DefaultReadLimit    = 128 * 1024

	readyMessage = "ready"
)

var (
	ErrNoRoute   = errors.New("no route to peer")
	ErrRejected  = errors.New("peer rejected session")
	ErrUnknownID = errors.New("unknown session")
	ErrNoHandler = errors.New("fabric callbacks not set")
)

type Config struct {
	DeviceID string
	// Peers maps a device id to its base URL per link type.
	Peers        map[string]map[core.LinkType]string
	WriteTimeout time.Duration
	PingPeriod   time.Duration
	ReadLimit    int64
}

// Endpoint implements core.Fabric. Outbound sessions are dialed, inbound
// ones arrive through Handler.
type Endpoint struct {
	cfg    Config
	dialer *websocket.Dialer
	nextID atomic.Int64

	mu      sync.RWMutex
	cb      core.FabricCallbacks
	servers map[string]struct{}
	conns   map[core.SessionID]*conn
}

var _ core.Fabric = (*Endpoint)(nil)

func New(cfg Config) *Endpoint {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = DefaultPingPeriod
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	return &Endpoint{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.WriteTimeout},
		servers: make(map[string]struct{}),
		conns:   make(map[core.SessionID]*conn),
	}
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

// OpenSession dials the peer, trying link types in order, and returns once
// the peer answered ready.
func (e *Endpoint) OpenSession(ctx context.Context, localName, peerName, peerID string, attr core.SessionAttr) (core.SessionID, error) {
	urls := e.routes(peerID, attr.LinkTypes)
	if len(urls) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoRoute, peerID)
	}
	var errs []error
	for _, base := range urls {
		ws, err := e.dial(ctx, base, localName, peerName, attr.Kind)
		if err != nil {
			log.Debug().Err(err).Str("module", "wsfabric").Str("peer", peerID).Str("url", base).Msg("dial failed")
			errs = append(errs, err)
			continue
		}
		id := core.SessionID(e.nextID.Add(1))
		c := newConn(e, id, ws, core.SessionInfo{
			ID:              id,
			SessionName:     localName,
			PeerSessionName: peerName,
			PeerID:          peerID,
			Kind:            attr.Kind,
		})
		e.track(c)
		c.run()
		log.Info().Str("module", "wsfabric").Int64("sid", int64(id)).Str("peer", peerID).Str("url", base).Str("trace", c.trace).Msg("session dialed")
		return id, nil
	}
	return 0, errors.Join(errs...)
}

func (e *Endpoint) dial(ctx context.Context, base, localName, peerName string, kind core.DataKind) (*websocket.Conn, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = Path
	q := url.Values{}
	q.Set("from", e.cfg.DeviceID)
	q.Set("local", localName)
	q.Set("peer", peerName)
	q.Set("kind", kind.String())
	u.RawQuery = q.Encode()

	ws, _, err := e.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	} else {
		_ = ws.SetReadDeadline(time.Now().Add(e.cfg.WriteTimeout))
	}
	mt, data, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, fmt.Errorf("%w: %s", ErrRejected, ce.Text)
		}
		return nil, err
	}
	if mt != websocket.TextMessage || string(data) != readyMessage {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: unexpected handshake message", ErrRejected)
	}
	_ = ws.SetReadDeadline(time.Time{})
	return ws, nil
}

func (e *Endpoint) routes(peerID string, order []core.LinkType) []string {
	links := e.cfg.Peers[peerID]
	if len(links) == 0 {
		return nil
	}
	if len(order) == 0 {
		order = make([]core.LinkType, 0, len(links))
		for lt := range links {
			order = append(order, lt)
		}
		sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	}
	out := make([]string, 0, len(order))
	for _, lt := range order {
		if u, ok := links[lt]; ok && u != "" {
			out = append(out, u)
		}
	}
	return out
}

func (e *Endpoint) CloseSession(id core.SessionID) {
	c := e.untrack(id)
	if c == nil {
		return
	}
	c.close(true)
}

func (e *Endpoint) SendBytes(id core.SessionID, data []byte) error {
	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	return c.writeBinary(data)
}

func (e *Endpoint) SendStream(id core.SessionID, data []byte) error {
	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	return c.writeFrame(data)
}

// Sessions reports the number of live websocket sessions.
func (e *Endpoint) Sessions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.conns)
}

// Close drops every session without notifying local callbacks.
func (e *Endpoint) Close() {
	e.mu.Lock()
	conns := make([]*conn, 0, len(e.conns))
	for id, c := range e.conns {
		conns = append(conns, c)
		delete(e.conns, id)
	}
	e.mu.Unlock()
	for _, c := range conns {
		c.close(true)
	}
}

func (e *Endpoint) callbacks() core.FabricCallbacks {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cb
}

func (e *Endpoint) hasServer(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.servers[name]
	return ok
}

func (e *Endpoint) lookup(id core.SessionID) (*conn, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownID, id)
	}
	return c, nil
}

func (e *Endpoint) track(c *conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns[c.id] = c
}

func (e *Endpoint) untrack(id core.SessionID) *conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.conns[id]
	delete(e.conns, id)
	return c
}
