// Package fabric multiplexes the channels of every device session in a
// process over one network fabric: it tracks session servers, routes inbound
// traffic to listeners and owns the shared stream sender.
package fabric

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/dkeye/daudio/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultOutboundQueueSize = 10
	DefaultMaxMessageLen     = 45 * 1024
	DefaultMaxFrameLen       = 100 * 1024

	senderWait = 50 * time.Millisecond
)

type Config struct {
	OutboundQueueSize int
	MaxMessageLen     int
	MaxFrameLen       int
	// LinkTypes is the preference order passed to the network on open.
	LinkTypes []core.LinkType
}

func DefaultConfig() Config {
	return Config{
		OutboundQueueSize: DefaultOutboundQueueSize,
		MaxMessageLen:     DefaultMaxMessageLen,
		MaxFrameLen:       DefaultMaxFrameLen,
		LinkTypes:         []core.LinkType{core.LinkLocal, core.LinkWide},
	}
}

type listenerKey struct {
	channel string
	peer    string
}

// SessionFabric is constructed once per process and shared by reference.
type SessionFabric struct {
	net     core.Fabric
	cfg     Config
	metrics *metrics.Collector

	srvMu   sync.Mutex
	servers map[string]map[string]struct{}

	lisMu    sync.RWMutex
	byName   map[listenerKey]core.SessionListener
	byID     map[core.SessionID]core.SessionListener
	sessions map[core.SessionID]core.SessionInfo

	out *OutboundQueue

	senderMu   sync.Mutex
	senderStop chan struct{}
	senderDone chan struct{}

	dropLog rate.Sometimes
	sendLog rate.Sometimes
}

// New installs the returned fabric as the callbacks of net.
func New(net core.Fabric, cfg Config, m *metrics.Collector) *SessionFabric {
	def := DefaultConfig()
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = def.OutboundQueueSize
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = def.MaxMessageLen
	}
	if cfg.MaxFrameLen <= 0 {
		cfg.MaxFrameLen = def.MaxFrameLen
	}
	if len(cfg.LinkTypes) == 0 {
		cfg.LinkTypes = def.LinkTypes
	}
	s := &SessionFabric{
		net:      net,
		cfg:      cfg,
		metrics:  m,
		servers:  make(map[string]map[string]struct{}),
		byName:   make(map[listenerKey]core.SessionListener),
		byID:     make(map[core.SessionID]core.SessionListener),
		sessions: make(map[core.SessionID]core.SessionInfo),
		out:      NewOutboundQueue(cfg.OutboundQueueSize),
		dropLog:  rate.Sometimes{Interval: time.Second},
		sendLog:  rate.Sometimes{Interval: time.Second},
	}
	net.SetCallbacks(s)
	return s
}

func (s *SessionFabric) Config() Config { return s.cfg }

// CreateSessionServer is idempotent per channel: later peers only join the
// peer set of the already registered server.
func (s *SessionFabric) CreateSessionServer(owner, channelName, peerID string) error {
	if owner == "" || channelName == "" || peerID == "" {
		return fmt.Errorf("%w: owner, channel and peer are required", domain.ErrInvalidParam)
	}
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	if peers, ok := s.servers[channelName]; ok {
		peers[peerID] = struct{}{}
		log.Debug().Str("module", "fabric").Str("channel", channelName).Str("peer", peerID).Msg("session server peer added")
		return nil
	}
	if err := s.net.CreateSessionServer(owner, channelName); err != nil {
		log.Error().Err(err).Str("module", "fabric").Str("channel", channelName).Msg("create session server")
		return fmt.Errorf("%w: create session server %s: %w", domain.ErrTransport, channelName, err)
	}
	s.servers[channelName] = map[string]struct{}{peerID: {}}
	log.Info().Str("module", "fabric").Str("channel", channelName).Str("peer", peerID).Msg("session server created")
	return nil
}

// RemoveSessionServer unregisters the server once its last peer is removed.
// Unknown channels are a successful no-op.
func (s *SessionFabric) RemoveSessionServer(owner, channelName, peerID string) error {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	peers, ok := s.servers[channelName]
	if !ok {
		return nil
	}
	delete(peers, peerID)
	if len(peers) > 0 {
		return nil
	}
	delete(s.servers, channelName)
	if err := s.net.RemoveSessionServer(owner, channelName); err != nil {
		log.Error().Err(err).Str("module", "fabric").Str("channel", channelName).Msg("remove session server")
		return fmt.Errorf("%w: remove session server %s: %w", domain.ErrTransport, channelName, err)
	}
	log.Info().Str("module", "fabric").Str("channel", channelName).Msg("session server removed")
	return nil
}

// OpenSession asks the network for a session and binds it to the listener
// registered under (localName, peerID). Failures are returned, never retried.
func (s *SessionFabric) OpenSession(ctx context.Context, localName, peerName, peerID string, kind core.DataKind) (core.SessionID, error) {
	if localName == "" || peerName == "" || peerID == "" {
		return 0, fmt.Errorf("%w: session names and peer are required", domain.ErrInvalidParam)
	}
	attr := core.SessionAttr{Kind: kind, LinkTypes: s.cfg.LinkTypes}
	id, err := s.net.OpenSession(ctx, localName, peerName, peerID, attr)
	if err != nil {
		log.Warn().Err(err).Str("module", "fabric").Str("channel", localName).Str("peer", peerID).Msg("open session failed")
		return 0, fmt.Errorf("%w: %s -> %s@%s: %w", domain.ErrOpenFailed, localName, peerName, peerID, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: fabric returned session id %d", domain.ErrOpenFailed, id)
	}

	info := core.SessionInfo{
		ID:              id,
		SessionName:     localName,
		PeerSessionName: peerName,
		PeerID:          peerID,
		Kind:            kind,
	}
	l := s.bindSession(info)
	s.startSender()
	log.Info().Str("module", "fabric").Int64("sid", int64(id)).Str("channel", localName).Str("peer", peerID).Str("kind", kind.String()).Msg("session opened")

	if l == nil {
		s.metrics.InboundRejected(metrics.ReasonNoListener)
		log.Warn().Str("module", "fabric").Int64("sid", int64(id)).Str("channel", localName).Msg("opened session has no listener")
		return id, nil
	}
	s.safeDispatch(id, "opened", func() { l.OnSessionOpened(id, info) })
	return id, nil
}

// CloseSession is idempotent on unknown or already closed ids.
func (s *SessionFabric) CloseSession(id core.SessionID) {
	if id <= 0 {
		return
	}
	s.lisMu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	delete(s.byID, id)
	n := len(s.sessions)
	s.lisMu.Unlock()
	if !ok {
		return
	}
	s.metrics.SessionsOpen(n)
	s.net.CloseSession(id)
	s.stopSenderIfIdle()
	log.Info().Str("module", "fabric").Int64("sid", int64(id)).Msg("session closed")
}

// SendBytes blocks until the network accepted data.
func (s *SessionFabric) SendBytes(id core.SessionID, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty message", domain.ErrInvalidParam)
	}
	if len(data) > s.cfg.MaxMessageLen {
		return fmt.Errorf("%w: message %d > %d", domain.ErrPayloadTooLarge, len(data), s.cfg.MaxMessageLen)
	}
	if !s.hasSession(id) {
		return fmt.Errorf("%w: sid %d", domain.ErrSessionNotOpen, id)
	}
	if err := s.net.SendBytes(id, data); err != nil {
		log.Error().Err(err).Str("module", "fabric").Int64("sid", int64(id)).Msg("send bytes")
		return fmt.Errorf("%w: sid %d: %w", domain.ErrSendFailed, id, err)
	}
	return nil
}

// SendStream queues a copy of data for the shared sender and returns at once.
func (s *SessionFabric) SendStream(id core.SessionID, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty frame", domain.ErrInvalidParam)
	}
	if len(data) > s.cfg.MaxFrameLen {
		return fmt.Errorf("%w: frame %d > %d", domain.ErrPayloadTooLarge, len(data), s.cfg.MaxFrameLen)
	}
	if !s.hasSession(id) {
		return fmt.Errorf("%w: sid %d", domain.ErrSessionNotOpen, id)
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	if s.out.Push(OutboundFrame{SessionID: id, Payload: payload}) {
		s.metrics.OutboundDropped(metrics.ReasonQueueFull)
		s.dropLog.Do(func() {
			log.Warn().Str("module", "fabric").Int64("sid", int64(id)).Int("capacity", s.out.Cap()).Msg("outbound queue full, dropped oldest frame")
		})
	}
	s.metrics.OutboundEnqueued(s.out.Len())
	return nil
}

// OutboundLen reports the frames waiting for the sender.
func (s *SessionFabric) OutboundLen() int { return s.out.Len() }

// Sessions returns a snapshot ordered by id.
func (s *SessionFabric) Sessions() []core.SessionInfo {
	s.lisMu.RLock()
	out := make([]core.SessionInfo, 0, len(s.sessions))
	for _, info := range s.sessions {
		out = append(out, info)
	}
	s.lisMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop closes every session, unregisters every server and stops the sender.
func (s *SessionFabric) Stop() {
	s.lisMu.Lock()
	ids := make([]core.SessionID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.lisMu.Unlock()
	for _, id := range ids {
		s.CloseSession(id)
	}

	s.srvMu.Lock()
	for name := range s.servers {
		if err := s.net.RemoveSessionServer("", name); err != nil {
			log.Warn().Err(err).Str("module", "fabric").Str("channel", name).Msg("remove session server on stop")
		}
		delete(s.servers, name)
	}
	s.srvMu.Unlock()

	s.stopSender()
	log.Info().Str("module", "fabric").Msg("session fabric stopped")
}

func (s *SessionFabric) hasSession(id core.SessionID) bool {
	s.lisMu.RLock()
	defer s.lisMu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

func (s *SessionFabric) bindSession(info core.SessionInfo) core.SessionListener {
	s.lisMu.Lock()
	s.sessions[info.ID] = info
	l := s.byName[listenerKey{channel: info.SessionName, peer: info.PeerID}]
	if l != nil {
		s.byID[info.ID] = l
	}
	n := len(s.sessions)
	s.lisMu.Unlock()
	s.metrics.SessionsOpen(n)
	return l
}
