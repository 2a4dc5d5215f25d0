package fabric

import (
	"fmt"

	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/dkeye/daudio/internal/metrics"
	"github.com/rs/zerolog/log"
)

var _ core.FabricCallbacks = (*SessionFabric)(nil)

// OnSessionOpened accepts a session the peer opened. Without a listener for
// (SessionName, PeerID) the open is refused.
func (s *SessionFabric) OnSessionOpened(id core.SessionID, info core.SessionInfo) error {
	if id <= 0 {
		return fmt.Errorf("%w: session id %d", domain.ErrInvalidParam, id)
	}
	info.ID = id
	s.lisMu.RLock()
	_, registered := s.byName[listenerKey{channel: info.SessionName, peer: info.PeerID}]
	s.lisMu.RUnlock()
	if !registered {
		s.metrics.InboundRejected(metrics.ReasonNoListener)
		log.Warn().Str("module", "fabric").Int64("sid", int64(id)).Str("channel", info.SessionName).Str("peer", info.PeerID).Msg("inbound session has no listener")
		return fmt.Errorf("%w: %s@%s", domain.ErrListenerNotFound, info.SessionName, info.PeerID)
	}

	l := s.bindSession(info)
	s.startSender()
	log.Info().Str("module", "fabric").Int64("sid", int64(id)).Str("channel", info.SessionName).Str("peer", info.PeerID).Str("kind", info.Kind.String()).Msg("inbound session opened")
	if l != nil {
		s.safeDispatch(id, "opened", func() { l.OnSessionOpened(id, info) })
	}
	return nil
}

// OnSessionClosed handles a peer-initiated close. Late or repeated closes are ignored.
func (s *SessionFabric) OnSessionClosed(id core.SessionID) {
	s.lisMu.Lock()
	_, ok := s.sessions[id]
	l := s.byID[id]
	delete(s.sessions, id)
	delete(s.byID, id)
	n := len(s.sessions)
	s.lisMu.Unlock()
	if !ok {
		log.Debug().Str("module", "fabric").Int64("sid", int64(id)).Msg("close for unknown session")
		return
	}
	s.metrics.SessionsOpen(n)
	s.stopSenderIfIdle()
	log.Info().Str("module", "fabric").Int64("sid", int64(id)).Msg("session closed by peer")
	if l == nil {
		s.metrics.InboundRejected(metrics.ReasonNoListener)
		return
	}
	s.safeDispatch(id, "closed", func() { l.OnSessionClosed(id) })
}

func (s *SessionFabric) OnBytesReceived(id core.SessionID, data []byte) error {
	if err := s.checkInbound(id, len(data), s.cfg.MaxMessageLen); err != nil {
		return err
	}
	l := s.listenerByID(id)
	if l == nil {
		s.metrics.InboundRejected(metrics.ReasonNoListener)
		log.Warn().Str("module", "fabric").Int64("sid", int64(id)).Msg("bytes for session without listener dropped")
		return fmt.Errorf("%w: sid %d", domain.ErrListenerNotFound, id)
	}
	s.safeDispatch(id, "bytes", func() { l.OnBytesReceived(id, data) })
	return nil
}

func (s *SessionFabric) OnStreamReceived(id core.SessionID, data []byte) error {
	if err := s.checkInbound(id, len(data), s.cfg.MaxFrameLen); err != nil {
		return err
	}
	l := s.listenerByID(id)
	if l == nil {
		s.metrics.InboundRejected(metrics.ReasonNoListener)
		s.dropLog.Do(func() {
			log.Warn().Str("module", "fabric").Int64("sid", int64(id)).Msg("stream for session without listener dropped")
		})
		return fmt.Errorf("%w: sid %d", domain.ErrListenerNotFound, id)
	}
	s.safeDispatch(id, "stream", func() { l.OnStreamReceived(id, data) })
	return nil
}

func (s *SessionFabric) OnQosEvent(id core.SessionID, ev core.QosEvent) {
	log.Debug().Str("module", "fabric").Int64("sid", int64(id)).Dur("rtt", ev.RTT).Msg("qos")
}

func (s *SessionFabric) checkInbound(id core.SessionID, n, limit int) error {
	if n == 0 {
		s.metrics.InboundRejected(metrics.ReasonEmpty)
		return fmt.Errorf("%w: empty payload on sid %d", domain.ErrInvalidParam, id)
	}
	if n > limit {
		s.metrics.InboundRejected(metrics.ReasonTooLarge)
		log.Warn().Str("module", "fabric").Int64("sid", int64(id)).Int("len", n).Int("limit", limit).Msg("oversized payload dropped")
		return fmt.Errorf("%w: %d > %d", domain.ErrPayloadTooLarge, n, limit)
	}
	return nil
}

// safeDispatch keeps a faulty listener from unwinding into the network's goroutine.
func (s *SessionFabric) safeDispatch(id core.SessionID, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "fabric").Int64("sid", int64(id)).Str("callback", what).Interface("panic", r).Msg("listener panicked")
		}
	}()
	fn()
}
