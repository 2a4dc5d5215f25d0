package fabric

import (
	"github.com/dkeye/daudio/internal/core"
	"github.com/rs/zerolog/log"
)

// RegisterListener binds l to (channelName, peerID). A second registration
// for the same key replaces the first.
func (s *SessionFabric) RegisterListener(channelName, peerID string, l core.SessionListener) {
	s.lisMu.Lock()
	defer s.lisMu.Unlock()
	s.byName[listenerKey{channel: channelName, peer: peerID}] = l
	log.Debug().Str("module", "fabric").Str("channel", channelName).Str("peer", peerID).Msg("listener registered")
}

// UnregisterListener removes the name binding and every session binding
// that still points at the same listener.
func (s *SessionFabric) UnregisterListener(channelName, peerID string) {
	s.lisMu.Lock()
	defer s.lisMu.Unlock()
	key := listenerKey{channel: channelName, peer: peerID}
	l, ok := s.byName[key]
	if !ok {
		return
	}
	delete(s.byName, key)
	for id, bound := range s.byID {
		if bound == l {
			delete(s.byID, id)
		}
	}
	log.Debug().Str("module", "fabric").Str("channel", channelName).Str("peer", peerID).Msg("listener unregistered")
}

func (s *SessionFabric) listenerByID(id core.SessionID) core.SessionListener {
	s.lisMu.RLock()
	defer s.lisMu.RUnlock()
	return s.byID[id]
}
