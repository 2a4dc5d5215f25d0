package fabric

import (
	"time"

	"github.com/dkeye/daudio/internal/metrics"
	"github.com/rs/zerolog/log"
)

// startSender launches the shared stream sender unless it is already running.
func (s *SessionFabric) startSender() {
	s.senderMu.Lock()
	defer s.senderMu.Unlock()
	if s.senderStop != nil {
		return
	}
	s.senderStop = make(chan struct{})
	s.senderDone = make(chan struct{})
	go s.sendLoop(s.senderStop, s.senderDone)
	log.Debug().Str("module", "fabric").Msg("sender started")
}

// stopSenderIfIdle stops the sender when no session is left. The session
// count is re-read under senderMu so a concurrent open cannot be stranded
// without a sender.
func (s *SessionFabric) stopSenderIfIdle() {
	s.senderMu.Lock()
	defer s.senderMu.Unlock()
	s.lisMu.RLock()
	n := len(s.sessions)
	s.lisMu.RUnlock()
	if n > 0 {
		return
	}
	s.stopSenderLocked()
}

func (s *SessionFabric) stopSender() {
	s.senderMu.Lock()
	defer s.senderMu.Unlock()
	s.stopSenderLocked()
}

func (s *SessionFabric) stopSenderLocked() {
	if s.senderStop == nil {
		return
	}
	close(s.senderStop)
	<-s.senderDone
	s.senderStop = nil
	s.senderDone = nil
	if n := s.out.Clear(); n > 0 {
		log.Debug().Str("module", "fabric").Int("dropped", n).Msg("sender stopped with pending frames")
	}
	log.Debug().Str("module", "fabric").Msg("sender stopped")
}

func (s *SessionFabric) sendLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	timer := time.NewTimer(senderWait)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}
		f, ok := s.out.Pop()
		if !ok {
			timer.Reset(senderWait)
			select {
			case <-stop:
				return
			case <-s.out.notify:
			case <-timer.C:
			}
			continue
		}
		s.transmit(f)
	}
}

func (s *SessionFabric) transmit(f OutboundFrame) {
	if !s.hasSession(f.SessionID) {
		s.metrics.OutboundDropped(metrics.ReasonSessionGone)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "fabric").Int64("sid", int64(f.SessionID)).Interface("panic", r).Msg("stream send panicked")
		}
	}()
	if err := s.net.SendStream(f.SessionID, f.Payload); err != nil {
		s.metrics.OutboundDropped(metrics.ReasonSendFailed)
		s.sendLog.Do(func() {
			log.Warn().Err(err).Str("module", "fabric").Int64("sid", int64(f.SessionID)).Msg("stream send failed")
		})
		return
	}
	s.metrics.OutboundSent(s.out.Len())
}
