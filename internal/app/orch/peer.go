package orch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/daudio/internal/app/channel"
	"github.com/dkeye/daudio/internal/app/device"
	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type deviceSession interface {
	Start(ctx context.Context) error
	Stop() error
	Release() error
	State() device.State
	DhID() string
	PeerID() string
	Param() domain.AudioParam
	Channel() string
	Initiator() bool
}

// PeerStatus is the listing view of one peer.
type PeerStatus struct {
	PeerID      string                  `json:"peer_id"`
	ControlOpen bool                    `json:"control_open"`
	Devices     map[string]DeviceStatus `json:"devices"`
}

// DeviceStatus describes one device session, keyed by stream channel in PeerStatus.
type DeviceStatus struct {
	DhID      string            `json:"dh_id"`
	PeerID    string            `json:"peer_id"`
	Channel   string            `json:"channel"`
	Initiator bool              `json:"initiator"`
	State     string            `json:"state"`
	Param     domain.AudioParam `json:"param"`
}

// peerLink is the control channel to one peer plus the device sessions
// serving it, keyed by stream channel name.
type peerLink struct {
	o    *Orchestrator
	id   string
	ctrl *channel.ControlChannel
	// inbound bounds the control events a peer may queue per second.
	inbound *rate.Limiter
	dropLog rate.Sometimes

	mu      sync.Mutex
	devices map[string]deviceSession
}

var _ core.ChannelListener = (*peerLink)(nil)

func newPeerLink(o *Orchestrator, peer string) *peerLink {
	return &peerLink{
		o:       o,
		id:      peer,
		ctrl:    channel.NewControlChannel(o.fabric, device.DefaultOwner, peer, o.cfg.MaxMessageLen),
		inbound: rate.NewLimiter(o.cfg.EventRate, o.cfg.EventBurst),
		dropLog: rate.Sometimes{Interval: time.Second},
		devices: make(map[string]deviceSession),
	}
}

func (l *peerLink) OnSessionOpened() {
	log.Info().Str("module", "orch").Str("peer", l.id).Msg("control channel opened")
	l.o.notifyUpward(domain.NewEvent(domain.EventCtrlOpened, l.id))
}

// OnSessionClosed tears down every device of the peer on the queue.
func (l *peerLink) OnSessionClosed() {
	log.Info().Str("module", "orch").Str("peer", l.id).Msg("control channel closed")
	l.o.notifyUpward(domain.NewEvent(domain.EventCtrlClosed, l.id))
	l.o.submit("teardown:"+l.id, l.teardown)
}

func (l *peerLink) OnDataReceived(*domain.AudioFrame) {}

func (l *peerLink) OnEventReceived(ev domain.AudioEvent) {
	if !l.inbound.Allow() {
		l.o.metrics.InboundRejected("rate_limited")
		l.dropLog.Do(func() {
			log.Warn().Str("module", "orch").Str("peer", l.id).Str("event", ev.Type.String()).Msg("control events over rate, dropping")
		})
		return
	}
	l.o.submit(ev.Type.String(), func() { l.o.handle(l, ev) })
}

// deviceEvents forwards device lifecycle events to the peer and upward.
func (l *peerLink) deviceEvents() core.EventSink {
	return core.EventSinkFunc(func(ev domain.AudioEvent) {
		l.o.notifyUpward(ev)
		if !l.ctrl.IsOpen() {
			return
		}
		if err := l.ctrl.SendEvent(ev); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("peer", l.id).Str("event", ev.Type.String()).Msg("forward device event")
		}
	})
}

func (l *peerLink) send(t domain.EventType, payload any) error {
	ev, err := domain.NewEventWith(t, payload)
	if err != nil {
		return err
	}
	if err := l.ctrl.SendEvent(ev); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("peer", l.id).Str("event", t.String()).Msg("send control event")
		return err
	}
	return nil
}

func (l *peerLink) device(channelName string) (deviceSession, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.devices[channelName]
	return d, ok
}

// addDevice fails when a session already serves channelName.
func (l *peerLink) addDevice(channelName string, d deviceSession) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.devices[channelName]; ok {
		return false
	}
	l.devices[channelName] = d
	return true
}

func (l *peerLink) takeDevice(channelName string) (deviceSession, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.devices[channelName]
	delete(l.devices, channelName)
	return d, ok
}

// closeDevice stops and releases the session on channelName, if any.
func (l *peerLink) closeDevice(channelName string) (bool, error) {
	d, ok := l.takeDevice(channelName)
	if !ok {
		return false, nil
	}
	if err := d.Stop(); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("peer", l.id).Str("channel", channelName).Msg("stop device")
	}
	return true, d.Release()
}

func (l *peerLink) teardown() {
	l.mu.Lock()
	names := make([]string, 0, len(l.devices))
	for name := range l.devices {
		names = append(names, name)
	}
	l.mu.Unlock()
	sort.Strings(names)
	for _, name := range names {
		if _, err := l.closeDevice(name); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("peer", l.id).Str("channel", name).Msg("release device")
		}
	}
}

func (l *peerLink) status() PeerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := PeerStatus{PeerID: l.id, ControlOpen: l.ctrl.IsOpen(), Devices: make(map[string]DeviceStatus, len(l.devices))}
	for name, d := range l.devices {
		st.Devices[name] = DeviceStatus{
			DhID:      d.DhID(),
			PeerID:    d.PeerID(),
			Channel:   d.Channel(),
			Initiator: d.Initiator(),
			State:     d.State().String(),
			Param:     d.Param(),
		}
	}
	return st
}
