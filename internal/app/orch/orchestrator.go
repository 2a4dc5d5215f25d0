// Package orch binds the control channel of every known peer to the device
// sessions it asks for. Inbound control events are handled one at a time on
// a task queue so fabric goroutines never run device lifecycle code.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/daudio/internal/app/channel"
	"github.com/dkeye/daudio/internal/app/device"
	"github.com/dkeye/daudio/internal/app/taskqueue"
	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/dkeye/daudio/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	ControlChannelName = "daudio.ctrl"
	DefaultOpenTimeout = 3 * time.Second
	DefaultEventRate   = 50
	DefaultEventBurst  = 100
)

type Config struct {
	DeviceID      string
	Peers         []string
	OpenTimeout   time.Duration
	QueueSize     int
	MaxMessageLen int
	// EventRate and EventBurst limit inbound control events per peer.
	EventRate  rate.Limit
	EventBurst int
	// Device carries the tuning fields copied into every device session.
	Device device.Options
}

type Orchestrator struct {
	cfg      Config
	fabric   channel.Fabric
	provider core.Provider
	upward   core.EventSink
	metrics  *metrics.Collector
	queue    *taskqueue.Queue

	mu      sync.Mutex
	ctx     context.Context
	peers   map[string]*peerLink
	started bool
	stopped bool
}

// New builds an orchestrator on f. upward may be nil.
func New(cfg Config, f channel.Fabric, provider core.Provider, upward core.EventSink, m *metrics.Collector) *Orchestrator {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if cfg.EventRate <= 0 {
		cfg.EventRate = DefaultEventRate
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = DefaultEventBurst
	}
	return &Orchestrator{
		cfg:      cfg,
		fabric:   f,
		provider: provider,
		upward:   upward,
		metrics:  m,
		queue:    taskqueue.New(cfg.QueueSize, m),
		ctx:      context.Background(),
		peers:    make(map[string]*peerLink),
	}
}

// Start registers the control channel of every configured peer and starts
// the task queue.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("%w: orchestrator already started", domain.ErrStatus)
	}
	o.started = true
	o.ctx = ctx
	o.mu.Unlock()

	o.queue.Start()
	for _, peer := range o.cfg.Peers {
		if err := o.AddPeer(peer); err != nil {
			return err
		}
	}
	log.Info().Str("module", "orch").Str("device", o.cfg.DeviceID).Int("peers", len(o.cfg.Peers)).Msg("orchestrator started")
	return nil
}

// Run starts, waits for ctx and stops.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	o.Stop()
	return nil
}

// Stop drops pending control work, then stops and releases every device
// session and control channel.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	links := make([]*peerLink, 0, len(o.peers))
	for _, l := range o.peers {
		links = append(links, l)
	}
	o.peers = make(map[string]*peerLink)
	o.mu.Unlock()

	o.queue.Stop()
	for _, l := range links {
		l.teardown()
		if err := l.ctrl.ReleaseSession(); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("peer", l.id).Msg("release control channel")
		}
	}
	log.Info().Str("module", "orch").Msg("orchestrator stopped")
}

// AddPeer registers the control channel for peer so either side can open it.
func (o *Orchestrator) AddPeer(peer string) error {
	_, err := o.addPeer(peer)
	return err
}

func (o *Orchestrator) addPeer(peer string) (*peerLink, error) {
	if peer == "" {
		return nil, fmt.Errorf("%w: empty peer id", domain.ErrInvalidParam)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return nil, fmt.Errorf("%w: orchestrator stopped", domain.ErrStatus)
	}
	if l, ok := o.peers[peer]; ok {
		return l, nil
	}
	l := newPeerLink(o, peer)
	if err := l.ctrl.CreateSession(l, ControlChannelName); err != nil {
		return nil, err
	}
	o.peers[peer] = l
	log.Info().Str("module", "orch").Str("peer", peer).Msg("peer added")
	return l, nil
}

// Connect opens the control session to peer unless one is already open.
func (o *Orchestrator) Connect(ctx context.Context, peer string) error {
	l, err := o.addPeer(peer)
	if err != nil {
		return err
	}
	if l.ctrl.IsOpen() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.OpenTimeout)
	defer cancel()
	return l.ctrl.OpenSession(ctx)
}

// Peers lists the registered peers with their control and device state.
func (o *Orchestrator) Peers() []PeerStatus {
	o.mu.Lock()
	links := make([]*peerLink, 0, len(o.peers))
	for _, l := range o.peers {
		links = append(links, l)
	}
	o.mu.Unlock()

	out := make([]PeerStatus, 0, len(links))
	for _, l := range links {
		out = append(out, l.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func (o *Orchestrator) peer(peer string) (*peerLink, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.peers[peer]
	if !ok {
		return nil, fmt.Errorf("%w: unknown peer %s", domain.ErrInvalidParam, peer)
	}
	return l, nil
}

func (o *Orchestrator) baseContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctx
}

func (o *Orchestrator) notifyUpward(ev domain.AudioEvent) {
	if o.upward == nil {
		return
	}
	o.upward.NotifyEvent(ev)
}

// submit hands work to the queue. A full queue drops the work.
func (o *Orchestrator) submit(name string, fn func()) {
	err := o.queue.Produce(taskqueue.NewTask(name, fn))
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrQueueFull) {
		log.Warn().Err(err).Str("module", "orch").Str("task", name).Msg("control event dropped")
		return
	}
	log.Debug().Err(err).Str("module", "orch").Str("task", name).Msg("control event ignored")
}

func (o *Orchestrator) deviceOptions(l *peerLink, dhID, channelName string, initiator bool) device.Options {
	opts := o.cfg.Device
	opts.DhID = dhID
	opts.PeerID = l.id
	opts.Channel = channelName
	opts.Initiator = initiator
	opts.Fabric = o.fabric
	opts.Provider = o.provider
	opts.Events = l.deviceEvents()
	opts.Metrics = o.metrics
	return opts
}

// Stream channel names. The side that renders and the side that captures
// use the same name for one direction.
func speakerChannel(dhID string) string { return "daudio.spk." + dhID }
func micChannel(dhID string) string     { return "daudio.mic." + dhID }
