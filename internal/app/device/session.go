// Package device drives a local capture or render endpoint through its
// lifecycle and bridges it to a stream channel towards the peer.
//
// States move IDLE -> READY (SetUp) -> STARTED (Start) -> STOPPED (Stop) and
// end in RELEASED (Release, from READY or STOPPED only).
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/daudio/internal/app/channel"
	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/dkeye/daudio/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	DefaultOwner   = "daudio"
	DefaultPopWait = 20 * time.Millisecond
)

// Options wires one device session. Events must be set before SetUp.
type Options struct {
	DhID    string
	PeerID  string
	Owner   string
	Channel string
	// Initiator opens the data session on Start; otherwise the peer opens it.
	Initiator bool

	Fabric   channel.Fabric
	Provider core.Provider
	Events   core.EventSink
	Metrics  *metrics.Collector

	JitterCapacity   int
	JitterPrefill    int
	PopWait          time.Duration
	LatencyThreshold time.Duration
	DumpDir          string
}

type role struct {
	module string
	opened domain.EventType
	closed domain.EventType
	failed domain.EventType
}

var (
	micRole     = role{module: "device.mic", opened: domain.EventMicOpened, closed: domain.EventMicClosed, failed: domain.EventMicError}
	speakerRole = role{module: "device.speaker", opened: domain.EventSpeakerOpened, closed: domain.EventSpeakerClosed, failed: domain.EventSpeakerError}
)

type endpoint interface {
	Start() error
	Stop() error
	Close() error
}

// session is the lifecycle shared by Mic and Speaker. The role specific
// parts are the acquire, prepare, run and onData hooks.
type session struct {
	opts      Options
	role      role
	transport *Transport
	watch     *watchdog

	mu     sync.Mutex
	state  stateBox
	param  domain.AudioParam
	local  endpoint
	cancel context.CancelFunc
	done   chan struct{}
	dump   *dumper
	ready  atomic.Bool

	acquire func(param domain.AudioParam) (endpoint, error)
	prepare func()
	run     func(ctx context.Context, dump *dumper)
	onData  func(frame *domain.AudioFrame)
}

var _ core.ChannelListener = (*session)(nil)

func newSession(opts Options, r role) *session {
	if opts.Owner == "" {
		opts.Owner = DefaultOwner
	}
	if opts.Channel == "" {
		opts.Channel = "daudio.data." + opts.DhID
	}
	if opts.PopWait <= 0 {
		opts.PopWait = DefaultPopWait
	}
	return &session{
		opts:      opts,
		role:      r,
		transport: NewTransport(opts.Fabric, opts.Owner, opts.PeerID, opts.Channel, opts.Initiator),
		watch:     newWatchdog(r.module, opts.DhID, opts.LatencyThreshold, opts.Metrics),
	}
}

func (s *session) State() State { return s.state.Load() }

func (s *session) DhID() string { return s.opts.DhID }

func (s *session) PeerID() string { return s.opts.PeerID }

func (s *session) Channel() string { return s.transport.ChannelName() }

func (s *session) Initiator() bool { return s.transport.Initiator() }

func (s *session) Param() domain.AudioParam {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.param
}

// SetUp acquires the local endpoint and registers the stream channel.
// On failure the session stays IDLE.
func (s *session) SetUp(param domain.AudioParam) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.state.Load(); st != StateIdle {
		return fmt.Errorf("%w: set up in state %s", domain.ErrStatus, st)
	}
	if s.opts.Events == nil {
		return domain.ErrCallbackNull
	}
	if err := domain.ValidateDhID(s.opts.DhID); err != nil {
		return err
	}
	if err := param.Validate(); err != nil {
		return err
	}
	if s.opts.Provider == nil {
		return fmt.Errorf("%w: audio provider", domain.ErrNullValue)
	}

	local, err := s.acquire(param)
	if err != nil {
		log.Error().Err(err).Str("module", s.role.module).Str("dh_id", s.opts.DhID).Str("provider", s.opts.Provider.Name()).Msg("acquire local endpoint")
		return err
	}
	if err := s.transport.SetUp(s); err != nil {
		if cerr := local.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("module", s.role.module).Str("dh_id", s.opts.DhID).Msg("close local endpoint on rollback")
		}
		log.Error().Err(err).Str("module", s.role.module).Str("dh_id", s.opts.DhID).Msg("transport set up")
		return err
	}
	s.param = param
	s.local = local
	s.state.Store(StateReady)
	log.Info().Str("module", s.role.module).Str("dh_id", s.opts.DhID).Str("peer", s.opts.PeerID).
		Str("channel", s.opts.Channel).Int("frame_size", param.FrameSize()).Msg("set up")
	return nil
}

// Start runs local endpoint, transport and loop in that order. A failing step
// undoes the earlier ones and leaves the state unchanged.
func (s *session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state.Load()
	if st != StateReady && st != StateStopped {
		return fmt.Errorf("%w: start in state %s", domain.ErrStatus, st)
	}

	if err := s.local.Start(); err != nil {
		s.fail("local start", err)
		return err
	}
	if s.prepare != nil {
		s.prepare()
	}
	if err := s.transport.Start(ctx); err != nil {
		if serr := s.local.Stop(); serr != nil {
			log.Warn().Err(serr).Str("module", s.role.module).Str("dh_id", s.opts.DhID).Msg("stop local endpoint on rollback")
		}
		s.fail("transport start", err)
		return err
	}

	dump, err := openDump(s.opts.DumpDir, s.role.module, s.opts.DhID)
	if err != nil {
		log.Warn().Err(err).Str("module", s.role.module).Str("dh_id", s.opts.DhID).Msg("dump disabled")
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.dump = dump
	s.watch.reset()
	s.ready.Store(true)
	go s.loop(loopCtx, s.done, dump)

	s.state.Store(StateStarted)
	log.Info().Str("module", s.role.module).Str("dh_id", s.opts.DhID).Str("peer", s.opts.PeerID).Msg("started")
	s.emit(s.role.opened, domain.ResultOK, "")
	return nil
}

// Stop joins the loop and stops, without releasing, the local endpoint and
// the transport. Outside STARTED it does nothing.
func (s *session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Load() != StateStarted {
		return nil
	}
	s.ready.Store(false)
	s.cancel()
	<-s.done
	s.dump.close()
	s.dump = nil

	var errs []error
	if err := s.local.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop local endpoint: %w", err))
	}
	wasOpen, err := s.transport.Stop()
	if err != nil {
		errs = append(errs, fmt.Errorf("stop transport: %w", err))
	}
	if wasOpen {
		s.emit(domain.EventDataClosed, domain.ResultOK, "")
	}
	s.state.Store(StateStopped)
	log.Info().Str("module", s.role.module).Str("dh_id", s.opts.DhID).Msg("stopped")
	s.emit(s.role.closed, domain.ResultOK, "")
	return errors.Join(errs...)
}

// Release tears down transport and local endpoint. It is valid from READY
// and STOPPED; a released session stays released.
func (s *session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch st := s.state.Load(); st {
	case StateReleased:
		return nil
	case StateReady, StateStopped:
	default:
		return fmt.Errorf("%w: release in state %s", domain.ErrStatus, st)
	}

	var errs []error
	if err := s.transport.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release transport: %w", err))
	}
	if err := s.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close local endpoint: %w", err))
	}
	s.local = nil
	s.state.Store(StateReleased)
	log.Info().Str("module", s.role.module).Str("dh_id", s.opts.DhID).Msg("released")
	return errors.Join(errs...)
}

func (s *session) loop(ctx context.Context, done chan<- struct{}, dump *dumper) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			s.ready.Store(false)
			log.Error().Str("module", s.role.module).Str("dh_id", s.opts.DhID).Interface("panic", r).Msg("loop panicked")
			s.emit(s.role.failed, domain.ResultFailed, fmt.Sprint(r))
		}
	}()
	s.run(ctx, dump)
}

func (s *session) fail(step string, err error) {
	log.Error().Err(err).Str("module", s.role.module).Str("dh_id", s.opts.DhID).Str("step", step).Msg("start failed")
	s.emit(s.role.failed, domain.ResultFailed, err.Error())
}

func (s *session) emit(t domain.EventType, result int, reason string) {
	if s.opts.Events == nil {
		return
	}
	content, err := domain.EncodeContent(domain.ResultPayload{DhID: s.opts.DhID, Result: result, Reason: reason})
	if err != nil {
		log.Error().Err(err).Str("module", s.role.module).Str("event", t.String()).Msg("encode event")
		return
	}
	s.opts.Events.NotifyEvent(domain.NewEvent(t, content))
}

func (s *session) OnSessionOpened() {
	log.Info().Str("module", s.role.module).Str("dh_id", s.opts.DhID).Str("channel", s.opts.Channel).Msg("data session opened")
	s.emit(domain.EventDataOpened, domain.ResultOK, "")
}

func (s *session) OnSessionClosed() {
	log.Info().Str("module", s.role.module).Str("dh_id", s.opts.DhID).Str("channel", s.opts.Channel).Msg("data session closed")
	s.emit(domain.EventDataClosed, domain.ResultOK, "")
}

func (s *session) OnDataReceived(frame *domain.AudioFrame) {
	if s.onData == nil || !s.ready.Load() {
		return
	}
	s.onData(frame)
}

func (s *session) OnEventReceived(ev domain.AudioEvent) {
	log.Debug().Str("module", s.role.module).Str("event", ev.Type.String()).Msg("event on data channel ignored")
}
