package orch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/daudio/internal/adapters/memfabric"
	"github.com/dkeye/daudio/internal/app/fabric"
	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toneSource struct{ n atomic.Int32 }

func (s *toneSource) Start() error { return nil }
func (s *toneSource) Stop() error  { return nil }
func (s *toneSource) Close() error { return nil }

func (s *toneSource) ReadFrame(frame *domain.AudioFrame) error {
	time.Sleep(2 * time.Millisecond)
	v := byte(s.n.Add(1)%250) + 1
	buf := frame.Raw()
	for i := range buf {
		buf[i] = v
	}
	return frame.SetRange(0, len(buf))
}

type memSink struct {
	mu     sync.Mutex
	loud   int
	level  int
	muted  bool
	closed bool
}

func (s *memSink) Start() error { return nil }
func (s *memSink) Stop() error  { return nil }

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) WriteFrame(frame *domain.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := frame.Data(); len(d) > 0 && d[0] != 0 {
		s.loud++
	}
	return nil
}

func (s *memSink) SetVolume(level int, mute bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level, s.muted = level, mute
	return nil
}

func (s *memSink) loudFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loud
}

func (s *memSink) volume() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level, s.muted
}

type memProvider struct {
	source *toneSource
	sink   *memSink
}

func (p *memProvider) Name() string { return "mem" }

func (p *memProvider) OpenSource(domain.AudioParam) (core.Source, error) { return p.source, nil }
func (p *memProvider) OpenSink(domain.AudioParam) (core.Sink, error)     { return p.sink, nil }

type upwardLog struct {
	mu     sync.Mutex
	events []domain.AudioEvent
}

func (u *upwardLog) NotifyEvent(ev domain.AudioEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, ev)
}

func (u *upwardLog) has(t domain.EventType) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, ev := range u.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

type node struct {
	orch     *Orchestrator
	provider *memProvider
	upward   *upwardLog
}

func newNode(t *testing.T, net *memfabric.Network, id string, peers ...string) node {
	t.Helper()
	sf := fabric.New(net.Endpoint(id), fabric.DefaultConfig(), nil)
	n := node{
		provider: &memProvider{source: &toneSource{}, sink: &memSink{}},
		upward:   &upwardLog{},
	}
	cfg := Config{DeviceID: id, Peers: peers, OpenTimeout: time.Second}
	cfg.Device.PopWait = 5 * time.Millisecond
	n.orch = New(cfg, sf, n.provider, n.upward, nil)
	require.NoError(t, n.orch.Start(context.Background()))
	t.Cleanup(func() {
		n.orch.Stop()
		sf.Stop()
	})
	return n
}

func smallParam() domain.AudioParam {
	return domain.AudioParam{SampleRate: 8000, Channels: 1, Format: domain.FormatS16LE, FrameMs: 10}
}

func TestOrchestrator_RemoteSpeaker(t *testing.T) {
	net := memfabric.NewNetwork()
	a := newNode(t, net, "dev1", "dev2")
	b := newNode(t, net, "dev2", "dev1")
	ctx := context.Background()

	require.NoError(t, a.orch.OpenRemoteSpeaker(ctx, "dev2", "1", smallParam()))

	require.Eventually(t, func() bool { return b.provider.sink.loudFrames() > 0 }, 2*time.Second, 5*time.Millisecond,
		"local capture never reached the remote speaker")
	assert.True(t, a.upward.has(domain.EventNotifyOpenSpeakerResult))
	assert.True(t, a.upward.has(domain.EventCtrlOpened))
	require.Eventually(t, func() bool { return a.upward.has(domain.EventSpeakerOpened) }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.orch.SetRemoteVolume(ctx, "dev2", "1", 5, false))
	require.Eventually(t, func() bool {
		level, _ := b.provider.sink.volume()
		return level == 5
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return a.upward.has(domain.EventVolumeChange) }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.orch.CloseRemote(ctx, "dev2", "1"))
	require.Eventually(t, func() bool {
		for _, p := range b.orch.Peers() {
			if p.PeerID == "dev1" && len(p.Devices) == 0 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return a.upward.has(domain.EventNotifyCloseSpeakerResult) }, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_RemoteMic(t *testing.T) {
	net := memfabric.NewNetwork()
	a := newNode(t, net, "dev1", "dev2")
	b := newNode(t, net, "dev2", "dev1")

	require.NoError(t, a.orch.OpenRemoteMic(context.Background(), "dev2", "7", smallParam()))
	require.Eventually(t, func() bool { return a.provider.sink.loudFrames() > 0 }, 2*time.Second, 5*time.Millisecond,
		"remote capture never reached the local speaker")
	require.Eventually(t, func() bool { return a.upward.has(domain.EventNotifyOpenMicResult) }, time.Second, 5*time.Millisecond)

	peers := b.orch.Peers()
	require.Len(t, peers, 1)
	dev := peers[0].Devices["daudio.mic.7"]
	assert.Equal(t, "started", dev.State)
	assert.Equal(t, "7", dev.DhID)
	assert.Equal(t, "dev1", dev.PeerID)
	assert.Equal(t, "daudio.mic.7", dev.Channel)
	assert.True(t, dev.Initiator)
	assert.Equal(t, smallParam(), dev.Param)
}

func TestOrchestrator_DuplicateOpenRejected(t *testing.T) {
	net := memfabric.NewNetwork()
	a := newNode(t, net, "dev1", "dev2")
	newNode(t, net, "dev2", "dev1")
	ctx := context.Background()

	require.NoError(t, a.orch.OpenRemoteMic(ctx, "dev2", "3", smallParam()))
	assert.ErrorIs(t, a.orch.OpenRemoteMic(ctx, "dev2", "3", smallParam()), domain.ErrStatus)
}

func TestOrchestrator_UnknownPeers(t *testing.T) {
	net := memfabric.NewNetwork()
	a := newNode(t, net, "dev1")
	ctx := context.Background()

	assert.ErrorIs(t, a.orch.SetRemoteVolume(ctx, "ghost", "1", 3, false), domain.ErrInvalidParam)
	assert.ErrorIs(t, a.orch.CloseRemote(ctx, "ghost", "1"), domain.ErrInvalidParam)
	assert.ErrorIs(t, a.orch.OpenRemoteSpeaker(ctx, "ghost", "1", smallParam()), domain.ErrTransport)
	assert.ErrorIs(t, a.orch.OpenRemoteSpeaker(ctx, "ghost", "", smallParam()), domain.ErrInvalidParam)
}

func TestOrchestrator_MalformedRequestIgnored(t *testing.T) {
	net := memfabric.NewNetwork()
	a := newNode(t, net, "dev1", "dev2")

	l, err := a.orch.addPeer("dev2")
	require.NoError(t, err)
	a.orch.handle(l, domain.NewEvent(domain.EventOpenSpeaker, "DH_ID=1;"))
	a.orch.handle(l, domain.NewEvent(domain.EventVolumeSet, `{"dhId":"9","level":3}`))
	assert.Empty(t, a.orch.Peers()[0].Devices)
}

func TestOrchestrator_Lifecycle(t *testing.T) {
	net := memfabric.NewNetwork()
	sf := fabric.New(net.Endpoint("dev1"), fabric.DefaultConfig(), nil)
	defer sf.Stop()
	o := New(Config{DeviceID: "dev1"}, sf, &memProvider{}, nil, nil)

	require.NoError(t, o.Start(context.Background()))
	assert.ErrorIs(t, o.Start(context.Background()), domain.ErrStatus)
	o.Stop()
	o.Stop()
	assert.ErrorIs(t, o.AddPeer("dev2"), domain.ErrStatus)
}

func TestOrchestrator_InboundEventsRateLimited(t *testing.T) {
	net := memfabric.NewNetwork()
	sf := fabric.New(net.Endpoint("dev1"), fabric.DefaultConfig(), nil)
	defer sf.Stop()
	up := &upwardLog{}
	o := New(Config{DeviceID: "dev1", EventRate: 0.001, EventBurst: 2}, sf, &memProvider{}, up, nil)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	l, err := o.addPeer("dev2")
	require.NoError(t, err)
	for range 5 {
		l.OnEventReceived(domain.NewEvent(domain.EventMicOpened, `{"dhId":"1","result":0}`))
	}

	count := func() int {
		up.mu.Lock()
		defer up.mu.Unlock()
		n := 0
		for _, ev := range up.events {
			if ev.Type == domain.EventMicOpened {
				n++
			}
		}
		return n
	}
	require.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, count())
}

func TestOrchestrator_RejectsUnsafeDhID(t *testing.T) {
	net := memfabric.NewNetwork()
	a := newNode(t, net, "dev1", "dev2")
	b := newNode(t, net, "dev2", "dev1")
	ctx := context.Background()
	long := strings.Repeat("7", domain.MaxDhIDLen+1)

	for _, dh := range []string{"../../../escaped", long} {
		assert.ErrorIs(t, a.orch.OpenRemoteSpeaker(ctx, "dev2", dh, smallParam()), domain.ErrInvalidParam)
		assert.ErrorIs(t, a.orch.OpenRemoteMic(ctx, "dev2", dh, smallParam()), domain.ErrInvalidParam)
		assert.ErrorIs(t, a.orch.CloseRemote(ctx, "dev2", dh), domain.ErrInvalidParam)
		assert.ErrorIs(t, a.orch.SetRemoteVolume(ctx, "dev2", dh, 3, false), domain.ErrInvalidParam)
	}

	l, err := b.orch.addPeer("dev1")
	require.NoError(t, err)
	for _, dh := range []string{"../../../escaped", long} {
		open, err := domain.NewEventWith(domain.EventOpenSpeaker, domain.OpenPayload{DhID: dh, Param: smallParam()})
		require.NoError(t, err)
		b.orch.handle(l, open)
		open.Type = domain.EventOpenMic
		b.orch.handle(l, open)
	}
	assert.Empty(t, b.orch.Peers()[0].Devices)
	assert.False(t, a.upward.has(domain.EventNotifyOpenSpeakerResult))
	assert.False(t, a.upward.has(domain.EventNotifyOpenMicResult))
}
