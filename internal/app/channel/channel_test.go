package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/daudio/internal/adapters/memfabric"
	"github.com/dkeye/daudio/internal/app/fabric"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upperListener struct {
	mu     sync.Mutex
	opened int
	closed int
	events []domain.AudioEvent
	frames []*domain.AudioFrame
	gotEv  chan struct{}
	gotCls chan struct{}
}

func newUpper() *upperListener {
	return &upperListener{gotEv: make(chan struct{}, 16), gotCls: make(chan struct{}, 4)}
}

func (u *upperListener) OnSessionOpened() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.opened++
}

func (u *upperListener) OnSessionClosed() {
	u.mu.Lock()
	u.closed++
	u.mu.Unlock()
	u.gotCls <- struct{}{}
}

func (u *upperListener) OnDataReceived(f *domain.AudioFrame) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.frames = append(u.frames, f)
}

func (u *upperListener) OnEventReceived(ev domain.AudioEvent) {
	u.mu.Lock()
	u.events = append(u.events, ev)
	u.mu.Unlock()
	u.gotEv <- struct{}{}
}

func (u *upperListener) eventsSnapshot() []domain.AudioEvent {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]domain.AudioEvent(nil), u.events...)
}

type pair struct {
	fab1, fab2 *fabric.SessionFabric
}

func newPair(t *testing.T) pair {
	t.Helper()
	net := memfabric.NewNetwork()
	p := pair{
		fab1: fabric.New(net.Endpoint("dev1"), fabric.DefaultConfig(), nil),
		fab2: fabric.New(net.Endpoint("dev2"), fabric.DefaultConfig(), nil),
	}
	t.Cleanup(func() {
		p.fab1.Stop()
		p.fab2.Stop()
	})
	return p
}

func TestControlChannel_HappyPath(t *testing.T) {
	p := newPair(t)

	remote := newUpper()
	remoteCtrl := NewControlChannel(p.fab2, "pkg", "dev1", 0)
	require.NoError(t, remoteCtrl.CreateSession(remote, "ctrl"))

	local := newUpper()
	ctrl := NewControlChannel(p.fab1, "pkg", "dev2", 0)
	require.NoError(t, ctrl.CreateSession(local, "ctrl"))
	require.NoError(t, ctrl.OpenSession(context.Background()))
	assert.Greater(t, int64(ctrl.SessionID()), int64(0))
	assert.Equal(t, 1, local.opened)
	assert.True(t, remoteCtrl.IsOpen())
	assert.Equal(t, 1, remote.opened)

	require.NoError(t, ctrl.SendEvent(domain.NewEvent(1, "x")))
	assert.Equal(t, []domain.AudioEvent{{Type: 1, Content: "x"}}, remote.eventsSnapshot())

	require.NoError(t, remoteCtrl.SendEvent(domain.NewEvent(domain.EventMicOpened, `{"dhId":"1","result":0}`)))
	assert.Len(t, local.eventsSnapshot(), 1)
}

func TestControlChannel_NullListener(t *testing.T) {
	p := newPair(t)
	ctrl := NewControlChannel(p.fab1, "pkg", "dev2", 0)
	assert.ErrorIs(t, ctrl.CreateSession(nil, "ctrl"), domain.ErrNullListener)
}

func TestControlChannel_OpenFailureHasNoSideEffects(t *testing.T) {
	p := newPair(t)
	ctrl := NewControlChannel(p.fab1, "pkg", "dev2", 0)
	require.NoError(t, ctrl.CreateSession(newUpper(), "ctrl"))

	err := ctrl.OpenSession(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Zero(t, ctrl.SessionID())
	assert.ErrorIs(t, ctrl.SendEvent(domain.NewEvent(domain.EventVolumeSet, "{}")), domain.ErrSessionNotOpen)
}

func TestControlChannel_CloseIsIdempotent(t *testing.T) {
	p := newPair(t)
	remote := newUpper()
	require.NoError(t, NewControlChannel(p.fab2, "pkg", "dev1", 0).CreateSession(remote, "ctrl"))
	ctrl := NewControlChannel(p.fab1, "pkg", "dev2", 0)
	require.NoError(t, ctrl.CreateSession(newUpper(), "ctrl"))

	require.NoError(t, ctrl.CloseSession())
	require.NoError(t, ctrl.OpenSession(context.Background()))
	require.NoError(t, ctrl.CloseSession())
	require.NoError(t, ctrl.CloseSession())
	assert.Zero(t, ctrl.SessionID())

	select {
	case <-remote.gotCls:
	case <-time.After(time.Second):
		t.Fatal("remote listener not told about close")
	}
	require.NoError(t, ctrl.ReleaseSession())
	require.NoError(t, ctrl.ReleaseSession())
}

func TestControlChannel_OversizedEvent(t *testing.T) {
	p := newPair(t)
	require.NoError(t, NewControlChannel(p.fab2, "pkg", "dev1", 0).CreateSession(newUpper(), "ctrl"))
	ctrl := NewControlChannel(p.fab1, "pkg", "dev2", 64)
	require.NoError(t, ctrl.CreateSession(newUpper(), "ctrl"))
	require.NoError(t, ctrl.OpenSession(context.Background()))

	big := make([]byte, 128)
	for i := range big {
		big[i] = 'a'
	}
	err := ctrl.SendEvent(domain.NewEvent(domain.EventVolumeSet, string(big)))
	assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)
}

func TestControlChannel_MalformedInboundDropped(t *testing.T) {
	p := newPair(t)
	upper := newUpper()
	ctrl := NewControlChannel(p.fab1, "pkg", "dev2", 0)
	require.NoError(t, ctrl.CreateSession(upper, "ctrl"))

	assert.NotPanics(t, func() { ctrl.OnBytesReceived(1, []byte("EVENT_TYPE=1;")) })
	assert.Empty(t, upper.eventsSnapshot())
}

func TestStreamChannel_SendData(t *testing.T) {
	p := newPair(t)
	remote := newUpper()
	require.NoError(t, NewStreamChannel(p.fab2, "pkg", "dev1").CreateSession(remote, "mic.1"))

	data := NewStreamChannel(p.fab1, "pkg", "dev2")
	require.NoError(t, data.CreateSession(newUpper(), "mic.1"))
	require.NoError(t, data.OpenSession(context.Background()))

	frame := domain.NewAudioFrameFrom([]byte{1, 2, 3, 4, 5})
	require.NoError(t, frame.SetRange(1, 3))
	require.NoError(t, data.SendData(frame))

	require.Eventually(t, func() bool {
		remote.mu.Lock()
		defer remote.mu.Unlock()
		return len(remote.frames) == 1
	}, time.Second, 5*time.Millisecond)
	remote.mu.Lock()
	assert.Equal(t, []byte{2, 3, 4}, remote.frames[0].Data())
	remote.mu.Unlock()

	assert.ErrorIs(t, data.SendData(nil), domain.ErrInvalidParam)
}

func TestStreamChannel_OverloadNeverBlocks(t *testing.T) {
	f := &stallFabric{}
	data := NewStreamChannel(f, "pkg", "dev2")
	require.NoError(t, data.CreateSession(newUpper(), "mic.1"))
	require.NoError(t, data.OpenSession(context.Background()))

	for i := 0; i < 15; i++ {
		require.NoError(t, data.SendData(domain.NewAudioFrameFrom([]byte{byte(i)})))
	}
	assert.Equal(t, 10, f.queue.Len())
}
