package device

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/daudio/internal/adapters/memfabric"
	"github.com/dkeye/daudio/internal/app/fabric"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rig struct {
	fab1, fab2 *fabric.SessionFabric
}

func newRig(t *testing.T) rig {
	t.Helper()
	net := memfabric.NewNetwork()
	r := rig{
		fab1: fabric.New(net.Endpoint("dev1"), fabric.DefaultConfig(), nil),
		fab2: fabric.New(net.Endpoint("dev2"), fabric.DefaultConfig(), nil),
	}
	t.Cleanup(func() {
		r.fab1.Stop()
		r.fab2.Stop()
	})
	return r
}

func micOptions(r rig, p *fakeProvider, events *eventLog) Options {
	return Options{
		DhID:      "1",
		PeerID:    "dev2",
		Channel:   "daudio.spk.1",
		Initiator: true,
		Fabric:    r.fab1,
		Provider:  p,
		Events:    events,
	}
}

func speakerOptions(r rig, p *fakeProvider, events *eventLog) Options {
	return Options{
		DhID:          "1",
		PeerID:        "dev1",
		Channel:       "daudio.spk.1",
		Fabric:        r.fab2,
		Provider:      p,
		Events:        events,
		JitterPrefill: 2,
		PopWait:       5 * time.Millisecond,
	}
}

func TestMic_StateMachineGuards(t *testing.T) {
	r := newRig(t)
	mic := NewMic(micOptions(r, newFakeProvider(), &eventLog{}))

	assert.ErrorIs(t, mic.Start(context.Background()), domain.ErrStatus)
	assert.NoError(t, mic.Stop())
	assert.ErrorIs(t, mic.Release(), domain.ErrStatus)
	assert.Equal(t, StateIdle, mic.State())
}

func TestMic_SetUpRequiresEventCallback(t *testing.T) {
	r := newRig(t)
	opts := micOptions(r, newFakeProvider(), nil)
	opts.Events = nil
	mic := NewMic(opts)

	assert.ErrorIs(t, mic.SetUp(smallParam()), domain.ErrCallbackNull)
	assert.Equal(t, StateIdle, mic.State())
}

func TestMic_SetUpFailuresStayIdle(t *testing.T) {
	r := newRig(t)
	p := newFakeProvider()
	mic := NewMic(micOptions(r, p, &eventLog{}))

	bad := smallParam()
	bad.Channels = 0
	assert.ErrorIs(t, mic.SetUp(bad), domain.ErrInvalidParam)

	p.openErr = errDeviceBusy
	assert.ErrorIs(t, mic.SetUp(smallParam()), errDeviceBusy)
	assert.Equal(t, StateIdle, mic.State())

	p.openErr = nil
	require.NoError(t, mic.SetUp(smallParam()))
	assert.Equal(t, StateReady, mic.State())
	assert.ErrorIs(t, mic.SetUp(smallParam()), domain.ErrStatus)
}

func TestSession_SetUpRejectsUnsafeDhID(t *testing.T) {
	r := newRig(t)
	root := t.TempDir()
	for _, dh := range []string{"../../../escaped", strings.Repeat("9", domain.MaxDhIDLen+1)} {
		opts := speakerOptions(r, newFakeProvider(), &eventLog{})
		opts.DhID = dh
		opts.DumpDir = filepath.Join(root, "a", "dumps")
		speaker := NewSpeaker(opts)

		assert.ErrorIs(t, speaker.SetUp(smallParam()), domain.ErrInvalidParam, dh)
		assert.Equal(t, StateIdle, speaker.State())
		assert.ErrorIs(t, speaker.Start(context.Background()), domain.ErrStatus)
	}

	var files []string
	require.NoError(t, filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, path)
		}
		return err
	}))
	assert.Empty(t, files)
}

func TestOpenDump_StaysInsideDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dumps")
	d, err := openDump(dir, "device.speaker", "../../escaped")
	require.NoError(t, err)
	defer d.close()

	assert.Equal(t, dir, filepath.Dir(d.f.Name()))
	assert.Contains(t, filepath.Base(d.f.Name()), "device.speaker_escaped_")
}

func TestSession_Accessors(t *testing.T) {
	r := newRig(t)
	mic := NewMic(micOptions(r, newFakeProvider(), &eventLog{}))
	require.NoError(t, mic.SetUp(smallParam()))
	defer mic.Release()

	assert.Equal(t, "dev2", mic.PeerID())
	assert.Equal(t, "daudio.spk.1", mic.Channel())
	assert.True(t, mic.Initiator())
	assert.Equal(t, smallParam(), mic.Param())
}

func TestMic_StartFailureRollsBack(t *testing.T) {
	r := newRig(t)
	p := newFakeProvider()
	events := &eventLog{}
	mic := NewMic(micOptions(r, p, events))
	require.NoError(t, mic.SetUp(smallParam()))

	// nothing listens on dev2, so opening the data session fails
	err := mic.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, StateReady, mic.State())
	assert.Equal(t, int32(1), p.source.starts.Load())
	assert.Equal(t, int32(1), p.source.stops.Load())
	assert.True(t, events.has(domain.EventMicError))
	assert.False(t, events.has(domain.EventMicOpened))

	require.NoError(t, mic.Release())
	assert.Equal(t, int32(1), p.source.closes.Load())
}

func TestMic_LocalStartFailure(t *testing.T) {
	r := newRig(t)
	p := newFakeProvider()
	p.source.startErr = errDeviceBusy
	events := &eventLog{}
	mic := NewMic(micOptions(r, p, events))
	require.NoError(t, mic.SetUp(smallParam()))

	assert.ErrorIs(t, mic.Start(context.Background()), errDeviceBusy)
	assert.Equal(t, StateReady, mic.State())
	ev, ok := events.last(domain.EventMicError)
	require.True(t, ok)
	var res domain.ResultPayload
	require.NoError(t, domain.DecodeContent(ev.Content, &res))
	assert.Equal(t, "1", res.DhID)
	assert.Equal(t, domain.ResultFailed, res.Result)
}

func TestMicSpeaker_Lifecycle(t *testing.T) {
	r := newRig(t)
	spkProvider, micProvider := newFakeProvider(), newFakeProvider()
	spkEvents, micEvents := &eventLog{}, &eventLog{}

	speaker := NewSpeaker(speakerOptions(r, spkProvider, spkEvents))
	require.NoError(t, speaker.SetUp(smallParam()))
	require.NoError(t, speaker.Start(context.Background()))

	opts := micOptions(r, micProvider, micEvents)
	opts.DumpDir = t.TempDir()
	mic := NewMic(opts)
	require.NoError(t, mic.SetUp(smallParam()))
	require.NoError(t, mic.Start(context.Background()))
	assert.Equal(t, StateStarted, mic.State())
	assert.True(t, micEvents.has(domain.EventDataOpened))
	assert.True(t, micEvents.has(domain.EventMicOpened))
	assert.True(t, spkEvents.has(domain.EventDataOpened))
	assert.True(t, spkEvents.has(domain.EventSpeakerOpened))

	require.Eventually(t, func() bool {
		for _, f := range spkProvider.sink.written() {
			if len(f) == smallParam().FrameSize() && f[0] != 0 {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "captured frames never reached the remote sink")

	assert.ErrorIs(t, mic.Release(), domain.ErrStatus)

	require.NoError(t, mic.Stop())
	assert.Equal(t, StateStopped, mic.State())
	assert.Equal(t, int32(1), micProvider.source.stops.Load())
	assert.True(t, micEvents.has(domain.EventMicClosed))
	assert.True(t, micEvents.has(domain.EventDataClosed))
	require.NoError(t, mic.Stop())

	reads := micProvider.source.reads.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, reads, micProvider.source.reads.Load(), "capture loop still running after Stop")

	require.Eventually(t, func() bool { return spkEvents.has(domain.EventDataClosed) }, time.Second, 5*time.Millisecond)

	require.NoError(t, mic.Release())
	assert.Equal(t, StateReleased, mic.State())
	assert.ErrorIs(t, mic.Start(context.Background()), domain.ErrStatus)
	require.NoError(t, mic.Release())

	require.NoError(t, speaker.Stop())
	require.NoError(t, speaker.Release())
	assert.Equal(t, int32(1), spkProvider.sink.closes.Load())

	entries, err := os.ReadDir(opts.DumpDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestMic_RestartAfterStop(t *testing.T) {
	r := newRig(t)
	speaker := NewSpeaker(speakerOptions(r, newFakeProvider(), &eventLog{}))
	require.NoError(t, speaker.SetUp(smallParam()))

	p := newFakeProvider()
	mic := NewMic(micOptions(r, p, &eventLog{}))
	require.NoError(t, mic.SetUp(smallParam()))
	require.NoError(t, mic.Start(context.Background()))
	require.NoError(t, mic.Stop())
	require.NoError(t, mic.Start(context.Background()))
	assert.Equal(t, StateStarted, mic.State())
	require.NoError(t, mic.Stop())
	assert.Equal(t, int32(2), p.source.starts.Load())
}

func TestSpeaker_RendersSilenceOnUnderrun(t *testing.T) {
	r := newRig(t)
	p := newFakeProvider()
	speaker := NewSpeaker(speakerOptions(r, p, &eventLog{}))
	require.NoError(t, speaker.SetUp(smallParam()))
	require.NoError(t, speaker.Start(context.Background()))

	require.Eventually(t, func() bool { return len(p.sink.written()) >= 4 }, time.Second, 5*time.Millisecond)
	require.NoError(t, speaker.Stop())

	for _, f := range p.sink.written() {
		assert.Len(t, f, smallParam().FrameSize())
		assert.Equal(t, make([]byte, len(f)), f)
	}
}

func TestSpeaker_SetVolume(t *testing.T) {
	r := newRig(t)
	p := newFakeProvider()
	speaker := NewSpeaker(speakerOptions(r, p, &eventLog{}))

	assert.ErrorIs(t, speaker.SetVolume(5, false), domain.ErrStatus)
	require.NoError(t, speaker.SetUp(smallParam()))
	require.NoError(t, speaker.SetVolume(7, true))
	assert.Equal(t, 7, p.sink.level)
	assert.True(t, p.sink.mute)
}

func TestSpeaker_DropsDataWhenNotStarted(t *testing.T) {
	r := newRig(t)
	speaker := NewSpeaker(speakerOptions(r, newFakeProvider(), &eventLog{}))
	require.NoError(t, speaker.SetUp(smallParam()))

	speaker.OnDataReceived(domain.NewAudioFrame(4))
	assert.Zero(t, speaker.Jitter().Len())
}
