package device

import (
	"testing"
	"time"

	"github.com/dkeye/daudio/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestJitterQueue_DropsOldest(t *testing.T) {
	q := NewJitterQueue(3, "1", nil)
	for i := 0; i < 5; i++ {
		dropped := q.Push(domain.NewAudioFrameFrom([]byte{byte(i)}))
		assert.Equal(t, i >= 3, dropped)
	}
	require.Equal(t, 3, q.Len())
	for want := 2; want < 5; want++ {
		f, ok := q.Pop(0)
		require.True(t, ok)
		assert.Equal(t, []byte{byte(want)}, f.Data())
	}
}

func TestJitterQueue_PopWaitIsBounded(t *testing.T) {
	q := NewJitterQueue(2, "1", nil)
	start := time.Now()
	_, ok := q.Pop(15 * time.Millisecond)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestJitterQueue_PopWakesOnPush(t *testing.T) {
	q := NewJitterQueue(2, "1", nil)
	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Push(domain.NewAudioFrameFrom([]byte{9}))
	}()
	f, ok := q.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte{9}, f.Data())
}

func TestJitterQueue_PrefillAndClear(t *testing.T) {
	q := NewJitterQueue(3, "1", nil)
	q.Push(domain.NewAudioFrameFrom([]byte{1}))
	q.Prefill(5, 8)
	assert.Equal(t, 3, q.Len())

	f, ok := q.Pop(0)
	require.True(t, ok)
	assert.Equal(t, []byte{1}, f.Data())
	f, ok = q.Pop(0)
	require.True(t, ok)
	assert.Equal(t, make([]byte, 8), f.Data())

	q.Clear()
	assert.Zero(t, q.Len())
	_, ok = q.Pop(0)
	assert.False(t, ok)
}

func TestJitterQueue_KeepsNewestProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 16).Draw(rt, "capacity")
		pushes := rapid.IntRange(0, 64).Draw(rt, "pushes")
		q := NewJitterQueue(capacity, "p", nil)
		for i := 0; i < pushes; i++ {
			q.Push(domain.NewAudioFrameFrom([]byte{byte(i)}))
		}
		want := min(pushes, capacity)
		require.Equal(rt, want, q.Len())
		for i := pushes - want; i < pushes; i++ {
			f, ok := q.Pop(0)
			require.True(rt, ok)
			require.Equal(rt, byte(i), f.Data()[0])
		}
	})
}

func TestWatchdog_Mark(t *testing.T) {
	w := newWatchdog("device.mic", "1", 10*time.Millisecond, nil)
	now := time.Now()
	assert.Zero(t, w.mark("capture", now))
	assert.Equal(t, 25*time.Millisecond, w.mark("capture", now.Add(25*time.Millisecond)))
	assert.Zero(t, w.mark("send", now))
	w.reset()
	assert.Zero(t, w.mark("capture", now))
}
