package fabric

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/daudio/internal/core"
)

type fakeNet struct {
	mu        sync.Mutex
	cb        core.FabricCallbacks
	nextID    core.SessionID
	openErr   error
	created   map[string]int
	removed   map[string]int
	closed    []core.SessionID
	bytes     [][]byte
	stream    [][]byte
	streamHit chan struct{}
	block     chan struct{}
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		created:   make(map[string]int),
		removed:   make(map[string]int),
		streamHit: make(chan struct{}, 64),
	}
}

func (f *fakeNet) SetCallbacks(cb core.FabricCallbacks) { f.cb = cb }

func (f *fakeNet) CreateSessionServer(_, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[name]++
	return nil
}

func (f *fakeNet) RemoveSessionServer(_, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[name]++
	return nil
}

func (f *fakeNet) OpenSession(_ context.Context, _, _, _ string, _ core.SessionAttr) (core.SessionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return 0, f.openErr
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeNet) CloseSession(id core.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
}

func (f *fakeNet) SendBytes(_ core.SessionID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bytes = append(f.bytes, append([]byte(nil), data...))
	return nil
}

func (f *fakeNet) SendStream(_ core.SessionID, data []byte) error {
	f.mu.Lock()
	f.stream = append(f.stream, append([]byte(nil), data...))
	block := f.block
	f.mu.Unlock()
	f.streamHit <- struct{}{}
	if block != nil {
		<-block
	}
	return nil
}

func (f *fakeNet) streamed() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.stream...)
}

var errNoRoute = errors.New("no route to peer")

type recordingListener struct {
	mu     sync.Mutex
	opened []core.SessionID
	closed []core.SessionID
	bytes  [][]byte
	stream [][]byte
	panics bool
}

func (l *recordingListener) OnSessionOpened(id core.SessionID, _ core.SessionInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened = append(l.opened, id)
}

func (l *recordingListener) OnSessionClosed(id core.SessionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = append(l.closed, id)
}

func (l *recordingListener) OnBytesReceived(_ core.SessionID, data []byte) {
	if l.panics {
		panic("listener bug")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bytes = append(l.bytes, data)
}

func (l *recordingListener) OnStreamReceived(_ core.SessionID, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stream = append(l.stream, data)
}
