package channel

import (
	"context"

	"github.com/dkeye/daudio/internal/app/fabric"
	"github.com/dkeye/daudio/internal/core"
)

// stallFabric accepts every operation but never drains its outbound queue,
// standing in for a network that has stopped acknowledging.
type stallFabric struct {
	queue *fabric.OutboundQueue
}

func (s *stallFabric) CreateSessionServer(string, string, string) error { return nil }
func (s *stallFabric) RemoveSessionServer(string, string, string) error { return nil }

func (s *stallFabric) OpenSession(context.Context, string, string, string, core.DataKind) (core.SessionID, error) {
	s.queue = fabric.NewOutboundQueue(10)
	return 1, nil
}

func (s *stallFabric) CloseSession(core.SessionID)                           {}
func (s *stallFabric) SendBytes(core.SessionID, []byte) error                { return nil }
func (s *stallFabric) RegisterListener(string, string, core.SessionListener) {}
func (s *stallFabric) UnregisterListener(string, string)                     {}

func (s *stallFabric) SendStream(id core.SessionID, data []byte) error {
	s.queue.Push(fabric.OutboundFrame{SessionID: id, Payload: data})
	return nil
}
