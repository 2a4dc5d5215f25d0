package core

import (
	"context"
	"time"
)

// SessionID is assigned by the network fabric. Zero means "no session".
type SessionID int64

type DataKind int

const (
	KindBytes DataKind = iota
	KindStream
)

func (k DataKind) String() string {
	if k == KindStream {
		return "stream"
	}
	return "bytes"
}

// LinkType is a transport preference hint; fabrics try them in order.
type LinkType string

const (
	LinkLocal LinkType = "lan"
	LinkWide  LinkType = "wan"
)

type SessionAttr struct {
	Kind      DataKind
	LinkTypes []LinkType
}

// SessionInfo describes an established session as seen from this side.
type SessionInfo struct {
	ID              SessionID `json:"id"`
	SessionName     string    `json:"session_name"`
	PeerSessionName string    `json:"peer_session_name"`
	PeerID          string    `json:"peer_id"`
	Kind            DataKind  `json:"kind"`
	IsServer        bool      `json:"is_server"`
}

type QosEvent struct {
	RTT time.Duration
}

// Fabric is the network capability sessions run on.
//
// OpenSession returns once the peer accepted the session; the fabric does not
// call OnSessionOpened for sessions it opened itself. For sessions opened by
// the peer it calls OnSessionOpened and rejects the session when that returns
// an error.
type Fabric interface {
	SetCallbacks(cb FabricCallbacks)
	CreateSessionServer(owner, name string) error
	RemoveSessionServer(owner, name string) error
	OpenSession(ctx context.Context, localName, peerName, peerID string, attr SessionAttr) (SessionID, error)
	CloseSession(id SessionID)
	SendBytes(id SessionID, data []byte) error
	SendStream(id SessionID, data []byte) error
}

// FabricCallbacks run on fabric-owned goroutines. Returned errors are for
// logging and for rejecting inbound opens; they never panic back into the fabric.
type FabricCallbacks interface {
	OnSessionOpened(id SessionID, info SessionInfo) error
	OnSessionClosed(id SessionID)
	OnBytesReceived(id SessionID, data []byte) error
	OnStreamReceived(id SessionID, data []byte) error
	OnQosEvent(id SessionID, ev QosEvent)
}
