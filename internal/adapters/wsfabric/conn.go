package wsfabric

import (
	"encoding/binary"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/daudio/internal/core"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// dynamic payload type for raw PCM frames
const payloadType = 96

type conn struct {
	e     *Endpoint
	id    core.SessionID
	ws    *websocket.Conn
	info  core.SessionInfo
	trace string

	writeMu sync.Mutex
	seq     uint16
	ssrc    uint32
	start   time.Time

	lastSeq  atomic.Int32
	closed   atomic.Bool
	done     chan struct{}
	lossLogs rate.Sometimes
}

func newConn(e *Endpoint, id core.SessionID, ws *websocket.Conn, info core.SessionInfo) *conn {
	trace := uuid.New()
	c := &conn{
		e:        e,
		id:       id,
		ws:       ws,
		info:     info,
		trace:    trace.String(),
		ssrc:     binary.BigEndian.Uint32(trace[:4]),
		start:    time.Now(),
		done:     make(chan struct{}),
		lossLogs: rate.Sometimes{Interval: time.Second},
	}
	c.lastSeq.Store(-1)
	return c
}

func (c *conn) run() {
	c.ws.SetReadLimit(c.e.cfg.ReadLimit)
	c.ws.SetPongHandler(c.onPong)
	go c.readPump()
	go c.pingPump()
}

func (c *conn) writeText(msg string) error {
	return c.write(websocket.TextMessage, []byte(msg))
}

func (c *conn) writeBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

// writeFrame wraps data in an RTP packet carrying sequence and media time.
func (c *conn) writeFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         c.seq == 0,
			PayloadType:    payloadType,
			SequenceNumber: c.seq,
			Timestamp:      uint32(time.Since(c.start).Milliseconds()),
			SSRC:           c.ssrc,
		},
		Payload: data,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if err := c.writeLocked(websocket.BinaryMessage, raw); err != nil {
		return err
	}
	c.seq++
	return nil
}

func (c *conn) write(mt int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(mt, data)
}

func (c *conn) writeLocked(mt int, data []byte) error {
	if c.closed.Load() {
		return websocket.ErrCloseSent
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.e.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(mt, data)
}

// close shuts the socket. local is true when this side asked for it, in
// which case the callbacks are not told.
func (c *conn) close(local bool) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	if local {
		deadline := time.Now().Add(c.e.cfg.WriteTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}
	_ = c.ws.Close()
}

func (c *conn) readPump() {
	defer func() {
		if c.closed.Load() {
			return
		}
		c.close(false)
		if c.e.untrack(c.id) == nil {
			return
		}
		log.Info().Str("module", "wsfabric").Int64("sid", int64(c.id)).Str("peer", c.info.PeerID).Msg("session closed by peer")
		if cb := c.e.callbacks(); cb != nil {
			cb.OnSessionClosed(c.id)
		}
	}()

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "wsfabric").Int64("sid", int64(c.id)).Msg("read")
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		c.dispatch(data)
	}
}

func (c *conn) dispatch(data []byte) {
	cb := c.e.callbacks()
	if cb == nil {
		return
	}
	if c.info.Kind != core.KindStream {
		if err := cb.OnBytesReceived(c.id, data); err != nil {
			log.Debug().Err(err).Str("module", "wsfabric").Int64("sid", int64(c.id)).Msg("bytes refused")
		}
		return
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		log.Warn().Err(err).Str("module", "wsfabric").Int64("sid", int64(c.id)).Msg("bad rtp packet")
		return
	}
	c.trackLoss(pkt.SequenceNumber)
	if err := cb.OnStreamReceived(c.id, pkt.Payload); err != nil {
		log.Debug().Err(err).Str("module", "wsfabric").Int64("sid", int64(c.id)).Msg("frame refused")
	}
}

func (c *conn) trackLoss(seq uint16) {
	prev := c.lastSeq.Swap(int32(seq))
	if prev < 0 {
		return
	}
	if gap := seq - uint16(prev) - 1; gap > 0 && gap < 1<<15 {
		c.lossLogs.Do(func() {
			log.Warn().Str("module", "wsfabric").Int64("sid", int64(c.id)).Uint16("lost", gap).Msg("stream frames lost")
		})
	}
}

// pingPump sends the send time as ping payload; the pong echoes it back.
func (c *conn) pingPump() {
	ticker := time.NewTicker(c.e.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			payload := []byte(strconv.FormatInt(now.UnixNano(), 10))
			if err := c.ws.WriteControl(websocket.PingMessage, payload, now.Add(c.e.cfg.WriteTimeout)); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Debug().Err(err).Str("module", "wsfabric").Int64("sid", int64(c.id)).Msg("ping")
				}
				return
			}
		}
	}
}

func (c *conn) onPong(appData string) error {
	sent, err := strconv.ParseInt(appData, 10, 64)
	if err != nil {
		return nil
	}
	rtt := time.Since(time.Unix(0, sent))
	if cb := c.e.callbacks(); cb != nil {
		cb.OnQosEvent(c.id, core.QosEvent{RTT: rtt})
	}
	return nil
}
