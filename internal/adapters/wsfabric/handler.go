package wsfabric

import (
	"net/http"
	"time"

	"github.com/dkeye/daudio/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler accepts sessions dialed by peers. The session is offered to the
// fabric callbacks before the peer is told it is ready.
func (e *Endpoint) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		from := c.Query("from")
		local := c.Query("local")
		name := c.Query("peer")
		if from == "" || local == "" || name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from, local and peer are required"})
			return
		}
		if !e.hasServer(name) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session server " + name})
			return
		}
		cb := e.callbacks()
		if cb == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": ErrNoHandler.Error()})
			return
		}
		kind := core.KindBytes
		if c.Query("kind") == core.KindStream.String() {
			kind = core.KindStream
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "wsfabric").Msg("ws upgrade")
			return
		}

		id := core.SessionID(e.nextID.Add(1))
		info := core.SessionInfo{
			ID:              id,
			SessionName:     name,
			PeerSessionName: local,
			PeerID:          from,
			Kind:            kind,
			IsServer:        true,
		}
		sc := newConn(e, id, ws, info)
		e.track(sc)
		if err := cb.OnSessionOpened(id, info); err != nil {
			e.untrack(id)
			deadline := time.Now().Add(e.cfg.WriteTimeout)
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), deadline)
			_ = ws.Close()
			log.Warn().Err(err).Str("module", "wsfabric").Str("peer", from).Str("channel", name).Msg("session rejected")
			return
		}
		if err := sc.writeText(readyMessage); err != nil {
			e.untrack(id)
			_ = ws.Close()
			cb.OnSessionClosed(id)
			return
		}
		sc.run()
		log.Info().Str("module", "wsfabric").Int64("sid", int64(id)).Str("peer", from).Str("channel", name).Str("trace", sc.trace).Msg("session accepted")
	}
}
