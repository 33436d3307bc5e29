package videos

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/safetrain/backend/internal/events"
	"github.com/safetrain/backend/pkg/response"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	// EventSnapshot carries the full record when a watcher connects.
	EventSnapshot = "video.snapshot"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Watch handles GET /videos/:id/ws. It sends the current record, then the terminal
// status event, and closes.
func (h *Handler) Watch(c *gin.Context) {
	if h.subscriber == nil {
		response.ServiceUnavailable(c, "status events are disabled")
		return
	}
	id := c.Param("id")
	if _, err := h.store.Get(c.Request.Context(), id); err != nil {
		h.notFoundOrInternal(c, err, "failed to get video")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	updates := make(chan events.StatusEvent, 1)
	cancel, err := h.subscriber.Subscribe(ctx, id, func(ev events.StatusEvent) {
		select {
		case updates <- ev:
		default:
		}
	})
	if err != nil {
		h.logger.Warn("status subscribe failed", zap.Error(err), zap.String("video_id", id))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		return
	}
	defer cancel()

	// Read after subscribing so a transition between the two is not missed.
	v, err := h.store.Get(ctx, id)
	if err != nil {
		return
	}
	if err := writeJSON(conn, WSMessage{Event: EventSnapshot, Data: v}); err != nil || v.Status.IsTerminal() {
		closeNormal(conn)
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-updates:
			if err := writeJSON(conn, WSMessage{Event: ev.Event, Data: ev}); err != nil {
				return
			}
			if ev.Status.IsTerminal() {
				closeNormal(conn)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, msg WSMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func closeNormal(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
