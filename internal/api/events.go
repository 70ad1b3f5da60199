package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// EventFrame is one bus event forwarded to an events subscriber.
type EventFrame struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// events streams bus events over a websocket until the client goes away. The
// optional ?ns= query narrows the stream to a namespace prefix.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("events upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ch, unsub := h.bus.Subscribe(r.URL.Query().Get("ns"), 256)
	defer unsub()

	// Reads only detect the close; subscribers never send.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case evt := <-ch:
			data, err := json.Marshal(EventFrame{Kind: evt.Kind, Timestamp: evt.Timestamp, Payload: evt.Payload})
			if err != nil {
				h.logger.Warn("encode event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}
