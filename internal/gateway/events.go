package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CosmoTheDev/zapmcp/models"
)

const wsWriteTimeout = 10 * time.Second

var sseKeepAlive = 15 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// sseFrame formats evt as "id: <seq>\ndata: <json>\n\n".
func sseFrame(evt models.Event) ([]byte, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	frame := fmt.Appendf(nil, "id: %d\ndata: ", evt.Seq)
	frame = append(frame, raw...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

func (gw *Gateway) connected() SSEEvent {
	active := 0
	for _, rec := range gw.scans.List() {
		if !rec.State.Terminal() {
			active++
		}
	}
	return SSEEvent{Type: "connected", Payload: connectedPayload{Version: gw.opts.Version, ActiveScans: active}}
}

// handleEvents streams orchestrator events as Server-Sent Events. The stream
// ends when the client disconnects or the subscriber is evicted for falling
// behind, so a client that stays connected never misses an event.
func (gw *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	sub := gw.scans.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if behind a proxy

	connected, _ := json.Marshal(gw.connected())
	// SSE endpoint writes JSON event frames, not HTML; HTML escaping is not applicable here.
	// nosemgrep: go.lang.security.audit.xss.no-fprintf-to-responsewriter.no-fprintf-to-responsewriter
	fmt.Fprintf(w, "data: %s\n\n", connected)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				slog.Debug("gateway: SSE keepalive failed", "remote", r.RemoteAddr, "error", err)
				return
			}
			flusher.Flush()
		case evt, ok := <-sub.Events():
			if !ok {
				if sub.Evicted() {
					slog.Warn("gateway: SSE subscriber evicted", "remote", r.RemoteAddr)
				}
				return
			}
			frame, err := sseFrame(evt)
			if err != nil {
				slog.Warn("gateway: failed to marshal SSE event", "type", evt.Type, "error", err)
				continue
			}
			// nosemgrep: go.lang.security.audit.xss.no-direct-write-to-responsewriter.no-direct-write-to-responsewriter
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleWebSocket streams the same events as JSON text messages. Client
// messages are read and discarded so close frames are noticed.
func (gw *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("gateway: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := gw.scans.Subscribe()
	defer sub.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}
	if err := write(gw.connected()); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case evt, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event stream closed"),
					time.Now().Add(time.Second))
				return
			}
			if err := write(evt); err != nil {
				return
			}
		}
	}
}
