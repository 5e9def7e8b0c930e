package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/hub"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 30 * time.Second
	wsMaxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsControlMessage is a client -> server subscribe/unsubscribe/ping frame,
// channels per §6: quote:{id}, depth:{id}:{levels}, trades:{id},
// candles:{id}:{timeframe}, status:{id}, biome_market_all, biome_market:{biome}.
type wsControlMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

type wsServerMessage struct {
	Type      string `json:"type"`
	Channel   string `json:"channel,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }

// handleWebsocket implements §6 GET /ws. Authentication rides the same
// Bearer token convention as REST, but as a query parameter since browser
// WebSocket clients cannot set request headers.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeAppError(w, apperr.New(apperr.Authentication, "missing token query parameter"))
		return
	}
	if _, err := s.auth.Authenticate(r.Context(), token); err != nil {
		writeAppError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	connID := strconv.FormatInt(time.Now().UnixNano(), 36)
	client := s.hub.Attach(connID)

	go wsWritePump(conn, client)
	wsReadPump(conn, s.hub, connID)
}

func wsReadPump(conn *websocket.Conn, h hubDetacher, connID string) {
	defer h.Detach(connID)
	defer conn.Close()

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws conn %s read error: %v", connID, err)
			}
			return
		}

		var ctrl wsControlMessage
		if err := json.Unmarshal(message, &ctrl); err != nil {
			h.Send(connID, wsServerMessage{Type: "error", Error: "invalid control message", Timestamp: nowISO()})
			continue
		}
		handleWSControl(h, connID, ctrl)
	}
}

// hubDetacher is the slice of *hub.Hub this file drives, narrowed so
// handleWSControl can be exercised against a fake in tests without a real Hub.
type hubDetacher interface {
	Detach(connID string)
	Subscribe(connID, room string)
	Unsubscribe(connID, room string)
	Send(connID string, payload any) bool
}

func handleWSControl(h hubDetacher, connID string, ctrl wsControlMessage) {
	switch ctrl.Action {
	case "subscribe":
		if ctrl.Channel == "" {
			h.Send(connID, wsServerMessage{Type: "error", Error: "channel is required", Timestamp: nowISO()})
			return
		}
		h.Subscribe(connID, ctrl.Channel)
		h.Send(connID, wsServerMessage{Type: "subscribed", Channel: ctrl.Channel, Timestamp: nowISO()})
	case "unsubscribe":
		h.Unsubscribe(connID, ctrl.Channel)
		h.Send(connID, wsServerMessage{Type: "unsubscribed", Channel: ctrl.Channel, Timestamp: nowISO()})
	case "ping":
		h.Send(connID, wsServerMessage{Type: "pong", Timestamp: nowISO()})
	default:
		h.Send(connID, wsServerMessage{Type: "error", Error: "unknown action " + ctrl.Action, Timestamp: nowISO()})
	}
}

func wsWritePump(conn *websocket.Conn, client *hub.Connection) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-client.SendCh():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.Done():
			return
		}
	}
}
