package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/isdelr/ender-console/internal/panel"
	ws "github.com/isdelr/ender-console/internal/websocket"
	"github.com/rs/zerolog/log"
)

// PanelPublisher returns the change hook that pushes every panel state to the
// websocket clients of its console session.
func PanelPublisher(hub *ws.Hub, renderer *panel.Renderer) func(sessionID string, s panel.State) {
	return func(sessionID string, s panel.State) {
		html, err := renderer.RenderString(s)
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to render panel for push")
			return
		}
		if msg := ws.NewPanelRenderMessage(html, s.Version, s.Phase.Live()); msg != nil {
			hub.BroadcastTo(sessionID, msg)
		}
	}
}

// WebSocketHandler upgrades console pages to a live panel feed.
type WebSocketHandler struct {
	hub      *ws.Hub
	panels   PanelRegistry
	publish  func(sessionID string, s panel.State)
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocketHandler. Connections are accepted
// from the console's own host and from allowedOrigins.
func NewWebSocketHandler(hub *ws.Hub, panels PanelRegistry, renderer *panel.Renderer, allowedOrigins []string) *WebSocketHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return &WebSocketHandler{
		hub:     hub,
		panels:  panels,
		publish: PanelPublisher(hub, renderer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return u.Host == r.Host || allowed[origin]
			},
		},
	}
}

// Serve handles the WebSocket connection request.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		http.Error(w, "No console session", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	client := ws.NewClient(h.hub, conn, sid)
	h.hub.Register <- client

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		client.WritePump()
	}()
	go func() {
		defer wg.Done()
		client.ReadPump(h.handleIncomingWSMessage)
	}()

	// Cleanup on disconnect.
	go func() {
		wg.Wait()
		h.hub.Unregister <- client
	}()
}

// handleIncomingWSMessage processes messages received from a websocket client.
func (h *WebSocketHandler) handleIncomingWSMessage(client *ws.Client, message []byte) {
	var msg ws.Message
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Error().Err(err).Bytes("message", message).Msg("Error decoding websocket message")
		return
	}

	switch msg.Action {
	case ws.ActionPanelSync:
		p, ok := h.panels.Get(client.SessionID)
		if !ok {
			h.publish(client.SessionID, panel.State{SessionID: client.SessionID})
			return
		}
		h.publish(client.SessionID, p.Snapshot())
	default:
		log.Warn().Str("action", msg.Action).Msg("Unknown websocket action received")
		h.hub.BroadcastTo(client.SessionID, ws.NewErrorMessage("Unknown action: "+msg.Action))
	}
}
