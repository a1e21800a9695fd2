package websocket

import (
	"context"

	"github.com/rs/zerolog/log"
)

type targeted struct {
	sessionID string
	message   []byte
}

// Hub maintains the set of active clients and delivers panel updates to the
// clients of one console session.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Messages for every connected client.
	Broadcast chan []byte

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	// Messages for the clients of one session.
	direct chan targeted

	// A map of console session IDs to the clients subscribed to them.
	subscriptions map[string]map[*Client]bool
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		Broadcast:     make(chan []byte),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		direct:        make(chan targeted, 64),
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

// Run processes hub traffic until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.Register:
			h.clients[client] = true
			log.Info().Int("total_clients", len(h.clients)).Msg("Client connected")
			if client.SessionID != "" {
				h.addSubscription(client, client.SessionID)
			}
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				log.Info().Int("total_clients", len(h.clients)).Msg("Client disconnected")
			}
		case message := <-h.Broadcast:
			for client := range h.clients {
				h.deliver(client, message)
			}
		case t := <-h.direct:
			for client := range h.subscriptions[t.sessionID] {
				h.deliver(client, t.message)
			}
		}
	}
}

// BroadcastTo queues a message for all clients subscribed to a console
// session. It never blocks; when the queue is full the message is dropped
// and the client catches up on its next sync.
func (h *Hub) BroadcastTo(sessionID string, message []byte) {
	select {
	case h.direct <- targeted{sessionID: sessionID, message: message}:
	default:
		log.Warn().Str("session_id", sessionID).Msg("Hub queue full, dropping panel update")
	}
}

// deliver hands message to client, dropping clients that cannot keep up.
func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.Send <- message:
	default:
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)
	h.removeSubscription(client)
}

func (h *Hub) addSubscription(client *Client, sessionID string) {
	if h.subscriptions[sessionID] == nil {
		h.subscriptions[sessionID] = make(map[*Client]bool)
	}
	h.subscriptions[sessionID][client] = true
}

func (h *Hub) removeSubscription(client *Client) {
	subs, ok := h.subscriptions[client.SessionID]
	if !ok {
		return
	}
	delete(subs, client)
	if len(subs) == 0 {
		delete(h.subscriptions, client.SessionID)
	}
}
