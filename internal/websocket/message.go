package websocket

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Actions exchanged with the browser.
const (
	ActionPanelRender = "panel.render"
	ActionPanelSync   = "panel.sync"
	ActionError       = "error"
)

// Message defines the structure for websocket messages.
type Message struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload"`
}

// PanelPayload carries a rendered panel. Browsers ignore versions older
// than the last one applied.
type PanelPayload struct {
	HTML    string `json:"html"`
	Version uint64 `json:"version"`
	Open    bool   `json:"open"`
}

// NewPanelRenderMessage encodes a panel render.
func NewPanelRenderMessage(html string, version uint64, open bool) []byte {
	return encode(Message{
		Action:  ActionPanelRender,
		Payload: PanelPayload{HTML: html, Version: version, Open: open},
	})
}

// NewErrorMessage encodes an error notice for one client.
func NewErrorMessage(text string) []byte {
	return encode(Message{
		Action:  ActionError,
		Payload: map[string]string{"message": text},
	})
}

func encode(msg Message) []byte {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("action", msg.Action).Msg("Failed to encode websocket message")
		return nil
	}
	return b
}
