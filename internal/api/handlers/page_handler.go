package handlers

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/isdelr/ender-console/internal/auth"
	"github.com/isdelr/ender-console/internal/panel"
	"github.com/isdelr/ender-console/internal/ui"
	"github.com/rs/zerolog/log"
)

// PageHandler renders the authenticated page shell.
type PageHandler struct {
	pages  *ui.Renderer
	panels PanelRegistry
	panel  *panel.Renderer
}

// NewPageHandler creates a new PageHandler.
func NewPageHandler(pages *ui.Renderer, panels PanelRegistry, panelRenderer *panel.Renderer) *PageHandler {
	return &PageHandler{pages: pages, panels: panels, panel: panelRenderer}
}

// Show renders the page for the user the gate admitted. A panel already
// mounted for the session is rendered in place.
func (h *PageHandler) Show(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	page := ui.Page{User: user, Notice: ui.ReadFlash(w, r)}
	if user.IsAdmin() {
		if p, ok := h.panels.Get(sessionID(r)); ok {
			html, err := h.panel.RenderString(p.Snapshot())
			if err != nil {
				log.Error().Err(err).Msg("Failed to render panel")
			} else {
				page.Panel = template.HTML(html)
			}
		}
	}

	var buf bytes.Buffer
	if err := h.pages.RenderPage(&buf, page); err != nil {
		log.Error().Err(err).Msg("Failed to render page")
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}
