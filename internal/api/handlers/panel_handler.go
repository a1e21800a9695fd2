package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/ender-console/internal/auth"
	"github.com/isdelr/ender-console/internal/authapi"
	"github.com/isdelr/ender-console/internal/models"
	"github.com/isdelr/ender-console/internal/panel"
	"github.com/rs/zerolog/log"
)

// FragmentHeader marks requests made by the page script. They receive the
// panel fragment; plain form posts are redirected back to the page.
const FragmentHeader = "X-Requested-With"

// PanelRegistry tracks the admin panel of each console session.
type PanelRegistry interface {
	Open(sessionID, actor string, creds authapi.Credentials) *panel.Panel
	Get(sessionID string) (*panel.Panel, bool)
}

// CredentialSource extracts the upstream credentials of a request.
type CredentialSource interface {
	Credentials(r *http.Request) authapi.Credentials
}

// PanelHandler serves the user-management panel of the caller's session.
type PanelHandler struct {
	panels   PanelRegistry
	renderer *panel.Renderer
	creds    CredentialSource
}

// NewPanelHandler creates a new PanelHandler.
func NewPanelHandler(panels PanelRegistry, renderer *panel.Renderer, creds CredentialSource) *PanelHandler {
	return &PanelHandler{panels: panels, renderer: renderer, creds: creds}
}

// Show renders the current panel, or nothing when none is mounted.
func (h *PanelHandler) Show(w http.ResponseWriter, r *http.Request) {
	p, ok := h.panels.Get(sessionID(r))
	if !ok {
		h.write(w, r, panel.State{}, nil)
		return
	}
	h.write(w, r, p.Snapshot(), nil)
}

// Open mounts a fresh panel and starts loading the user list.
func (h *PanelHandler) Open(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	p := h.panels.Open(sessionID(r), user.Username, h.creds.Credentials(r))
	log.Info().Str("actor", user.Username).Msg("User management panel opened")
	h.write(w, r, p.Snapshot(), nil)
}

// Close starts dismissing the panel.
func (h *PanelHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.with(w, r, func(p *panel.Panel) error {
		p.Close()
		return nil
	})
}

// Refresh reloads the user list.
func (h *PanelHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.with(w, r, func(p *panel.Panel) error {
		return p.Refresh(r.Context(), h.creds.Credentials(r))
	})
}

// OpenForm mounts the Add User form.
func (h *PanelHandler) OpenForm(w http.ResponseWriter, r *http.Request) {
	h.with(w, r, func(p *panel.Panel) error {
		return p.OpenCreateForm()
	})
}

// CloseForm dismisses the Add User form.
func (h *PanelHandler) CloseForm(w http.ResponseWriter, r *http.Request) {
	h.with(w, r, func(p *panel.Panel) error {
		p.CloseCreateForm()
		return nil
	})
}

// SubmitForm creates a user from the posted form.
func (h *PanelHandler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form body", http.StatusBadRequest)
		return
	}
	input := models.CreateUserInput{
		Username:   strings.TrimSpace(r.PostForm.Get("username")),
		Email:      strings.TrimSpace(r.PostForm.Get("email")),
		FullName:   strings.TrimSpace(r.PostForm.Get("full_name")),
		Department: strings.TrimSpace(r.PostForm.Get("department")),
		Password:   r.PostForm.Get("password"),
		Role:       models.Role(r.PostForm.Get("role")),
	}
	if !input.Role.Valid() {
		input.Role = models.RoleUser
	}
	h.with(w, r, func(p *panel.Panel) error {
		return p.SubmitCreate(r.Context(), h.creds.Credentials(r), input)
	})
}

// RequestDelete asks for confirmation before deleting a user.
func (h *PanelHandler) RequestDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	h.with(w, r, func(p *panel.Panel) error {
		_, err := p.RequestDelete(id)
		return err
	})
}

// ConfirmDelete deletes the user awaiting confirmation.
func (h *PanelHandler) ConfirmDelete(w http.ResponseWriter, r *http.Request) {
	h.with(w, r, func(p *panel.Panel) error {
		return p.ConfirmDelete(r.Context(), h.creds.Credentials(r))
	})
}

// CancelDelete withdraws the pending confirmation without contacting the API.
func (h *PanelHandler) CancelDelete(w http.ResponseWriter, r *http.Request) {
	h.with(w, r, func(p *panel.Panel) error {
		p.CancelDelete()
		return nil
	})
}

// Edit shows the edit placeholder notice.
func (h *PanelHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	h.with(w, r, func(p *panel.Panel) error {
		err := p.Edit(id)
		if errors.Is(err, panel.ErrEditUnsupported) {
			return nil
		}
		return err
	})
}

func (h *PanelHandler) with(w http.ResponseWriter, r *http.Request, action func(*panel.Panel) error) {
	p, ok := h.panels.Get(sessionID(r))
	if !ok {
		h.write(w, r, panel.State{}, panel.ErrPanelClosed)
		return
	}
	err := action(p)
	if err != nil && statusFor(err) == http.StatusOK {
		// Upstream failures are already part of the panel state.
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("Panel action failed")
		err = nil
	}
	h.write(w, r, p.Snapshot(), err)
}

// write answers script requests with the fragment and plain form posts with
// a redirect to the page, which renders the same state.
func (h *PanelHandler) write(w http.ResponseWriter, r *http.Request, s panel.State, err error) {
	if r.Method != http.MethodGet && r.Header.Get(FragmentHeader) != "fetch" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Panel-Version", strconv.FormatUint(s.Version, 10))
	w.WriteHeader(statusFor(err))
	if rerr := h.renderer.Render(w, s); rerr != nil {
		log.Error().Err(rerr).Msg("Failed to render panel")
	}
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, panel.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, panel.ErrPanelClosed),
		errors.Is(err, panel.ErrNoForm),
		errors.Is(err, panel.ErrBusy),
		errors.Is(err, panel.ErrNoPendingDelete):
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

func sessionID(r *http.Request) string {
	id, _ := auth.SessionIDFromContext(r.Context())
	return id
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
