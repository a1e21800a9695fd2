package handlers

import (
	"context"
	"net/http"

	"github.com/isdelr/ender-console/internal/auth"
	"github.com/isdelr/ender-console/internal/authapi"
	"github.com/isdelr/ender-console/internal/ui"
	"github.com/rs/zerolog/log"
)

// PasswordChanger changes the password of the caller's own account.
type PasswordChanger interface {
	ChangePassword(ctx context.Context, creds authapi.Credentials, current, next string) error
}

// AccountHandler handles self-service account requests.
type AccountHandler struct {
	api   PasswordChanger
	creds CredentialSource
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(api PasswordChanger, creds CredentialSource) *AccountHandler {
	return &AccountHandler{api: api, creds: creds}
}

// ChangePassword forwards the change to the auth API and returns to the page
// with the outcome as a notice.
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form body", http.StatusBadRequest)
		return
	}
	current := r.PostForm.Get("current_password")
	next := r.PostForm.Get("new_password")
	if current == "" || next == "" {
		ui.WriteFlash(w, ui.Notice{Kind: "error", Text: "Current and new password are required"})
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	user, _ := auth.UserFromContext(r.Context())
	err := h.api.ChangePassword(r.Context(), h.creds.Credentials(r), current, next)
	if err == nil {
		ui.WriteFlash(w, ui.Notice{Kind: "success", Text: "Password changed successfully"})
	} else {
		log.Warn().Err(err).Str("username", user.Username).Msg("Password change failed")
		text := "Failed to change password"
		if msg, ok := authapi.ServerMessage(err); ok {
			text = msg
		}
		ui.WriteFlash(w, ui.Notice{Kind: "error", Text: text})
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
