package ui

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

// FlashCookie carries a one-time notice across a redirect.
const FlashCookie = "console_flash"

// WriteFlash stores n for the next page render.
func WriteFlash(w http.ResponseWriter, n Notice) {
	n, ok := normalizeNotice(n)
	if !ok {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookie,
		Value:    base64.RawURLEncoding.EncodeToString(payload),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ReadFlash returns the pending notice, if any, and clears it.
func ReadFlash(w http.ResponseWriter, r *http.Request) *Notice {
	cookie, err := r.Cookie(FlashCookie)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})

	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(cookie.Value))
	if err != nil {
		return nil
	}
	var n Notice
	if err := json.Unmarshal(decoded, &n); err != nil {
		return nil
	}
	n, ok := normalizeNotice(n)
	if !ok {
		return nil
	}
	return &n
}

func normalizeNotice(n Notice) (Notice, bool) {
	n.Text = strings.TrimSpace(n.Text)
	if n.Text == "" {
		return Notice{}, false
	}
	switch n.Kind {
	case "success", "info", "error":
		return n, true
	default:
		return Notice{}, false
	}
}
