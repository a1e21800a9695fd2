// Package ui renders the authenticated page shell: identity summary, logout
// control and, for administrators only, the user-management entry point.
package ui

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/isdelr/ender-console/internal/models"
)

const (
	LogoutPath    = "/logout"
	PanelOpenPath = "/console/panel/open"
	SocketPath    = "/console/ws"
	PasswordPath  = "/account/password"
)

//go:embed templates/*.html
var templateFS embed.FS

// Notice is a one-off message shown above the page content.
type Notice struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Page is the data behind one page render.
type Page struct {
	Title string
	User  models.SessionUser
	// Panel is pre-rendered panel markup; empty when no panel is mounted.
	Panel  template.HTML
	Notice *Notice
}

// HeaderView is the identity summary.
type HeaderView struct {
	Name          string
	Admin         bool
	PanelOpenPath string
	LogoutPath    string
}

type pageView struct {
	Title        string
	SocketPath   string
	PasswordPath string
	Header       HeaderView
	Panel        template.HTML
	Notice       *Notice
}

// Renderer renders pages.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the page templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse page templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Header builds the identity summary for u.
func Header(u models.SessionUser) HeaderView {
	return HeaderView{
		Name:          u.DisplayName(),
		Admin:         u.IsAdmin(),
		PanelOpenPath: PanelOpenPath,
		LogoutPath:    LogoutPath,
	}
}

// RenderPage writes the full page.
func (r *Renderer) RenderPage(w io.Writer, p Page) error {
	title := p.Title
	if title == "" {
		title = "Console"
	}
	return r.tmpl.ExecuteTemplate(w, "page", pageView{
		Title:        title,
		SocketPath:   SocketPath,
		PasswordPath: PasswordPath,
		Header:       Header(p.User),
		Panel:        p.Panel,
		Notice:       p.Notice,
	})
}

// RenderHeader returns the header fragment alone.
func (r *Renderer) RenderHeader(u models.SessionUser) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "header", Header(u)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
