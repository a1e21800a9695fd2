package panel

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/isdelr/ender-console/internal/models"
)

// BasePath is where the panel routes are mounted.
const BasePath = "/console/panel"

// MinPasswordLength is the form's minlength hint. The auth API enforces the
// real policy.
const MinPasswordLength = 6

const lastLoginLayout = "2006-01-02 15:04:05"

//go:embed templates/*.html
var templateFS embed.FS

// Renderer turns panel state into HTML. html/template escapes every
// server-supplied string.
type Renderer struct {
	tmpl *template.Template
	loc  *time.Location
}

// NewRenderer parses the panel templates. Timestamps are shown in loc.
func NewRenderer(loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.Local
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse panel templates: %w", err)
	}
	return &Renderer{tmpl: tmpl, loc: loc}, nil
}

// Render writes the panel for s. A closed panel renders nothing.
func (r *Renderer) Render(w io.Writer, s State) error {
	return r.tmpl.ExecuteTemplate(w, "panel", r.view(s))
}

// RenderString is Render into a string.
func (r *Renderer) RenderString(s State) (string, error) {
	var buf bytes.Buffer
	if err := r.Render(&buf, s); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type panelView struct {
	State
	Base    string
	Mounted bool
	Shown   bool
	Rows    []rowView
	Form    *formView
}

type formView struct {
	FormState
	Base              string
	Shown             bool
	IsAdminRole       bool
	MinPasswordLength int
}

type rowView struct {
	ID          int64
	Username    string
	Email       string
	FullName    string
	Department  string
	Role        string
	RoleClass   string
	Status      string
	StatusClass string
	LastLogin   string
}

func (r *Renderer) view(s State) panelView {
	v := panelView{
		State:   s,
		Base:    BasePath,
		Mounted: s.Phase != PhaseClosed,
		Shown:   s.Phase == PhaseOpen,
	}
	for _, u := range s.List.Users {
		v.Rows = append(v.Rows, r.row(u))
	}
	if s.Form != nil && s.Form.Phase != PhaseClosed {
		v.Form = &formView{
			FormState:         *s.Form,
			Base:              BasePath,
			Shown:             s.Form.Phase == PhaseOpen,
			IsAdminRole:       s.Form.Values.Role == models.RoleAdmin,
			MinPasswordLength: MinPasswordLength,
		}
	}
	return v
}

func (r *Renderer) row(u models.SessionUser) rowView {
	row := rowView{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FullName:    orDash(u.FullName),
		Department:  orDash(u.Department),
		Role:        string(u.Role),
		RoleClass:   "badge-user",
		Status:      "Inactive",
		StatusClass: "badge-inactive",
		LastLogin:   "Never",
	}
	if u.IsAdmin() {
		row.RoleClass = "badge-admin"
	}
	if u.IsActive {
		row.Status, row.StatusClass = "Active", "badge-active"
	}
	if u.LastLogin != nil && !u.LastLogin.IsZero() {
		row.LastLogin = u.LastLogin.In(r.loc).Format(lastLoginLayout)
	}
	return row
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
