package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/ender-console/internal/api/handlers"
	"github.com/isdelr/ender-console/internal/auth"
	"github.com/isdelr/ender-console/internal/logger"
	"github.com/isdelr/ender-console/internal/panel"
	"github.com/isdelr/ender-console/internal/services"
	"github.com/isdelr/ender-console/internal/ui"
	"github.com/isdelr/ender-console/internal/websocket"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Gate           *auth.Gate
	Accounts       handlers.PasswordChanger
	Panels         handlers.PanelRegistry
	PanelRenderer  *panel.Renderer
	Pages          *ui.Renderer
	Events         services.EventServiceProvider
	Hub            *websocket.Hub
	AllowedOrigins []string
}

// NewRouter creates and configures a new Chi router.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", handlers.FragmentHeader, "X-Request-ID"},
		ExposedHeaders:   []string{"X-Panel-Version"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	pageHandler := handlers.NewPageHandler(d.Pages, d.Panels, d.PanelRenderer)
	panelHandler := handlers.NewPanelHandler(d.Panels, d.PanelRenderer, d.Gate)
	accountHandler := handlers.NewAccountHandler(d.Accounts, d.Gate)
	eventHandler := handlers.NewEventHandler(d.Events)
	wsHandler := handlers.NewWebSocketHandler(d.Hub, d.Panels, d.PanelRenderer, d.AllowedOrigins)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Post(ui.LogoutPath, d.Gate.Logout)

	r.Group(func(r chi.Router) {
		r.Use(d.Gate.Require)

		r.Get("/", pageHandler.Show)
		r.Post(ui.PasswordPath, accountHandler.ChangePassword)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)

			r.Get(ui.SocketPath, wsHandler.Serve)
			r.Get("/console/events", eventHandler.GetRecent)

			r.Route(panel.BasePath, func(r chi.Router) {
				r.Get("/", panelHandler.Show)
				r.Post("/open", panelHandler.Open)
				r.Post("/close", panelHandler.Close)
				r.Post("/refresh", panelHandler.Refresh)
				r.Post("/form/open", panelHandler.OpenForm)
				r.Post("/form/close", panelHandler.CloseForm)
				r.Post("/form", panelHandler.SubmitForm)
				r.Post("/delete/confirm", panelHandler.ConfirmDelete)
				r.Post("/delete/cancel", panelHandler.CancelDelete)
				r.Route("/users/{id}", func(r chi.Router) {
					r.Post("/delete", panelHandler.RequestDelete)
					r.Post("/edit", panelHandler.Edit)
				})
			})
		})
	})

	return r
}
