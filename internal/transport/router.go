package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/vetdesk/internal/audit"
	"github.com/pitabwire/vetdesk/internal/caseapi"
	"github.com/pitabwire/vetdesk/internal/config"
	"github.com/pitabwire/vetdesk/internal/panel"
	"github.com/pitabwire/vetdesk/internal/session"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Client   *caseapi.Client
	Sessions *session.Manager
	Panels   *panel.Registry
	Cookies  *CookieSessions

	// Journal is nil when the audit journal is disabled.
	Journal *audit.Journal

	HealthHandler  http.Handler
	ReadyHandler   http.Handler
	MetricsHandler http.Handler

	// Now stamps reports. Defaults to time.Now.
	Now func() time.Time
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// session middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{deps: deps, log: logger, now: deps.Now}
	if h.now == nil {
		h.now = time.Now
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes.
	r.Method(http.MethodGet, "/ui/health", orDefault(deps.HealthHandler, handleHealth))
	r.Method(http.MethodGet, "/ui/ready", orDefault(deps.ReadyHandler, handleReady))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, orDefault(deps.MetricsHandler, handleMetrics))
	}

	// Session-bound routes: every browser gets a panel session.
	r.Group(func(r chi.Router) {
		r.Use(AttachPanel(deps.Cookies, deps.Panels, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Post("/ui/auth/login", h.login)
		r.Post("/ui/auth/signup", h.signup)
		r.Post("/ui/auth/logout", h.logout)

		// Routes below need a signed-in session.
		r.Group(func(r chi.Router) {
			r.Use(RequireSession)

			r.Get("/ui/cases", h.getView)
			r.Put("/ui/cases/search", h.setSearch)
			r.Post("/ui/cases/refresh", h.refresh)
			r.Post("/ui/cases/page/next", h.nextPage)
			r.Post("/ui/cases/page/prev", h.prevPage)
			r.Post("/ui/cases/page/{n:[0-9]+}", h.goToPage)

			r.Post("/ui/cases/selection/all", h.selectAll)
			r.Post("/ui/cases/selection/{id:[0-9]+}", h.toggleSelect)
			r.Delete("/ui/cases/selection", h.clearSelection)

			r.Post("/ui/cases/bulk-delete", h.bulkDelete)
			r.Post("/ui/cases/undo", h.undo)
			r.Delete("/ui/cases/undo", h.dismissUndo)

			r.Get("/ui/cases/export/page", h.exportPage)
			r.Get("/ui/cases/export/all", h.exportAll)

			r.Post("/ui/cases", h.createCase)
			r.Get("/ui/cases/{id:[0-9]+}", h.getCase)
			r.Put("/ui/cases/{id:[0-9]+}", h.updateCase)
			r.Delete("/ui/cases/{id:[0-9]+}", h.deleteOne)
			r.Post("/ui/cases/{id:[0-9]+}/analyze", h.reanalyze)
			r.Get("/ui/cases/{id:[0-9]+}/report", h.caseReport)
			r.Post("/ui/analyze", h.analyze)
			r.Get("/ui/triage/vomiting", h.vomitingTree)
			r.Get("/ui/triage/prompts", h.triagePrompts)
			r.Post("/ui/files", h.uploadFile)

			r.Get("/ui/audit", h.listAudit)
		})
	})

	return r
}

func orDefault(h http.Handler, fallback http.HandlerFunc) http.Handler {
	if h != nil {
		return h
	}
	return fallback
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
}
