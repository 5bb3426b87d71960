// Package handlers exposes the portal over HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"talencor/pkg/telemetry"
	"talencor/services/portal/internal/audit"
	"talencor/services/portal/internal/events"
	"talencor/services/portal/internal/gate"
	"talencor/services/portal/internal/intake"
	"talencor/services/portal/internal/store"
)

const (
	ServiceName = "talencor-portal"

	defaultFileURLTTL = 15 * time.Minute
	requestTimeout    = 60 * time.Second
)

// Check reports whether a dependency is ready to serve traffic.
type Check func(ctx context.Context) error

// Options configures the router.
type Options struct {
	AllowedOrigins     []string
	RateLimitPerMinute int
	FileURLTTL         time.Duration
	ReadyChecks        map[string]Check
	// Audit serves GET /api/applications/{id}/audit when set.
	Audit              audit.Trailer
}

// API binds HTTP routes to the gate, the record store and file intake.
type API struct {
	gate      *gate.Gate
	apps      store.Applications
	files     *intake.Intake
	publisher events.Publisher
	log       zerolog.Logger
	opts      Options
	now       func() time.Time
}

// New validates dependencies and applies defaults.
func New(g *gate.Gate, apps store.Applications, files *intake.Intake, publisher events.Publisher, log zerolog.Logger, opts Options) (*API, error) {
	if g == nil {
		return nil, errors.New("gate is required")
	}
	if apps == nil {
		return nil, errors.New("application store is required")
	}
	if files == nil {
		return nil, errors.New("file intake is required")
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if opts.RateLimitPerMinute <= 0 {
		opts.RateLimitPerMinute = 100
	}
	if opts.FileURLTTL <= 0 {
		opts.FileURLTTL = defaultFileURLTTL
	}
	return &API{
		gate:      g,
		apps:      apps,
		files:     files,
		publisher: publisher,
		log:       log,
		opts:      opts,
		now:       time.Now,
	}, nil
}

// Routes builds the chi router with operational endpoints and the /api surface.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware(ServiceName, a.log))

	allowed := a.opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Recruiter-Email"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(a.opts.RateLimitPerMinute, time.Minute))
		r.Use(middleware.Timeout(requestTimeout))

		r.Post("/generate-link", a.handleGenerateLink)
		r.Post("/validate-token", a.handleValidateToken)
		r.Get("/tokens/{recruiterEmail}", a.handleListTokens)

		r.Post("/upload/{token}", a.handleUpload)
		r.Get("/files/*", a.handleFile)

		r.Get("/aptitude/questions", a.handleAptitudeQuestions)

		r.Post("/applications", a.handleSubmit)
		r.Get("/applications", a.handleListApplications)
		r.Get("/applications/{id}", a.handleGetApplication)
		r.Patch("/applications/{id}", a.handleReview)
		if a.opts.Audit != nil {
			r.Get("/applications/{id}/audit", a.handleAuditTrail)
		}
	})

	return r
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range a.opts.ReadyChecks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
