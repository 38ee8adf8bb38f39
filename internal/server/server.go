// Package server exposes the enrichment service over HTTP: webhook intake,
// a manual trigger, health and Prometheus metrics.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/enrich"
	"github.com/sells-group/lead-enricher/internal/guard"
	"github.com/sells-group/lead-enricher/internal/intake"
	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/monitoring"
	"github.com/sells-group/lead-enricher/internal/resilience"
	"github.com/sells-group/lead-enricher/internal/store"
)

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-Webhook-Secret"

const maxBodyBytes = 1 << 20

// Enricher runs one enrichment pass.
type Enricher interface {
	Process(ctx context.Context, leadID string) model.Outcome
}

// Deps are the collaborators the handlers delegate to. Breakers, Guard and
// Metrics may be nil.
type Deps struct {
	Store    store.Store
	Intake   *intake.Intake
	Enricher Enricher
	Workers  *enrich.Runner
	Breakers *resilience.Breakers
	Guard    *guard.Guard
	Metrics  *monitoring.Metrics
}

// Server wires HTTP handlers to the enrichment core.
type Server struct {
	router chi.Router
	deps   Deps

	secret      string
	corsOrigins []string
	source      string
}

// Option configures a Server.
type Option func(*Server)

// WithWebhookSecret requires SecretHeader to match secret on webhook calls.
func WithWebhookSecret(secret string) Option {
	return func(s *Server) { s.secret = secret }
}

// WithCORSOrigins allows browser calls from origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithSource sets the lead source used when a payload names none.
func WithSource(source string) Option {
	return func(s *Server) { s.source = source }
}

// New builds the router.
func New(d Deps, opts ...Option) *Server {
	s := &Server{deps: d, source: "webhook"}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", SecretHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}
	r.Post("/webhooks/leads", s.webhook)
	r.Post("/leads/{id}/enrich", s.trigger)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]any{"status": "ok"}
	if s.deps.Breakers != nil {
		states := make(map[string]string)
		for name, st := range s.deps.Breakers.States() {
			states[name] = st.String()
		}
		body["breakers"] = states
	}
	if s.deps.Guard != nil {
		body["locks_held"] = s.deps.Guard.Held()
	}
	if err := s.deps.Store.Ping(ctx); err != nil {
		zap.L().Warn("server: health check failed", zap.Error(err))
		body["status"] = "unavailable"
		body["error"] = "store unreachable"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	if s.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(s.secret)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	adm, err := s.deps.Intake.Accept(r.Context(), s.source, body)
	switch {
	case eris.Is(err, intake.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		zap.L().Error("server: intake failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "intake failed")
		return
	case !adm.Admitted:
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	lead := adm.Lead
	if !s.enqueue(lead) {
		s.deferToRetry(r.Context(), lead)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "deferred", "lead_id": lead.ID})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "lead_id": lead.ID})
}

// enqueue runs the admitted lead's single pass on the worker pool.
func (s *Server) enqueue(lead *model.Lead) bool {
	return s.deps.Workers.Submit("intake", func(ctx context.Context) error {
		out := s.deps.Enricher.Process(ctx, lead.ID)
		return s.deps.Intake.Complete(ctx, lead.ExternalID, out)
	})
}

// deferToRetry hands a lead the pool could not take to the retry scheduler.
func (s *Server) deferToRetry(ctx context.Context, lead *model.Lead) {
	const reason = "intake queue full"
	zap.L().Warn("server: deferring lead to retry", zap.String("lead_id", lead.ID))
	ctx = context.WithoutCancel(ctx)
	upd := model.StatusUpdate{Status: model.LeadStatusUnenriched, Error: reason}
	if err := s.deps.Store.UpdateLeadStatus(ctx, lead.ID, upd); err != nil {
		zap.L().Error("server: defer lead", zap.String("lead_id", lead.ID), zap.Error(err))
	}
	out := model.Outcome{LeadID: lead.ID, Status: model.LeadStatusUnenriched, Message: reason}
	if err := s.deps.Intake.Complete(ctx, lead.ExternalID, out); err != nil {
		zap.L().Error("server: complete deferred event", zap.String("lead_id", lead.ID), zap.Error(err))
	}
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Store.GetLead(r.Context(), id); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load lead failed")
		return
	}

	out := s.deps.Enricher.Process(r.Context(), id)
	status := http.StatusOK
	switch {
	case out.Busy:
		status = http.StatusConflict
	case !out.Success && out.Status.Terminal():
		status = http.StatusConflict
	case !out.Success:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, out)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
