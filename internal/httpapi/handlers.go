package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"biohub.org/internal/access"
	"biohub.org/internal/audit"
	"biohub.org/internal/auth"
	"biohub.org/internal/authz"
	"biohub.org/internal/obs"
	"biohub.org/internal/project"
)

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks readiness, typically by pinging the database.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

// Authenticator resolves verified claims to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, claims *auth.Claims) (auth.Principal, error)
}

// Authorizer evaluates an authorization scheme for a user.
type Authorizer interface {
	Evaluate(ctx context.Context, scheme authz.Requirement, user *auth.SystemUser) (bool, error)
}

// Options wires the API to its collaborators.
type Options struct {
	Verifier       auth.TokenVerifier
	Auth           Authenticator
	Evaluator      Authorizer
	Projects       *project.Service
	Access         *access.Service
	Surveys        auth.SurveyStore
	Ready          ReadyProbe
	Version        string
	RateBurst      int
	RatePerSec     int
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// API is the HTTP layer.
type API struct {
	router     chi.Router
	verifier   auth.TokenVerifier
	auth       Authenticator
	evaluator  Authorizer
	projects   *project.Service
	access     *access.Service
	surveys    auth.SurveyStore
	readyProbe ReadyProbe
	version    string

	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
	origins      []string
}

// New builds the router.
func New(opts Options) (*API, error) {
	if opts.Verifier == nil || opts.Auth == nil || opts.Evaluator == nil {
		return nil, errors.New("httpapi: verifier, authenticator and evaluator are required")
	}
	a := &API{
		verifier:     opts.Verifier,
		auth:         opts.Auth,
		evaluator:    opts.Evaluator,
		projects:     opts.Projects,
		access:       opts.Access,
		surveys:      opts.Surveys,
		readyProbe:   opts.Ready,
		version:      opts.Version,
		rateBurst:    opts.RateBurst,
		ratePerSec:   opts.RatePerSec,
		maxBodyBytes: opts.MaxBodyBytes,
		origins:      opts.AllowedOrigins,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 100
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 50
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, SecurityHeaders, corsHandler(a.origins))
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBodyBytes) })
	r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) })

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(a.withAuth)

		r.With(a.authorize(nil)).Get("/user/self", a.handleSelf)
		r.With(a.authorize(administratorScheme)).Delete("/user/{userId}", a.handleDeactivateUser)

		r.Route("/project/{projectId}/participants", func(r chi.Router) {
			r.With(a.authorize(projectReadScheme)).Get("/", a.handleListParticipants)
			r.With(a.authorize(projectReadScheme)).Get("/self", a.handleSelfParticipant)
			r.With(a.authorize(projectWriteScheme)).Post("/", a.handleAddParticipant)
			r.With(a.authorize(projectWriteScheme)).Put("/{userId}", a.handleUpdateParticipantRole)
			r.With(a.authorize(projectWriteScheme)).Delete("/{userId}", a.handleRemoveParticipant)
		})

		r.With(a.authorize(surveyReadScheme)).Get("/survey/{surveyId}", a.handleGetSurvey)

		r.With(a.authorize(systemUserScheme)).Post("/administrative-activity", a.handleSubmitAccessRequest)
		r.With(a.authorize(administratorScheme)).Get("/administrative-activities", a.handleListAccessRequests)
		r.With(a.authorize(administratorScheme)).Put("/administrative-activity/{activityId}", a.handleActionAccessRequest)
	})
	return r
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "biohub-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.Logger().WithError(err).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeServiceError maps domain errors onto HTTP responses. Unclassified
// errors are logged in full and reported generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful can be written.
	case errors.Is(err, authz.ErrEvaluation), errors.Is(err, authz.ErrMalformedScheme), errors.Is(err, auth.ErrMissingActor):
		// Faults inside authorization never take the status of their cause.
		logServerError(r, err)
		writeError(w, r, http.StatusInternalServerError, "internal server error")
	case errors.Is(err, authz.ErrAccessDenied):
		writeError(w, r, http.StatusForbidden, "access denied")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrMissingIdentity):
		writeError(w, r, http.StatusBadRequest, "token is missing identity claims")
	case errors.Is(err, auth.ErrInvariantViolation), errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrConflict), errors.Is(err, access.ErrNotPending):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		logServerError(r, err)
		writeError(w, r, http.StatusInternalServerError, "internal server error")
	}
}

func logServerError(r *http.Request, err error) {
	obs.Logger().WithFields(logrus.Fields{
		"request_id": RequestIDFromContext(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	}).WithError(err).Error("request failed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.Logger().WithError(err).WithField("event", strings.TrimSpace(event)).Warn("audit log failed")
	}
}
