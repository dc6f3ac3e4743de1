package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pricingd/pkg/types"
)

// Predictor is the serving surface required by the HTTP layer.
type Predictor interface {
	Predict(ctx context.Context, state types.MarketState) (types.PredictResponse, error)
	PredictAsync(state types.MarketState)
	Ready() bool
}

// Deployer drives version deployments and rollbacks.
type Deployer interface {
	Deploy(ctx context.Context, versionID, description string, dryRun bool) (types.DeployResponse, error)
	Rollback(ctx context.Context, steps int) (types.RollbackResponse, error)
	Status(ctx context.Context) (types.StatusResponse, error)
}

// Catalog lists registered model versions.
type Catalog interface {
	List(ctx context.Context, tags []string, metricMins map[string]float64) ([]types.VersionInfo, error)
}

// MetricsSource aggregates recent monitoring samples.
type MetricsSource interface {
	Summary(ctx context.Context, windowHours float64) (types.Summary, error)
	CheckAlerts(ctx context.Context) []string
}

// Deps bundles the services the mux dispatches to.
type Deps struct {
	Predictor Predictor
	Deployer  Deployer
	Catalog   Catalog
	Metrics   MetricsSource
}

// decodeJSON enforces the JSON content type and body size cap, then decodes
// into dst. It writes the error response itself and reports success.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Error().Err(err).Msg("failed to encode response")
	}
}

func NewMux(deps Deps) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(RequestLogger)
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/predict", func(w http.ResponseWriter, r *http.Request) {
		var req types.PredictRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.State) == 0 {
			writeJSONError(w, http.StatusBadRequest, "state is required")
			return
		}
		if req.Async {
			// Enqueued best-effort; overflow and staleness drops are silent.
			deps.Predictor.PredictAsync(req.State)
			writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
			return
		}
		resp, err := deps.Predictor.Predict(r.Context(), req.State)
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/deploy", func(w http.ResponseWriter, r *http.Request) {
		var req types.DeployRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.VersionID) == "" {
			writeJSONError(w, http.StatusBadRequest, "version_id is required")
			return
		}
		resp, err := deps.Deployer.Deploy(r.Context(), req.VersionID, req.Description, req.DryRun)
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/rollback", func(w http.ResponseWriter, r *http.Request) {
		var req types.RollbackRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := deps.Deployer.Rollback(r.Context(), req.Steps)
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		resp, err := deps.Deployer.Status(r.Context())
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/metrics/summary", func(w http.ResponseWriter, r *http.Request) {
		hours := 24.0
		if v := r.URL.Query().Get("window_hours"); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil || parsed <= 0 {
				writeJSONError(w, http.StatusBadRequest, "window_hours must be a positive number")
				return
			}
			hours = parsed
		}
		summary, err := deps.Metrics.Summary(r.Context(), hours)
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}
		alerts := deps.Metrics.CheckAlerts(r.Context())
		if alerts == nil {
			alerts = []string{}
		}
		writeJSON(w, http.StatusOK, types.MetricsResponse{
			WindowHours: hours,
			Summary:     summary,
			Alerts:      alerts,
		})
	})

	r.Get("/versions", func(w http.ResponseWriter, r *http.Request) {
		var tags []string
		if v := r.URL.Query().Get("tags"); v != "" {
			for _, t := range strings.Split(v, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tags = append(tags, t)
				}
			}
		}
		mins := make(map[string]float64)
		for key, vals := range r.URL.Query() {
			if !strings.HasPrefix(key, "min_") || len(vals) == 0 {
				continue
			}
			f, err := strconv.ParseFloat(vals[0], 64)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, key+" must be a number")
				return
			}
			mins[strings.TrimPrefix(key, "min_")] = f
		}
		list, err := deps.Catalog.List(r.Context(), tags, mins)
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}
		if list == nil {
			list = []types.VersionInfo{}
		}
		writeJSON(w, http.StatusOK, types.VersionsResponse{Versions: list})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Predictor.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("no model loaded"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
