package api

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/finanzas/pkg/interceptors"
	"github.com/FACorreiaa/finanzas/pkg/observability"
)

// SetupRouter configures all routes and returns the HTTP handler
func SetupRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	deps.FinanceHandler.Register(mux, observability.InstrumentHandler)
	deps.Logger.Info("registered finance API", "prefix", "/api/v1")

	registerUtilityRoutes(mux, deps)

	tracer := otel.GetTracerProvider().Tracer("finanzas/api")

	var limiter *rate.Limiter
	if deps.Config.Server.RateLimitPerSecond > 0 && deps.Config.Server.RateLimitBurst > 0 {
		limiter = rate.NewLimiter(
			rate.Limit(float64(deps.Config.Server.RateLimitPerSecond)),
			deps.Config.Server.RateLimitBurst,
		)
	}

	handler := interceptors.Chain(mux,
		interceptors.RequestID("X-Request-ID"),
		interceptors.Tracing(tracer),
		interceptors.RateLimit(limiter),
		interceptors.Recovery(deps.Logger),
		interceptors.Logging(deps.Logger),
	)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition", "X-Request-ID"},
		MaxAge:         7200,
	})

	return corsHandler.Handler(handler)
}

// registerUtilityRoutes registers health check, metrics, and other utility routes
func registerUtilityRoutes(mux *http.ServeMux, deps *Dependencies) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		if err := deps.Health(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, writeErr := w.Write([]byte("database unhealthy")); writeErr != nil {
				deps.Logger.Error("failed to write health response", slog.Any("error", writeErr))
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			deps.Logger.Error("failed to write health response", slog.Any("error", err))
		}
	})
	deps.Logger.Info("registered health check", "path", "/health")

	mux.HandleFunc("GET /health/details", func(w http.ResponseWriter, _ *http.Request) {
		type status struct {
			Status string `json:"status"`
			Detail string `json:"detail,omitempty"`
		}
		result := map[string]status{
			"storage": {Status: "ok", Detail: deps.Config.Data.Backend},
			"rules":   {Status: "ok"},
			"ready":   {Status: "ok"},
		}

		if err := deps.Health(); err != nil {
			result["storage"] = status{Status: "fail", Detail: err.Error()}
			result["ready"] = status{Status: "fail", Detail: "storage unavailable"}
		}

		if _, err := os.Stat(deps.RuleStore.Path()); err != nil {
			result["rules"] = status{Status: "warn", Detail: "rule file missing, every transaction is SIN_CLASIFICAR"}
		}

		code := http.StatusOK
		for _, v := range result {
			if v.Status == "fail" {
				code = http.StatusServiceUnavailable
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(result); err != nil {
			deps.Logger.Error("failed to encode health details", slog.Any("error", err))
		}
	})
	deps.Logger.Info("registered health details", "path", "/health/details")

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ready")); err != nil {
			deps.Logger.Error("failed to write readiness response", slog.Any("error", err))
		}
	})
	deps.Logger.Info("registered readiness check", "path", "/ready")

	if deps.Config.Observability.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
		deps.Logger.Info("registered metrics endpoint", "path", "/metrics")
	}
}
