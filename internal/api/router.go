package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/graystone-av/dsp-core/internal/atlas"
	"github.com/graystone-av/dsp-core/internal/infrastructure/config"
	"github.com/graystone-av/dsp-core/internal/infrastructure/logging"
	"github.com/graystone-av/dsp-core/internal/processor"
	"github.com/graystone-av/dsp-core/internal/scene"
)

// Deps are the services the API routes over.
type Deps struct {
	Config  *config.Config
	Logger  *logging.Logger
	Manager *processor.Manager
	Scenes  *scene.Engine
	Meters  *atlas.MeterIngestor
	Hub     *Hub
	Version string

	// HealthCheckers are probed by GET /health.
	HealthCheckers map[string]func() error
}

// NewRouter builds the HTTP route tree.
func NewRouter(deps Deps) *chi.Mux {
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(deps.Config.API.CORS))

	// Every route except scene recall runs under a blanket request
	// timeout; recall derives its own deadline from the scene's window.
	reqTimeout := middleware.Timeout(60 * time.Second)

	r.With(reqTimeout).Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(reqTimeout).Get("/status", h.status)
		r.With(reqTimeout).Get("/metrics", h.metrics)

		r.Route("/processors", func(r chi.Router) {
			r.Use(reqTimeout)
			r.Get("/", h.listProcessors)
			r.Post("/", h.createProcessor)

			r.Route("/{processorID}", func(r chi.Router) {
				r.Get("/", h.getProcessor)
				r.Delete("/", h.deleteProcessor)
				r.Get("/status", h.processorStatus)
				r.Get("/meters", h.processorMeters)

				r.Route("/parameters", func(r chi.Router) {
					r.Get("/", h.listParameters)
					r.Get("/{name}", h.getParameter)
					r.Put("/{name}", h.setParameter)
				})

				r.Route("/channels", func(r chi.Router) {
					r.Get("/", h.listChannels)
					r.Delete("/{index}/group", h.leaveGroup)
				})

				r.Route("/stereo-links", func(r chi.Router) {
					r.Post("/", h.linkStereo)
					r.Delete("/{direction}/{index}", h.unlinkStereo)
				})

				r.Route("/groups", func(r chi.Router) {
					r.Get("/", h.listGroups)
					r.Post("/", h.createGroup)
					r.Delete("/{groupID}", h.deleteGroup)
					r.Put("/{groupID}/gain", h.setGroupGain)
					r.Put("/{groupID}/mute", h.setGroupMute)
				})

				r.Route("/scenes", func(r chi.Router) {
					r.Get("/", h.listScenes)
					r.Post("/", h.captureScene)
				})
			})
		})

		r.Route("/scenes", func(r chi.Router) {
			r.With(reqTimeout).Get("/{sceneID}", h.getScene)
			r.With(reqTimeout).Put("/{sceneID}", h.renameScene)
			r.With(reqTimeout).Delete("/{sceneID}", h.deleteScene)
			r.Post("/{sceneID}/recall", h.recallScene)
		})
	})

	if deps.Hub != nil {
		r.Get(deps.Config.WebSocket.Path, deps.Hub.ServeHTTP)
	}

	return r
}

// requestLogger logs each request at debug with method, path, and duration.
func requestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// corsMiddleware applies the configured CORS policy.
func corsMiddleware(cfg config.CORSConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	wildcard := false
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (wildcard || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
