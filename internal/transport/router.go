package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/skillstream/skillstream/internal/config"
	"github.com/skillstream/skillstream/internal/ledger"
	"github.com/skillstream/skillstream/internal/observability"
	"github.com/skillstream/skillstream/internal/queue"
	"github.com/skillstream/skillstream/internal/stream"
	"github.com/skillstream/skillstream/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Store     ledger.Store
	Queue     queue.Queue
	Manager   *stream.Manager
	Readiness observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints skip the
// per-request logging and metrics middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, model.NewNotFoundError("no route for "+r.URL.Path))
	})

	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	tasks := newTaskHandler(deps)
	ws := newStreamHandler(deps)

	r.Group(func(r chi.Router) {
		r.Use(RequestLogging(deps.Logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}
		r.Use(observability.TracingMiddleware)

		r.Post("/v1/tasks", tasks.create)
		r.Get("/v1/tasks", tasks.list)
		r.Get("/v1/tasks/{taskID}", tasks.get)
		r.Get("/v1/tasks/{taskID}/stream", ws.stream)
	})

	return r
}
