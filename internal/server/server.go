package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"txbench/api/benchdriverapi"
	"txbench/internal/worker"
	"txbench/internal/worker/as2"
	"txbench/internal/worker/runner"
)

type Handler struct {
	runner *runner.Runner

	Metrics *prometheus.Registry
}

type okResponse struct {
	Status string
}

var ok = okResponse{Status: "ok"}

func NewHandler(w *runner.Runner) *Handler {
	return &Handler{runner: w}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, benchdriverapi.ErrorNotFound(fmt.Errorf("no route %s %s", r.Method, r.URL.Path)))
	})

	r.Get("/", routeListHandler(r))
	r.Get("/status", statusHandler(func(ctx context.Context) (benchdriverapi.APIWorkerStatus, error) {
		return h.runner.Status(ctx), nil
	}))
	r.Get("/healthz", statusHandler(func(ctx context.Context) (benchdriverapi.StatusCode, error) {
		return h.runner.Healthcheck(ctx)
	}))

	work := chi.NewRouter()
	work.Post("/stop", statusHandler(func(ctx context.Context) (okResponse, error) {
		return ok, h.runner.CancelActive(ctx)
	}))
	work.Mount("/as2", h.as2Routes())
	r.Mount("/work", work)
}

func (h *Handler) as2Routes() chi.Router {
	taskFactory := as2.NewFactory(h.runner.Config)
	if h.Metrics != nil {
		taskFactory = taskFactory.WithMetrics(h.Metrics)
	}

	router := benchWorkRouter(h.runner, taskFactory)
	router.Get("/live", statusHandler(func(ctx context.Context) ([]benchdriverapi.OpStats, error) {
		stats := taskFactory.LiveStats()
		if stats == nil {
			return nil, benchdriverapi.ErrorNotFound(errors.New("no active run"))
		}
		return stats, nil
	}))
	return router
}

func benchWorkRouter[T any, F worker.TaskFactory[T]](r *runner.Runner, factory F) chi.Router {
	worker := runner.NewBenchmarkWorker(r, factory)
	router := chi.NewRouter()
	router.Post("/prepare", requHandler(func(ctx context.Context, requ T) (okResponse, error) {
		return ok, worker.Prepare(ctx, requ)
	}))
	router.Post("/cleanup", statusHandler(func(ctx context.Context) (okResponse, error) {
		return ok, worker.Cleanup(ctx)
	}))
	router.Post("/run", requHandler(func(ctx context.Context, requ T) (okResponse, error) {
		return ok, worker.Run(ctx, requ)
	}))

	router.Get("/", routeListHandler(router))
	return router
}

func routeListHandler(router chi.Routes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type routePath struct {
			Method string `json:"method"`
			Path   string `json:"path"`
		}

		var routes []routePath
		err := chi.Walk(router, func(method, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			routes = append(routes, routePath{Method: method, Path: route})
			return nil
		})

		type response struct {
			Routes []routePath `json:"routes"`
		}
		writeResponse(w, response{Routes: routes}, err)
	}
}

func statusHandler[O any](fn func(context.Context) (O, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		resp, err := fn(r.Context())
		writeResponse(w, resp, err)
	}
}

func requHandler[I any, O any](fn func(ctx context.Context, w I) (O, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		var requ I

		if r.ContentLength > 0 {
			if r.Header.Get("Content-Type") != "application/json" {
				writeError(w, benchdriverapi.ErrorBadRequest(fmt.Errorf("invalid content type: %s", r.Header.Get("Content-Type"))))
				return
			}

			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&requ); err != nil {
				writeError(w, benchdriverapi.ErrorBadRequest(fmt.Errorf("failed to decode request: %w", err)))
				return
			}
		}

		resp, err := fn(r.Context(), requ)
		writeResponse(w, resp, err)
	}
}

func writeResponse[T any](w http.ResponseWriter, resp T, err error) {
	if err != nil {
		writeError(w, err)
		return
	}

	enc, err := json.Marshal(resp)
	if err != nil {
		writeError(w, fmt.Errorf("failed to marshal response: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(enc)
}

func writeError(w http.ResponseWriter, err error) {
	code := getErrorStatusCode(err)
	entry := log.WithError(err).WithField("status", code)
	if code >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	enc, _ := json.Marshal(map[string]string{"error": getDisplayError(err).Error()})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(enc)
}
