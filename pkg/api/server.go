// Package api assembles the REST API server.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/samplecove/samplecove/pkg/api/v1"
	"github.com/samplecove/samplecove/pkg/auth"
	"github.com/samplecove/samplecove/pkg/groups"
	"github.com/samplecove/samplecove/pkg/logger"
	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/objects"
	"github.com/samplecove/samplecove/pkg/users"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Deps carries everything the server needs.
type Deps struct {
	Users   *users.Manager
	Groups  *groups.Manager
	Objects *objects.Manager
	Tokens  *auth.TokenService
	Auth    *auth.Middleware
	// Ping probes the backing database for the health endpoint.
	Ping func() error
}

var requestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "samplecove_http_requests_total",
		Help: "HTTP requests by route pattern, method and status.",
	},
	[]string{"pattern", "method", "status"},
)

// metricsMiddleware counts requests per chi route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		requestsTotal.WithLabelValues(pattern, r.Method, strconv.Itoa(ww.Status())).Inc()
	})
}

// Router assembles the full route tree. Login, registration and the
// password flows stay outside the bearer gate, as do health and metrics.
func Router(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimiddleware.RequestID,
		chimiddleware.Timeout(middlewareTimeout),
		metricsMiddleware,
	)

	authPublic, authProtected := v1.AuthRouter(deps.Users, deps.Tokens)

	r.Mount("/health", v1.HealthcheckRouter(deps.Ping))
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/api/v1/auth", authPublic)

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Handler)

		r.Mount("/api/v1/auth/session", authProtected)
		r.Mount("/api/v1/users", v1.UsersRouter(deps.Users))
		r.Mount("/api/v1/groups", v1.GroupsRouter(deps.Groups))
		r.Mount("/api/v1/attribute", v1.AttributesRouter(deps.Objects))
		r.Mount("/api/v1/search", v1.SearchRouter(deps.Objects))
		r.Mount("/api/v1/object", v1.ObjectsRouter(deps.Objects, ""))
		r.Mount("/api/v1/file", v1.ObjectsRouter(deps.Objects, model.TypeFile))
		r.Mount("/api/v1/config", v1.ObjectsRouter(deps.Objects, model.TypeStaticConfig))
		r.Mount("/api/v1/blob", v1.ObjectsRouter(deps.Objects, model.TypeBlob))
	})

	return r
}

// Serve runs the API server on address until ctx is cancelled, then shuts
// down gracefully.
func Serve(ctx context.Context, address string, deps Deps) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           Router(deps),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting HTTP server on %s", address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
