// Package refserver exposes the reference computations over the same HTTP
// contract as the service under test, for end-to-end runs and as a local oracle.
package refserver

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trialcheck/app"
	"trialcheck/domain/core"
	"trialcheck/domain/scenario"
	"trialcheck/internal"
	"trialcheck/internal/config"
)

// Config holds reference twin settings
type Config struct {
	APIPrefix string
	Seed      uint64 // base seed for the design searches
}

// Server is the reference twin HTTP server
type Server struct {
	router   *gin.Engine
	refs     *app.ReferenceService
	config   Config
	registry *prometheus.Registry
	metrics  *metrics
	logger   *internal.Logger
}

type metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refserver",
			Name:      "requests_total",
			Help:      "Calculator requests by route and status code",
		}, []string{"route", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "refserver",
			Name:      "request_duration_seconds",
			Help:      "Calculator request latency",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}, []string{"route"}),
	}
}

// NewServer creates a reference twin backed by refs. Each server owns its
// metrics registry.
func NewServer(refs *app.ReferenceService, cfg Config) *Server {
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = config.DefaultAPIPrefix
	}
	registry := prometheus.NewRegistry()
	s := &Server{
		router:   gin.New(),
		refs:     refs,
		config:   cfg,
		registry: registry,
		metrics:  newMetrics(registry),
		logger:   internal.DefaultLogger.Component("RefServer"),
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery(), s.instrument())

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	calculators := s.router.Group(s.config.APIPrefix)
	for _, kind := range scenario.AllKinds() {
		if kind.Offline() {
			continue
		}
		calculators.POST(kind.Endpoint(), s.handleCalculator(kind))
	}
}

func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		s.metrics.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.logger.Debug("%s %s -> %d in %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Microsecond))
	}
}

func (s *Server) handleCalculator(kind scenario.CalculatorKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var params map[string]interface{}
		if err := c.ShouldBindJSON(&params); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid JSON body: " + err.Error()})
			return
		}
		body, err := s.Compute(c.Request.Context(), kind, scenario.Params(params))
		if err != nil {
			status, payload := errorResponse(err)
			if status >= http.StatusInternalServerError {
				s.logger.Warn("%s: %v", kind.Endpoint(), err)
			}
			c.JSON(status, payload)
			return
		}
		c.JSON(http.StatusOK, body)
	}
}

// errorResponse maps an error to a structured response naming the offending field.
func errorResponse(err error) (int, gin.H) {
	var invalid *core.InvalidInputError
	switch {
	case stderrors.As(err, &invalid):
		return http.StatusUnprocessableEntity, gin.H{"detail": invalid.Reason, "field": invalid.Field}
	case core.IsInvalidInput(err):
		return http.StatusUnprocessableEntity, gin.H{"detail": err.Error()}
	case stderrors.Is(err, core.ErrUnsupportedCalculator):
		return http.StatusNotFound, gin.H{"detail": err.Error()}
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, gin.H{"detail": err.Error()}
	default:
		return http.StatusInternalServerError, gin.H{"detail": err.Error()}
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s (prefix %s)", addr, s.config.APIPrefix)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
