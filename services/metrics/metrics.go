// Package metricsvc exposes Prometheus metrics for the HTTP API and quiz attempts.
package metricsvc

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/clubhub/core/quiz"
)

type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	attemptsStarted  *prometheus.CounterVec
	responsesSaved   *prometheus.CounterVec
	attemptsFinished *prometheus.CounterVec
	scores           prometheus.Histogram
}

var _ quiz.Observer = (*Metrics)(nil)

// New registers the collectors on a dedicated registry, along with the Go and process collectors.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "endpoint"},
		),
		attemptsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quiz_attempts_started_total",
				Help:      "Total number of quiz attempts started",
			},
			[]string{"quiz"},
		),
		responsesSaved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quiz_responses_saved_total",
				Help:      "Total number of response updates saved",
			},
			[]string{"quiz"},
		),
		attemptsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quiz_attempts_finished_total",
				Help:      "Total number of quiz attempts finished, by terminal status",
			},
			[]string{"quiz", "status"},
		),
		scores: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "quiz_attempt_score",
				Help:      "Scores of finished quiz attempts",
				Buckets:   prometheus.LinearBuckets(-20, 10, 15),
			},
		),
	}
	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.requests, m.requestDuration,
		m.attemptsStarted, m.responsesSaved, m.attemptsFinished, m.scores,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records the count and duration of requests, by route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)
			if err != nil {
				ctx.Error(err) // commit the response so its status is known
			}

			path := ctx.Path()
			if path == "" {
				path = "unmatched"
			}
			method := ctx.Request().Method
			m.requests.WithLabelValues(method, path, strconv.Itoa(ctx.Response().Status)).Inc()
			m.requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func quizLabel(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (m *Metrics) AttemptStarted(quizID int64) {
	m.attemptsStarted.WithLabelValues(quizLabel(quizID)).Inc()
}

func (m *Metrics) ResponsesSaved(quizID int64) {
	m.responsesSaved.WithLabelValues(quizLabel(quizID)).Inc()
}

func (m *Metrics) AttemptFinished(quizID int64, status quiz.Status, score float64) {
	m.attemptsFinished.WithLabelValues(quizLabel(quizID), string(status)).Inc()
	if status != quiz.StatusDisqualified {
		m.scores.Observe(score)
	}
}
