package metricsvc

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/clubhub/core/quiz"
)

func TestMetrics_Middleware(t *testing.T) {
	m := New("test")
	app := echo.New()
	app.Use(m.Middleware())
	app.GET("/quizzes/:id", func(ctx echo.Context) error { return ctx.String(http.StatusOK, "ok") })
	app.GET("/boom", func(ctx echo.Context) error { return echo.NewHTTPError(http.StatusTeapot) })

	for _, path := range []string{"/quizzes/1", "/quizzes/2", "/boom"} {
		app.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/quizzes/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/boom", "418")))
}

func TestMetrics_Observer(t *testing.T) {
	m := New("test")
	m.AttemptStarted(1)
	m.AttemptStarted(1)
	m.ResponsesSaved(1)
	m.AttemptFinished(1, quiz.StatusSubmitted, 7)
	m.AttemptFinished(1, quiz.StatusDisqualified, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attemptsStarted.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responsesSaved.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attemptsFinished.WithLabelValues("1", "DISQUALIFIED")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.scores), "disqualified scores are not observed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `test_quiz_attempts_finished_total{quiz="1",status="SUBMITTED"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
