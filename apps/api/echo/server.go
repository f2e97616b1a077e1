package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
	"github.com/trezcool/clubhub/core/user"
	metricsvc "github.com/trezcool/clubhub/services/metrics"
	"github.com/trezcool/clubhub/services/ratelimit"
)

// ServerDeps are the dependencies of the API server. Metrics and Limiter are optional.
type ServerDeps struct {
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	UserSvc    user.Service
	QuizSvc    *quiz.Service
	Metrics    *metricsvc.Metrics
	Limiter    *ratelimit.Limiter
}

type Server struct {
	deps     ServerDeps
	app      *echo.Echo
	errors   chan error
	shutdown chan os.Signal
}

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.HidePort = true
	s.app.Server.Addr = conf.Server.Host

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{conf.FrontendBaseURL},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	if s.deps.Metrics != nil {
		s.app.Use(s.deps.Metrics.Middleware())
		s.app.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)

	limit := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	if s.deps.Limiter != nil {
		limit = s.deps.Limiter.Middleware()
	}
	auth := newTokenAuth(conf)
	jwt := auth.userMiddleware()

	registerCandidateAPI(s.app.Group(""), limit, &candidateApi{
		svc:      s.deps.QuizSvc,
		auth:     auth,
		validate: s.deps.Validate,
	})

	v1 := s.app.Group("/v1")
	registerUserAPI(v1, jwt, limit, &userApi{
		svc:      s.deps.UserSvc,
		auth:     auth,
		validate: s.deps.Validate,
		logger:   s.deps.Logger,
	})
	registerQuizAdminAPI(v1, jwt, &quizAdminApi{
		svc:      s.deps.QuizSvc,
		validate: s.deps.Validate,
	})
}

// Start listens on the configured host. Listening errors are reported on Errors.
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	if err := s.app.StartServer(s.app.Server); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}
