// Package di wires the API dependencies with a dig container.
package di

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/clubhub/apps/api/echo"
	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
	"github.com/trezcool/clubhub/core/user"
	emailsvc "github.com/trezcool/clubhub/services/email"
	logsvc "github.com/trezcool/clubhub/services/logger"
	metricsvc "github.com/trezcool/clubhub/services/metrics"
	"github.com/trezcool/clubhub/services/ratelimit"
	rediscache "github.com/trezcool/clubhub/storage/cache/redis"
	"github.com/trezcool/clubhub/storage/database"
	sqlxrepos "github.com/trezcool/clubhub/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type serverParams struct {
	dig.In
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	UserSvc    user.Service
	QuizSvc    *quiz.Service
	Metrics    *metricsvc.Metrics
	Limiter    *ratelimit.Limiter
}

func newRootLogger(conf *core.Config) *logsvc.RollbarLogger {
	return logsvc.NewRollbarLogger(logsvc.NewZap(conf), conf)
}

func newLogger(root *logsvc.RollbarLogger) core.Logger {
	return root.Named("API")
}

func newDBLogger(root *logsvc.RollbarLogger) core.Logger {
	return root.Named("DB")
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		if err = database.Ping(ctx, db, 10); err != nil {
			return nil, err
		}
		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

// newRedis returns nil when Redis is not configured or cannot be reached: quizzes are then read from the DB.
func newRedis(conf *core.Config, logger core.Logger) *redis.Client {
	if conf.Redis.Addr == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb, err := rediscache.Open(ctx, conf)
	if err != nil {
		logger.Warn("redis unavailable, quiz cache disabled", err)
		return nil
	}
	return rdb
}

func newQuizCache(conf *core.Config, rdb *redis.Client) quiz.Cache {
	if rdb == nil {
		return nil
	}
	return rediscache.NewQuizCache(rdb, conf.Redis.TTL)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	quiz.InitValidators(validate, translator)
	return validate
}

func newMetrics() *metricsvc.Metrics {
	return metricsvc.New("clubhub")
}

func newQuizService(repo quiz.Repository, cache quiz.Cache, metrics *metricsvc.Metrics) *quiz.Service {
	return quiz.NewService(repo, cache, metrics)
}

func newLimiter(conf *core.Config) *ratelimit.Limiter {
	return ratelimit.New(conf.Server.RateLimit, conf.Server.RateBurst)
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Validate:   p.Validate,
		Translator: p.Translator,
		UserSvc:    p.UserSvc,
		QuizSvc:    p.QuizSvc,
		Metrics:    p.Metrics,
		Limiter:    p.Limiter,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newRootLogger))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newRedis))
	must(c.Provide(newQuizCache))
	must(c.Provide(newEmailService))
	must(c.Provide(sqlxrepos.NewUserRepository))
	must(c.Provide(sqlxrepos.NewQuizRepository))
	must(c.Provide(newTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(user.NewService))
	must(c.Provide(newMetrics))
	must(c.Provide(newQuizService))
	must(c.Provide(newLimiter))
	must(c.Provide(newServer))
	must(c.Provide(func(conf *core.Config, svc *quiz.Service, logger core.Logger) *quiz.Sweeper {
		return quiz.NewSweeper(svc, conf.Quiz.SweepInterval, logger)
	}))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
