package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // register the /debug/pprof handlers
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/clubhub/apps/api/di"
	echoapi "github.com/trezcool/clubhub/apps/api/echo"
	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
	"github.com/trezcool/clubhub/core/user"
	appfs "github.com/trezcool/clubhub/fs"
	logsvc "github.com/trezcool/clubhub/services/logger"
	"github.com/trezcool/clubhub/services/ratelimit"
)

func main() {
	c := di.New()

	err := c.Invoke(func(
		conf *core.Config,
		rootLogger *logsvc.RollbarLogger,
		apiLogger core.Logger,
		dbLoggerParam di.DBLoggerParam,
		db *sqlx.DB,
		rdb *redis.Client,
		limiter *ratelimit.Limiter,
		sweeper *quiz.Sweeper,
		server *echoapi.Server,
	) {
		// =========================================================================
		// Initialize App

		apiLogger.Info(fmt.Sprintf("Application initializing : %s", conf))
		defer func() { _ = rootLogger.Sync() }()

		core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf.Debug, apiLogger)
		user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswords, apiLogger)

		dbLogger := dbLoggerParam.Logger
		defer func() {
			if err := db.Close(); err != nil {
				dbLogger.Error("Failed to close", err)
			}
		}()
		if rdb != nil {
			defer func() { _ = rdb.Close() }()
		}
		defer apiLogger.Info("Application stopped")

		ctx, stop := context.WithCancel(context.Background())
		defer stop()

		// =========================================================================
		// Start Debug Service
		//
		// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
		// /debug/vars - Added to the default mux by importing the expvar package.

		expvar.NewString("build").Set(conf.Build)
		expvar.NewString("env").Set(conf.Env)

		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				apiLogger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()

		// =========================================================================
		// Start background workers

		if conf.Quiz.SweepInterval > 0 {
			go sweeper.Run(ctx)
		}
		go limiter.Cleanup(ctx, time.Minute, 10*time.Minute)

		// =========================================================================
		// Start API Service

		apiLogger.Info("API listening on " + conf.Server.Host)
		go server.Start()

		// =========================================================================
		// Shutdown

		select {
		case err := <-server.Errors():
			apiLogger.Error(fmt.Sprintf("server error: %v", err), err)

		case sig := <-server.ShutdownSignal():
			apiLogger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

			// give outstanding requests a deadline for completion
			sctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()

			// asking listener to shut down and shed load
			if err := server.Shutdown(sctx); err != nil {
				apiLogger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

				if err = server.Close(); err != nil {
					apiLogger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
				}
			}
		}
	})
	if err != nil {
		log.Fatal(err)
	}
}
