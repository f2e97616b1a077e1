package main

import (
	"context"
	"fmt"
	"os"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
	logsvc "github.com/trezcool/clubhub/services/logger"
	"github.com/trezcool/clubhub/storage/database"
	sqlxrepos "github.com/trezcool/clubhub/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	rootLogger := logsvc.NewRollbarLogger(logsvc.NewZap(conf), conf)
	logger := rootLogger.Named("ADMIN")

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal("Failed to open the database", err)
	}
	if err = database.Ping(context.Background(), db, 3); err != nil {
		logger.Fatal("Failed to reach the database", err)
	}

	// start CLI
	cli := commandLine{
		db:      db,
		usrRepo: sqlxrepos.NewUserRepository(db),
		quizSvc: quiz.NewService(sqlxrepos.NewQuizRepository(db), nil, nil),
		out:     os.Stdout,
	}
	err = cli.run(os.Args)

	_ = db.Close()
	_ = rootLogger.Sync()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
