package main

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"strconv"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/clubhub/core/quiz"
	"github.com/trezcool/clubhub/core/user"
	"github.com/trezcool/clubhub/storage/database/inmem"
	"github.com/trezcool/clubhub/tests"
)

func setup(t *testing.T) *commandLine {
	db := inmemdb.Open()
	return &commandLine{
		usrRepo: inmemdb.NewUserRepository(db),
		quizSvc: quiz.NewService(inmemdb.NewQuizRepository(db), nil, nil),
		out:     ioutil.Discard,
	}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }
}

type cliTest struct {
	name       string
	args       []string // without program name
	pwd        string
	wantErr    error
	wantErrStr string
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest, check func(t *testing.T, tt cliTest)) {
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			mockPassword(tt.pwd)
			err := cli.run(append([]string{"admin"}, tt.args...))
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			case tt.wantErrStr != "":
				require.Error(t, err)
				assert.Equal(t, tt.wantErrStr, err.Error())
			default:
				require.NoError(t, err)
				if check != nil {
					check(t, tt)
				}
			}
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	var gotCommand string
	gooseRunFunc = func(_ *sqlx.DB, command string, args ...string) error {
		gotCommand = command
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runCLITests(t, cli, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "3"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "attempt_events", "sql"}},
	}, func(t *testing.T, tt cliTest) {
		assert.Equal(t, tt.args[1], gotCommand)
	})
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()
	existing := testutil.CreateUser(t, cli.usrRepo, "Old", "old", "old@test.cd", "mdr", []string{user.RoleMember}, false)

	runCLITests(t, cli, []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "bad flag", args: []string{"adduser", "-lol"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "jane", "-email", "jane@test.cd"}, wantErr: errHelp},
		{name: "missing email", args: []string{"adduser", "-username", "jane"}, pwd: "lol", wantErr: errMissingIdentity},
		{
			name: "unknown role", args: []string{"adduser", "-username", "jane", "-email", "jane@test.cd", "-role", "king"},
			pwd: "lol", wantErr: errUnknownRole,
		},
		{
			name: "create", args: []string{"adduser", "-username", " Jane ", "-email", "JANE@test.cd", "-role", user.RoleManagerQuizzes},
			pwd: "lol",
		},
		{
			name: "update", args: []string{"adduser", "-username", "old", "-email", "old@test.cd", "-name", "New", "-role", user.RoleAdmin},
			pwd: "lmao",
		},
	}, func(t *testing.T, tt cliTest) {
		usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: tt.args[2]})
		if tt.name == "create" {
			usr, err = cli.usrRepo.GetUser(ctx, user.GetFilter{Username: "jane"})
		}
		require.NoError(t, err)
		assert.True(t, usr.IsActive)
		assert.NoError(t, usr.CheckPassword(tt.pwd))
		assert.Equal(t, []string{tt.args[len(tt.args)-1]}, usr.Roles)
	})

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{ID: existing.ID})
	require.NoError(t, err)
	assert.Equal(t, "New", usr.Name)
	assert.Equal(t, "jane@test.cd", mustGetUser(t, cli, "jane").Email)
}

func mustGetUser(t *testing.T, cli *commandLine, uname string) user.User {
	usr, err := cli.usrRepo.GetUser(context.Background(), user.GetFilter{Username: uname})
	require.NoError(t, err)
	return usr
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)
	usr := testutil.CreateUser(t, cli.usrRepo, "User", "awe", "awe@test.cd", "mdr", nil, true)

	runCLITests(t, cli, []cliTest{
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, pwd: "lol", wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, pwd: "lol"},
		{name: "reset with email", args: []string{"resetpassword", "-username", "AWE@test.cd"}, pwd: "lmao"},
	}, func(t *testing.T, tt cliTest) {
		refreshed := mustGetUser(t, cli, usr.Username)
		assert.False(t, bytes.Equal(refreshed.PasswordHash, usr.PasswordHash))
		assert.NoError(t, refreshed.CheckPassword(tt.pwd))
	})
}

func Test_commandLine_expire(t *testing.T) {
	cli := setup(t)
	var out bytes.Buffer
	cli.out = &out
	ctx := context.Background()

	now := time.Now().UTC()
	cli.quizSvc.SetNowFunc(func() time.Time { return now })

	q, err := cli.quizSvc.CreateQuiz(ctx, quiz.NewQuiz{Title: "Go", IsActive: true, DurationMinutes: 10}, "")
	require.NoError(t, err)
	late, err := cli.quizSvc.Start(ctx, q.ID, quiz.NewAttempt{Email: "late@test.cd"})
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)
	onTime, err := cli.quizSvc.Start(ctx, q.ID, quiz.NewAttempt{Email: "ontime@test.cd"})
	require.NoError(t, err)

	now = now.Add(6 * time.Minute)
	require.NoError(t, cli.run([]string{"admin", "expire"}))
	assert.Equal(t, "1 overdue attempt(s) auto-submitted\n", out.String())

	a, err := cli.quizSvc.GetAttempt(ctx, late.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusAutoSubmitted, a.Status)

	a, err = cli.quizSvc.GetAttempt(ctx, onTime.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusOngoing, a.Status)
}
