// Package inmemdb implements the core repositories in memory, for tests and local demos.
package inmemdb

import (
	"sync"

	"github.com/trezcool/clubhub/core/quiz"
	"github.com/trezcool/clubhub/core/user"
)

type (
	DB struct {
		user *userTable
		quiz *quizTables
	}

	userTable struct {
		table map[string]*user.User
		mutex sync.RWMutex
	}

	quizTables struct {
		quizzes   map[int64]*quiz.Quiz // without questions
		questions map[int64]*quiz.Question // without options
		options   map[int64]*quiz.Option
		attempts  map[string]*quiz.Attempt
		pk        int64
		mutex     sync.RWMutex
	}
)

func Open() *DB {
	return &DB{
		user: &userTable{table: make(map[string]*user.User)},
		quiz: &quizTables{
			quizzes:   make(map[int64]*quiz.Quiz),
			questions: make(map[int64]*quiz.Question),
			options:   make(map[int64]*quiz.Option),
			attempts:  make(map[string]*quiz.Attempt),
		},
	}
}
