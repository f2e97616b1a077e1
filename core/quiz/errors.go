package quiz

import "github.com/pkg/errors"

var (
	ErrQuizNotFound     = errors.New("invalid code or quiz inactive")
	ErrQuestionNotFound = errors.New("question not found")
	ErrOptionNotFound   = errors.New("option not found")
	ErrAttemptNotFound  = errors.New("no attempt found for this candidate")

	ErrAlreadyActive = errors.New("candidate already has an active attempt")
	ErrQuizClosed    = errors.New("quiz is not accepting attempts")
	ErrInvalidState  = errors.New("attempt is no longer ongoing")
	ErrTimeExceeded  = errors.New("time exceeded, quiz auto-submitted")

	// repository level
	ErrJoinCodeExists = errors.New("a quiz with this join code already exists")
	ErrAttemptExists  = errors.New("an attempt already exists for this candidate")
	ErrCacheMiss      = errors.New("cache miss")
)

func IsNotFound(err error) bool {
	switch errors.Cause(err) {
	case ErrQuizNotFound, ErrQuestionNotFound, ErrOptionNotFound, ErrAttemptNotFound:
		return true
	}
	return false
}

// IsInvalidState reports whether err rejects an operation on a terminal attempt.
func IsInvalidState(err error) bool {
	switch errors.Cause(err) {
	case ErrInvalidState, ErrTimeExceeded:
		return true
	}
	return false
}
