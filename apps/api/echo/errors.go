package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
	"github.com/trezcool/clubhub/core/user"
)

var (
	errUnauthorized          = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errCandidateUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired attempt token")
	errAuthenticationFailed  = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated    = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired        = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden         = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound          = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// quizErrorStatus maps the quiz domain errors to HTTP statuses.
func quizErrorStatus(err error) (int, bool) {
	switch errors.Cause(err) {
	case quiz.ErrQuizNotFound, quiz.ErrQuestionNotFound, quiz.ErrOptionNotFound, quiz.ErrAttemptNotFound, user.ErrNotFound:
		return http.StatusNotFound, true
	case quiz.ErrAlreadyActive:
		return http.StatusConflict, true
	case quiz.ErrQuizClosed:
		return http.StatusForbidden, true
	case quiz.ErrInvalidState, quiz.ErrTimeExceeded:
		return http.StatusBadRequest, true
	}
	return 0, false
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		if status, ok := quizErrorStatus(err); ok {
			code = status
			message = errors.Cause(err).Error()
		} else {
			switch origErr := errors.Cause(err).(type) {
			case *echo.HTTPError:
				if origErr == middleware.ErrJWTMissing {
					code = http.StatusUnauthorized
					message = origErr.Message
					break
				}
				if origErr.Internal != nil {
					if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
						origErr = herr
					}
				}
				code = origErr.Code
				message = origErr.Message
			case validator.ValidationErrors:
				code = http.StatusBadRequest
				message = core.TranslateErrors(origErr, translator)
			case *core.ValidationError:
				if fields := origErr.FieldMap(); fields != nil {
					message = fields
				} else {
					message = origErr.Error()
				}
				code = http.StatusBadRequest
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg

				var usr user.User
				if claims, cErr := getContextClaims(ctx); cErr == nil {
					usr.ID = claims.Subject
					usr.Username = claims.Username
					usr.Email = claims.Email
				}
				logger.Error(msg, errors.Wrap(err, msg), usr, map[string]interface{}{
					"method": ctx.Request().Method,
					"path":   ctx.Path(),
				})

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				logger.Error("sending error response", err)
			}
		}
	}
}
