package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/clubhub/core/quiz"
	"github.com/trezcool/clubhub/core/user"
)

// quizAdminApi lets club admins and quiz managers build quizzes and review attempts.
type quizAdminApi struct {
	svc      *quiz.Service
	validate *validator.Validate
}

func registerQuizAdminAPI(g *echo.Group, jwt echo.MiddlewareFunc, api *quizAdminApi) {
	ag := g.Group("/admin", jwt, adminMiddleware(user.QuizRoles...))

	ag.GET("/quizzes", api.queryQuizzes)
	ag.POST("/quizzes", api.createQuiz)
	ag.GET("/quizzes/:id", api.retrieveQuiz)
	ag.PUT("/quizzes/:id", api.updateQuiz)
	ag.PATCH("/quizzes/:id", api.updateQuiz)
	ag.DELETE("/quizzes/:id", api.destroyQuiz)
	ag.POST("/quizzes/:id/toggle_active", api.toggleActive)
	ag.GET("/quizzes/:id/attempts", api.queryQuizAttempts)
	ag.POST("/quizzes/:id/questions", api.createQuestion)

	ag.PUT("/questions/:id", api.updateQuestion)
	ag.PATCH("/questions/:id", api.updateQuestion)
	ag.DELETE("/questions/:id", api.destroyQuestion)
	ag.POST("/questions/:id/options", api.createOption)

	ag.PUT("/options/:id", api.updateOption)
	ag.PATCH("/options/:id", api.updateOption)
	ag.DELETE("/options/:id", api.destroyOption)

	ag.GET("/attempts", api.queryAttempts)
	ag.GET("/attempts/:id", api.reviewAttempt)
}

// Quizzes

func (api *quizAdminApi) queryQuizzes(ctx echo.Context) error {
	filter := new(quiz.QuizFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []quiz.Quiz{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	quizzes, err := api.svc.QueryQuizzes(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying quizzes")
	}
	if quizzes == nil {
		quizzes = []quiz.Quiz{}
	}
	return ctx.JSON(http.StatusOK, quizzes)
}

func (api *quizAdminApi) createQuiz(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var data quiz.NewQuiz
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuiz")
	}
	data.Clean()
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	q, err := api.svc.CreateQuiz(ctx.Request().Context(), data, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "creating quiz")
	}
	return ctx.JSON(http.StatusCreated, q)
}

func (api *quizAdminApi) retrieveQuiz(ctx echo.Context) error {
	id, err := paramID(ctx, "id", quiz.ErrQuizNotFound)
	if err != nil {
		return err
	}
	q, err := api.svc.GetQuiz(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting quiz")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *quizAdminApi) updateQuiz(ctx echo.Context) error {
	id, err := paramID(ctx, "id", quiz.ErrQuizNotFound)
	if err != nil {
		return err
	}
	var data quiz.UpdateQuiz
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateQuiz")
	}
	data.Clean()
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	q, err := api.svc.UpdateQuiz(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating quiz")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *quizAdminApi) toggleActive(ctx echo.Context) error {
	id, err := paramID(ctx, "id", quiz.ErrQuizNotFound)
	if err != nil {
		return err
	}
	q, err := api.svc.ToggleActive(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "toggling quiz")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *quizAdminApi) destroyQuiz(ctx echo.Context) error {
	id, err := paramID(ctx, "id", quiz.ErrQuizNotFound)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteQuiz(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "deleting quiz")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Questions

func (api *quizAdminApi) createQuestion(ctx echo.Context) error {
	quizID, err := paramID(ctx, "id", quiz.ErrQuizNotFound)
	if err != nil {
		return err
	}
	var data quiz.NewQuestion
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}
	data.QuizID = quizID
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	qn, err := api.svc.CreateQuestion(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating question")
	}
	return ctx.JSON(http.StatusCreated, qn)
}

func (api *quizAdminApi) updateQuestion(ctx echo.Context) error {
	id, err := paramID(ctx, "id", quiz.ErrQuestionNotFound)
	if err != nil {
		return err
	}
	var data quiz.UpdateQuestion
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateQuestion")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	qn, err := api.svc.UpdateQuestion(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating question")
	}
	return ctx.JSON(http.StatusOK, qn)
}

func (api *quizAdminApi) destroyQuestion(ctx echo.Context) error {
	id, err := paramID(ctx, "id", quiz.ErrQuestionNotFound)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteQuestion(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "deleting question")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Options

func (api *quizAdminApi) createOption(ctx echo.Context) error {
	questionID, err := paramID(ctx, "id", quiz.ErrQuestionNotFound)
	if err != nil {
		return err
	}
	var data quiz.NewOption
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewOption")
	}
	data.QuestionID = questionID
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	opt, err := api.svc.CreateOption(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating option")
	}
	return ctx.JSON(http.StatusCreated, opt)
}

func (api *quizAdminApi) updateOption(ctx echo.Context) error {
	id, err := paramID(ctx, "id", quiz.ErrOptionNotFound)
	if err != nil {
		return err
	}
	var data quiz.UpdateOption
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateOption")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	opt, err := api.svc.UpdateOption(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating option")
	}
	return ctx.JSON(http.StatusOK, opt)
}

func (api *quizAdminApi) destroyOption(ctx echo.Context) error {
	id, err := paramID(ctx, "id", quiz.ErrOptionNotFound)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteOption(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "deleting option")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Attempts

func (api *quizAdminApi) queryAttempts(ctx echo.Context) error {
	filter := new(quiz.AttemptFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []quiz.Attempt{})
	}
	return api.listAttempts(ctx, filter)
}

func (api *quizAdminApi) queryQuizAttempts(ctx echo.Context) error {
	quizID, err := paramID(ctx, "id", quiz.ErrQuizNotFound)
	if err != nil {
		return err
	}
	filter := new(quiz.AttemptFilter)
	if err = ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []quiz.Attempt{})
	}
	filter.QuizID = quizID
	return api.listAttempts(ctx, filter)
}

func (api *quizAdminApi) listAttempts(ctx echo.Context, filter *quiz.AttemptFilter) error {
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	attempts, err := api.svc.QueryAttempts(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying attempts")
	}
	if attempts == nil {
		attempts = []quiz.Attempt{}
	}
	return ctx.JSON(http.StatusOK, attempts)
}

func (api *quizAdminApi) reviewAttempt(ctx echo.Context) error {
	review, err := api.svc.ReviewAttempt(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "reviewing attempt")
	}
	return ctx.JSON(http.StatusOK, review)
}
