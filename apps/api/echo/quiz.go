package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
)

// candidateApi serves the quiz-taking endpoints: nobody logs in, an attempt token is issued instead.
type candidateApi struct {
	svc      *quiz.Service
	auth     *tokenAuth
	validate *validator.Validate
}

func registerCandidateAPI(g *echo.Group, limit echo.MiddlewareFunc, api *candidateApi) {
	qg := g.Group("/quizzes")
	qg.POST("/join_by_code", api.join, limit)
	qg.POST("/:id/start_quiz", api.start, limit)

	ag := qg.Group("/:id", api.auth.candidateMiddleware(), candidateAttemptMiddleware())
	ag.GET("/attempt", api.attempt)
	ag.POST("/update_responses", api.updateResponses)
	ag.POST("/submit_quiz", api.submit)
}

// Handlers

func (api *candidateApi) join(ctx echo.Context) error {
	var data JoinRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to JoinRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sess, err := api.svc.Join(ctx.Request().Context(), data.Code, data.Email)
	if err != nil {
		var onboarding *quiz.OnboardingError
		if errors.As(err, &onboarding) {
			return ctx.JSON(http.StatusNotFound, OnboardingResponse{Error: onboarding.Error(), Quiz: onboarding.Preview})
		}
		return err
	}
	return api.session(ctx, http.StatusOK, sess)
}

func (api *candidateApi) start(ctx echo.Context) error {
	quizID, err := paramID(ctx, "id", quiz.ErrQuizNotFound)
	if err != nil {
		return err
	}
	var data quiz.NewAttempt
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAttempt")
	}
	data.Clean()
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	sess, err := api.svc.Start(ctx.Request().Context(), quizID, data)
	if err != nil {
		return err
	}
	return api.session(ctx, http.StatusCreated, sess)
}

func (api *candidateApi) session(ctx echo.Context, code int, sess quiz.Session) error {
	token, err := api.auth.candidateToken(sess.Attempt)
	if err != nil {
		return errors.Wrap(err, "generating attempt token")
	}
	return ctx.JSON(code, SessionResponse{Quiz: sess.Quiz, Attempt: sess.Attempt, Token: token})
}

func (api *candidateApi) attempt(ctx echo.Context) error {
	claims, err := getCandidateClaims(ctx)
	if err != nil {
		return err
	}
	a, err := api.svc.GetAttempt(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *candidateApi) updateResponses(ctx echo.Context) error {
	claims, err := getCandidateClaims(ctx)
	if err != nil {
		return err
	}
	var data UpdateResponsesRequest
	if err = ctx.Bind(&data); err != nil {
		return core.NewFieldValidationError("responses", "invalid responses")
	}
	if err = checkCandidateEmail(claims, data.Email); err != nil {
		return err
	}

	ack, err := api.svc.UpdateResponses(ctx.Request().Context(), claims.Subject, data.Responses)
	if err != nil {
		if errors.Cause(err) == quiz.ErrTimeExceeded || errors.Cause(err) == quiz.ErrInvalidState {
			return ctx.JSON(http.StatusBadRequest, echo.Map{"error": errors.Cause(err).Error(), "status": ack.Status})
		}
		return err
	}
	return ctx.JSON(http.StatusOK, ack)
}

func (api *candidateApi) submit(ctx echo.Context) error {
	claims, err := getCandidateClaims(ctx)
	if err != nil {
		return err
	}
	var data SubmitRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmitRequest")
	}
	if err = checkCandidateEmail(claims, data.Email); err != nil {
		return err
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	res, err := api.svc.Submit(ctx.Request().Context(), claims.Subject, data.Submission)
	if err != nil {
		if errors.Cause(err) == quiz.ErrInvalidState {
			return ctx.JSON(http.StatusOK, SubmitResponse{Result: res, AlreadySubmitted: true})
		}
		return err
	}
	return ctx.JSON(http.StatusOK, SubmitResponse{Result: res})
}

func checkCandidateEmail(claims CandidateClaims, email string) error {
	if email = core.CleanString(email, true /* lower */); email != "" && email != claims.Email {
		return errHttpForbidden
	}
	return nil
}

type (
	JoinRequest struct {
		Code  string `json:"code" validate:"required,notblank"`
		Email string `json:"email" validate:"omitempty,email"`
	}

	SessionResponse struct {
		Quiz    quiz.CandidateQuiz `json:"quiz"`
		Attempt quiz.Attempt       `json:"attempt"`
		Token   string             `json:"token"`
	}

	OnboardingResponse struct {
		Error string       `json:"error"`
		Quiz  quiz.Preview `json:"quiz"`
	}

	UpdateResponsesRequest struct {
		Email     string         `json:"email"`
		Responses quiz.Responses `json:"responses"`
	}

	SubmitRequest struct {
		Email string `json:"email"`
		quiz.Submission
	}

	SubmitResponse struct {
		quiz.Result
		AlreadySubmitted bool `json:"already_submitted,omitempty"`
	}
)

func (jr *JoinRequest) Validate(validate *validator.Validate) error {
	jr.Code = core.CleanString(jr.Code)
	jr.Email = core.CleanString(jr.Email, true /* lower */)
	return validate.Struct(jr)
}
