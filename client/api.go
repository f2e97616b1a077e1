package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/clubhub/core/quiz"
)

// ErrTransient marks failures worth retrying: transport errors, 5xx and 429 answers.
var ErrTransient = errors.New("transient network failure")

type transientError struct {
	cause error
}

func (e *transientError) Error() string        { return ErrTransient.Error() + ": " + e.cause.Error() }
func (e *transientError) Unwrap() error        { return e.cause }
func (e *transientError) Is(target error) bool { return target == ErrTransient }

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
	// Status is the attempt status some 400 answers carry.
	Status quiz.Status
	// Preview is set when joining requires onboarding first.
	Preview *quiz.Preview
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

func (e *APIError) Is(target error) bool { return target == ErrTransient && e.retryable() }

func (e *APIError) retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports whether err may succeed when retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// StatusCode returns the HTTP status of an *APIError, 0 otherwise.
func StatusCode(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// Ticket is what joining or starting a quiz grants: the quiz, the attempt and its bearer token.
type Ticket struct {
	Quiz    quiz.CandidateQuiz `json:"quiz"`
	Attempt quiz.Attempt       `json:"attempt"`
	Token   string             `json:"token"`
}

type SubmitResult struct {
	quiz.Result
	AlreadySubmitted bool `json:"already_submitted"`
}

// API is the candidate surface of the quiz server.
type API interface {
	Join(ctx context.Context, code, email string) (Ticket, error)
	Start(ctx context.Context, quizID int64, na quiz.NewAttempt) (Ticket, error)
	Attempt(ctx context.Context, quizID int64, token string) (quiz.Attempt, error)
	UpdateResponses(ctx context.Context, quizID int64, token string, r quiz.Responses) (quiz.Ack, error)
	Submit(ctx context.Context, quizID int64, token string, sub quiz.Submission) (SubmitResult, error)
}

// HTTPClient implements API over the JSON HTTP API.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
}

var _ API = (*HTTPClient)(nil)

// NewHTTPClient returns a client for the server at baseURL. hc defaults to a client with a 15s timeout.
func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), hc: hc}
}

func (c *HTTPClient) Join(ctx context.Context, code, email string) (Ticket, error) {
	var t Ticket
	body := map[string]string{"code": code, "email": email}
	err := c.do(ctx, http.MethodPost, "/quizzes/join_by_code/", "", body, &t)
	return t, err
}

func (c *HTTPClient) Start(ctx context.Context, quizID int64, na quiz.NewAttempt) (Ticket, error) {
	var t Ticket
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/quizzes/%d/start_quiz/", quizID), "", na, &t)
	return t, err
}

func (c *HTTPClient) Attempt(ctx context.Context, quizID int64, token string) (quiz.Attempt, error) {
	var a quiz.Attempt
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/quizzes/%d/attempt/", quizID), token, nil, &a)
	return a, err
}

func (c *HTTPClient) UpdateResponses(ctx context.Context, quizID int64, token string, r quiz.Responses) (quiz.Ack, error) {
	var ack quiz.Ack
	body := map[string]quiz.Responses{"responses": r}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/quizzes/%d/update_responses/", quizID), token, body, &ack)
	return ack, err
}

func (c *HTTPClient) Submit(ctx context.Context, quizID int64, token string, sub quiz.Submission) (SubmitResult, error) {
	var res SubmitResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/quizzes/%d/submit_quiz/", quizID), token, sub, &res)
	return res, err
}

func (c *HTTPClient) do(ctx context.Context, method, path, token string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encoding request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transientError{cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transientError{cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "decoding response")
}

// decodeError reads the {"error": ...} and {field: message} bodies the server answers with.
func decodeError(code int, data []byte) error {
	ae := &APIError{StatusCode: code, Message: http.StatusText(code)}

	var body struct {
		Error   string        `json:"error"`
		Message string        `json:"message"`
		Status  quiz.Status   `json:"status"`
		Quiz    *quiz.Preview `json:"quiz"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		if msg := strings.TrimSpace(string(data)); msg != "" {
			ae.Message = msg
		}
		return ae
	}
	switch {
	case body.Error != "":
		ae.Message = body.Error
	case body.Message != "":
		ae.Message = body.Message
	default:
		var fields map[string]string
		if json.Unmarshal(data, &fields) == nil && len(fields) > 0 {
			msgs := make([]string, 0, len(fields))
			for f, m := range fields {
				msgs = append(msgs, f+": "+m)
			}
			sort.Strings(msgs)
			ae.Message = strings.Join(msgs, "; ")
		}
	}
	ae.Status = body.Status
	if body.Quiz != nil && body.Quiz.ID != 0 {
		ae.Preview = body.Quiz
	}
	return ae
}
