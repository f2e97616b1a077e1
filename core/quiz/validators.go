package quiz

import (
	"crypto/rand"
	"math/big"
	"regexp"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/clubhub/core"
)

var (
	joinCodeTag   = "joincode"
	joinCodeText  = "join code must be 4 to 20 letters, digits, '-' or '_'"
	joinCodeRegex = regexp.MustCompile(`^[A-Z0-9_-]{4,20}$`)

	qTypeTag  = "qtype"
	qTypeText = "question type must be one of MCQ, MSQ, SHORT or LONG"

	windowTag  = "window"
	windowText = "closes_at must be after opens_at"

	// no 0/O, 1/I/L
	joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	joinCodeLen      = 8
)

// InitValidators registers the quiz validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(joinCodeTag, joinCodeValidation)
	core.RegisterCustomTranslation(validate, translator, joinCodeTag, joinCodeText)

	_ = validate.RegisterValidation(qTypeTag, questionTypeValidation)
	core.RegisterCustomTranslation(validate, translator, qTypeTag, qTypeText)

	validate.RegisterStructValidation(quizWindowValidation, NewQuiz{}, UpdateQuiz{})
	core.RegisterCustomTranslation(validate, translator, windowTag, windowText)
}

func joinCodeValidation(fl validator.FieldLevel) bool {
	return joinCodeRegex.MatchString(fl.Field().String())
}

func questionTypeValidation(fl validator.FieldLevel) bool {
	switch QuestionType(fl.Field().String()) {
	case SingleChoice, MultiChoice, ShortText, LongText:
		return true
	}
	return false
}

func quizWindowValidation(sl validator.StructLevel) {
	switch q := sl.Current().Interface().(type) {
	case NewQuiz:
		if q.OpensAt != nil && q.ClosesAt != nil && !q.ClosesAt.After(*q.OpensAt) {
			sl.ReportError(q.ClosesAt, "closes_at", "ClosesAt", windowTag, "")
		}
	case UpdateQuiz:
		if q.OpensAt != nil && q.ClosesAt != nil && !q.ClosesAt.After(*q.OpensAt) {
			sl.ReportError(q.ClosesAt, "closes_at", "ClosesAt", windowTag, "")
		}
	}
}

// generateJoinCode returns a random code from an alphabet without look-alike characters.
func generateJoinCode() (string, error) {
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	code := make([]byte, joinCodeLen)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = joinCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
