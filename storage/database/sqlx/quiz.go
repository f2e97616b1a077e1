package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
)

const (
	quizColumns = `id, title, description, instructions, join_code, duration_minutes, is_active, is_public,
		auto_submit_on_tab_switch, require_fullscreen, disable_right_click, default_marks, default_negative_marks,
		opens_at, closes_at, created_by, created_at, updated_at`
	questionColumns = `id, quiz_id, text, question_type, marks, negative_marks, "order"`
	optionColumns   = `id, question_id, text, is_correct, "order"`
)

var quizOrderings = map[string]string{
	"id":         "id",
	"title":      "title",
	"join_code":  "join_code",
	"is_active":  "is_active",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

type quizRow struct {
	ID                    int64       `db:"id"`
	Title                 string      `db:"title"`
	Description           string      `db:"description"`
	Instructions          string      `db:"instructions"`
	JoinCode              string      `db:"join_code"`
	DurationMinutes       int         `db:"duration_minutes"`
	IsActive              bool        `db:"is_active"`
	IsPublic              bool        `db:"is_public"`
	AutoSubmitOnTabSwitch bool        `db:"auto_submit_on_tab_switch"`
	RequireFullscreen     bool        `db:"require_fullscreen"`
	DisableRightClick     bool        `db:"disable_right_click"`
	DefaultMarks          float64     `db:"default_marks"`
	DefaultNegativeMarks  float64     `db:"default_negative_marks"`
	OpensAt               null.Time   `db:"opens_at"`
	ClosesAt              null.Time   `db:"closes_at"`
	CreatedBy             null.String `db:"created_by"`
	CreatedAt             time.Time   `db:"created_at"`
	UpdatedAt             time.Time   `db:"updated_at"`
}

func toQuizRow(q quiz.Quiz) quizRow {
	return quizRow{
		ID:                    q.ID,
		Title:                 q.Title,
		Description:           q.Description,
		Instructions:          q.Instructions,
		JoinCode:              q.JoinCode,
		DurationMinutes:       q.DurationMinutes,
		IsActive:              q.IsActive,
		IsPublic:              q.IsPublic,
		AutoSubmitOnTabSwitch: q.AutoSubmitOnTabSwitch,
		RequireFullscreen:     q.RequireFullscreen,
		DisableRightClick:     q.DisableRightClick,
		DefaultMarks:          q.DefaultMarks,
		DefaultNegativeMarks:  q.DefaultNegativeMarks,
		OpensAt:               null.TimeFromPtr(q.OpensAt),
		ClosesAt:              null.TimeFromPtr(q.ClosesAt),
		CreatedBy:             null.NewString(q.CreatedBy, q.CreatedBy != ""),
		CreatedAt:             q.CreatedAt.UTC(),
		UpdatedAt:             q.UpdatedAt.UTC(),
	}
}

func (r quizRow) toQuiz() quiz.Quiz {
	q := quiz.Quiz{
		ID:                    r.ID,
		Title:                 r.Title,
		Description:           r.Description,
		Instructions:          r.Instructions,
		JoinCode:              r.JoinCode,
		DurationMinutes:       r.DurationMinutes,
		IsActive:              r.IsActive,
		IsPublic:              r.IsPublic,
		AutoSubmitOnTabSwitch: r.AutoSubmitOnTabSwitch,
		RequireFullscreen:     r.RequireFullscreen,
		DisableRightClick:     r.DisableRightClick,
		DefaultMarks:          r.DefaultMarks,
		DefaultNegativeMarks:  r.DefaultNegativeMarks,
		CreatedBy:             r.CreatedBy.String,
		CreatedAt:             r.CreatedAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
		Questions:             []quiz.Question{},
	}
	if r.OpensAt.Valid {
		t := r.OpensAt.Time.UTC()
		q.OpensAt = &t
	}
	if r.ClosesAt.Valid {
		t := r.ClosesAt.Time.UTC()
		q.ClosesAt = &t
	}
	return q
}

type questionRow struct {
	ID            int64   `db:"id"`
	QuizID        int64   `db:"quiz_id"`
	Text          string  `db:"text"`
	Type          string  `db:"question_type"`
	Marks         float64 `db:"marks"`
	NegativeMarks float64 `db:"negative_marks"`
	Order         int     `db:"order"`
}

func (r questionRow) toQuestion() quiz.Question {
	return quiz.Question{
		ID:            r.ID,
		QuizID:        r.QuizID,
		Text:          r.Text,
		Type:          quiz.QuestionType(r.Type),
		Marks:         r.Marks,
		NegativeMarks: r.NegativeMarks,
		Order:         r.Order,
		Options:       []quiz.Option{},
	}
}

type optionRow struct {
	ID         int64  `db:"id"`
	QuestionID int64  `db:"question_id"`
	Text       string `db:"text"`
	IsCorrect  bool   `db:"is_correct"`
	Order      int    `db:"order"`
}

func (r optionRow) toOption() quiz.Option {
	return quiz.Option{ID: r.ID, QuestionID: r.QuestionID, Text: r.Text, IsCorrect: r.IsCorrect, Order: r.Order}
}

type quizRepository struct {
	db *sqlx.DB
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *sqlx.DB) quiz.Repository {
	return &quizRepository{db: db}
}

// Quizzes

func (repo *quizRepository) CreateQuiz(ctx context.Context, q quiz.Quiz) (quiz.Quiz, error) {
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		row := toQuizRow(q)
		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO quiz (title, description, instructions, join_code, duration_minutes, is_active, is_public,
				auto_submit_on_tab_switch, require_fullscreen, disable_right_click, default_marks, default_negative_marks,
				opens_at, closes_at, created_by, created_at, updated_at)
			VALUES (:title, :description, :instructions, :join_code, :duration_minutes, :is_active, :is_public,
				:auto_submit_on_tab_switch, :require_fullscreen, :disable_right_click, :default_marks, :default_negative_marks,
				:opens_at, :closes_at, :created_by, :created_at, :updated_at)
			RETURNING id`)
		if err != nil {
			return errors.Wrap(err, "preparing quiz insert")
		}
		defer func() { _ = stmt.Close() }()

		if err = stmt.GetContext(ctx, &q.ID, row); err != nil {
			if constraint, ok := uniqueConstraint(err); ok && constraint == "quiz_join_code_key" {
				return quiz.ErrJoinCodeExists
			}
			return errors.Wrap(err, "inserting quiz")
		}
		for i := range q.Questions {
			q.Questions[i].QuizID = q.ID
			if q.Questions[i], err = insertQuestion(ctx, tx, q.Questions[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return quiz.Quiz{}, err
	}
	if q.Questions == nil {
		q.Questions = []quiz.Question{}
	}
	return q, nil
}

func (repo *quizRepository) UpdateQuiz(ctx context.Context, q quiz.Quiz) (quiz.Quiz, error) {
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE quiz SET title = :title, description = :description, instructions = :instructions,
			join_code = :join_code, duration_minutes = :duration_minutes, is_active = :is_active, is_public = :is_public,
			auto_submit_on_tab_switch = :auto_submit_on_tab_switch, require_fullscreen = :require_fullscreen,
			disable_right_click = :disable_right_click, default_marks = :default_marks,
			default_negative_marks = :default_negative_marks, opens_at = :opens_at, closes_at = :closes_at,
			updated_at = :updated_at
		WHERE id = :id`,
		toQuizRow(q))
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok && constraint == "quiz_join_code_key" {
			return quiz.Quiz{}, quiz.ErrJoinCodeExists
		}
		return quiz.Quiz{}, errors.Wrap(err, "updating quiz")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return quiz.Quiz{}, quiz.ErrQuizNotFound
	}
	return q, nil
}

func (repo *quizRepository) DeleteQuiz(ctx context.Context, id int64) error {
	return deleteByID(ctx, repo.db, "quiz", id, quiz.ErrQuizNotFound)
}

func (repo *quizRepository) GetQuiz(ctx context.Context, id int64) (quiz.Quiz, error) {
	var row quizRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+quizColumns+" FROM quiz WHERE id = $1", id); err != nil {
		return quiz.Quiz{}, trapNoRowsErr(err, quiz.ErrQuizNotFound, "getting quiz")
	}
	q := row.toQuiz()

	var qnRows []questionRow
	err := repo.db.SelectContext(ctx, &qnRows,
		"SELECT "+questionColumns+` FROM question WHERE quiz_id = $1 ORDER BY "order", id`, id)
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "getting questions")
	}
	var optRows []optionRow
	err = repo.db.SelectContext(ctx, &optRows, `
		SELECT o.id, o.question_id, o.text, o.is_correct, o."order"
		FROM option o JOIN question qn ON qn.id = o.question_id
		WHERE qn.quiz_id = $1
		ORDER BY o.question_id, o."order", o.id`, id)
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "getting options")
	}

	options := make(map[int64][]quiz.Option, len(qnRows))
	for _, o := range optRows {
		options[o.QuestionID] = append(options[o.QuestionID], o.toOption())
	}
	q.Questions = make([]quiz.Question, 0, len(qnRows))
	for _, r := range qnRows {
		qn := r.toQuestion()
		if opts, ok := options[qn.ID]; ok {
			qn.Options = opts
		}
		q.Questions = append(q.Questions, qn)
	}
	return q, nil
}

func (repo *quizRepository) GetQuizIDByCode(ctx context.Context, code string) (int64, error) {
	var id int64
	if err := repo.db.GetContext(ctx, &id, "SELECT id FROM quiz WHERE join_code = $1", code); err != nil {
		return 0, trapNoRowsErr(err, quiz.ErrQuizNotFound, "getting quiz by code")
	}
	return id, nil
}

func (repo *quizRepository) QueryQuizzes(ctx context.Context, filter *quiz.QuizFilter, ordering []core.DBOrdering) ([]quiz.Quiz, error) {
	var w whereClause
	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("title ILIKE ? OR join_code ILIKE ?", val, val)
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
	}

	q := "SELECT " + quizColumns + " FROM quiz" + w.String() + orderBy(ordering, quizOrderings, "created_at DESC, id DESC")
	var rows []quizRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying quizzes")
	}
	quizzes := make([]quiz.Quiz, 0, len(rows))
	for _, r := range rows {
		quizzes = append(quizzes, r.toQuiz())
	}
	return quizzes, nil
}

// Questions

func insertQuestion(ctx context.Context, tx *sqlx.Tx, qn quiz.Question) (quiz.Question, error) {
	err := tx.GetContext(ctx, &qn.ID, `
		INSERT INTO question (quiz_id, text, question_type, marks, negative_marks, "order")
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		qn.QuizID, qn.Text, string(qn.Type), qn.Marks, qn.NegativeMarks, qn.Order)
	if err != nil {
		return quiz.Question{}, errors.Wrap(err, "inserting question")
	}
	for i := range qn.Options {
		qn.Options[i].QuestionID = qn.ID
		if qn.Options[i], err = insertOption(ctx, tx, qn.Options[i]); err != nil {
			return quiz.Question{}, err
		}
	}
	if qn.Options == nil {
		qn.Options = []quiz.Option{}
	}
	return qn, nil
}

func (repo *quizRepository) CreateQuestion(ctx context.Context, qn quiz.Question) (quiz.Question, error) {
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var err error
		qn, err = insertQuestion(ctx, tx, qn)
		return err
	})
	if err != nil {
		return quiz.Question{}, err
	}
	return qn, nil
}

func (repo *quizRepository) GetQuestion(ctx context.Context, id int64) (quiz.Question, error) {
	var row questionRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+questionColumns+" FROM question WHERE id = $1", id); err != nil {
		return quiz.Question{}, trapNoRowsErr(err, quiz.ErrQuestionNotFound, "getting question")
	}
	qn := row.toQuestion()

	var optRows []optionRow
	err := repo.db.SelectContext(ctx, &optRows,
		"SELECT "+optionColumns+` FROM option WHERE question_id = $1 ORDER BY "order", id`, id)
	if err != nil {
		return quiz.Question{}, errors.Wrap(err, "getting options")
	}
	for _, o := range optRows {
		qn.Options = append(qn.Options, o.toOption())
	}
	return qn, nil
}

func (repo *quizRepository) UpdateQuestion(ctx context.Context, qn quiz.Question) (quiz.Question, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE question SET text = $2, question_type = $3, marks = $4, negative_marks = $5, "order" = $6
		WHERE id = $1`,
		qn.ID, qn.Text, string(qn.Type), qn.Marks, qn.NegativeMarks, qn.Order)
	if err != nil {
		return quiz.Question{}, errors.Wrap(err, "updating question")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return quiz.Question{}, quiz.ErrQuestionNotFound
	}
	return qn, nil
}

func (repo *quizRepository) DeleteQuestion(ctx context.Context, id int64) error {
	return deleteByID(ctx, repo.db, "question", id, quiz.ErrQuestionNotFound)
}

// Options

func insertOption(ctx context.Context, tx *sqlx.Tx, opt quiz.Option) (quiz.Option, error) {
	err := tx.GetContext(ctx, &opt.ID, `
		INSERT INTO option (question_id, text, is_correct, "order") VALUES ($1, $2, $3, $4) RETURNING id`,
		opt.QuestionID, opt.Text, opt.IsCorrect, opt.Order)
	if err != nil {
		return quiz.Option{}, errors.Wrap(err, "inserting option")
	}
	return opt, nil
}

func (repo *quizRepository) CreateOption(ctx context.Context, opt quiz.Option) (quiz.Option, error) {
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var err error
		opt, err = insertOption(ctx, tx, opt)
		return err
	})
	if err != nil {
		return quiz.Option{}, err
	}
	return opt, nil
}

func (repo *quizRepository) GetOption(ctx context.Context, id int64) (quiz.Option, error) {
	var row optionRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+optionColumns+" FROM option WHERE id = $1", id); err != nil {
		return quiz.Option{}, trapNoRowsErr(err, quiz.ErrOptionNotFound, "getting option")
	}
	return row.toOption(), nil
}

func (repo *quizRepository) UpdateOption(ctx context.Context, opt quiz.Option) (quiz.Option, error) {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE option SET text = $2, is_correct = $3, "order" = $4 WHERE id = $1`,
		opt.ID, opt.Text, opt.IsCorrect, opt.Order)
	if err != nil {
		return quiz.Option{}, errors.Wrap(err, "updating option")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return quiz.Option{}, quiz.ErrOptionNotFound
	}
	return opt, nil
}

func (repo *quizRepository) DeleteOption(ctx context.Context, id int64) error {
	return deleteByID(ctx, repo.db, "option", id, quiz.ErrOptionNotFound)
}

// deleteByID deletes a row of table by its ID. table must be a trusted identifier.
func deleteByID(ctx context.Context, db *sqlx.DB, table string, id int64, notFound error) error {
	res, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return errors.Wrapf(err, "deleting %s", table)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound
	}
	return nil
}
