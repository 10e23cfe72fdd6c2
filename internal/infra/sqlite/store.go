package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"lrnr-quiz-service/internal/app"
	"lrnr-quiz-service/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id            TEXT PRIMARY KEY,
	username           TEXT NOT NULL UNIQUE COLLATE NOCASE,
	credential         TEXT NOT NULL,
	experience         INTEGER NOT NULL DEFAULT 0,
	level              INTEGER NOT NULL DEFAULT 1,
	streak             INTEGER NOT NULL DEFAULT 0,
	last_activity_date TEXT,
	created_at         TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS scores (
	user_id       TEXT NOT NULL REFERENCES accounts (user_id),
	topic         TEXT NOT NULL,
	expertise     TEXT NOT NULL,
	num_questions INTEGER NOT NULL,
	best_score    INTEGER NOT NULL,
	PRIMARY KEY (user_id, topic, expertise, num_questions)
);

CREATE TABLE IF NOT EXISTS submission_receipts (
	user_id       TEXT NOT NULL REFERENCES accounts (user_id),
	submission_id TEXT NOT NULL,
	result        TEXT NOT NULL,
	PRIMARY KEY (user_id, submission_id)
);
`

const accountColumns = `user_id, username, credential, experience, level, streak, last_activity_date, created_at`

// Store is a single-file app.ProgressStore for development and single-node installs. Every
// transaction starts with BEGIN IMMEDIATE, so writers serialize database-wide.
type Store struct {
	db    *sqlx.DB
	clock func() time.Time
}

// Open connects to the database at path, creating the file and schema when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	// One writer at a time; a single connection avoids SQLITE_BUSY between our own conns.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type accountRow struct {
	UserID       string         `db:"user_id"`
	Username     string         `db:"username"`
	Credential   string         `db:"credential"`
	Experience   int            `db:"experience"`
	Level        int            `db:"level"`
	Streak       int            `db:"streak"`
	LastActivity sql.NullString `db:"last_activity_date"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r accountRow) toDomain() (domain.Account, error) {
	a := domain.Account{
		UserID:     r.UserID,
		Username:   r.Username,
		Credential: r.Credential,
		Experience: r.Experience,
		Level:      r.Level,
		Streak:     r.Streak,
		CreatedAt:  r.CreatedAt,
	}
	if r.LastActivity.Valid && r.LastActivity.String != "" {
		d, err := domain.ParseDate(r.LastActivity.String)
		if err != nil {
			return domain.Account{}, fmt.Errorf("parse last_activity_date: %w", err)
		}
		a.LastActivity = &d
	}
	return a, nil
}

type scoreRow struct {
	Topic        string `db:"topic"`
	Expertise    string `db:"expertise"`
	NumQuestions int    `db:"num_questions"`
	BestScore    int    `db:"best_score"`
}

func (s *Store) CreateAccount(ctx context.Context, in domain.NewAccount) (domain.Account, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, username, credential, created_at) VALUES (?, ?, ?, ?)`,
		in.UserID, in.Username, in.Credential, s.clock().UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return domain.Account{}, domain.ErrUsernameTaken
		}
		return domain.Account{}, fmt.Errorf("insert account: %w", mapError(err))
	}
	return s.GetAccount(ctx, in.UserID)
}

func (s *Store) GetAccount(ctx context.Context, userID string) (domain.Account, error) {
	return getAccount(ctx, s.db, `SELECT `+accountColumns+` FROM accounts WHERE user_id = ?`, userID)
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (domain.Account, error) {
	return getAccount(ctx, s.db, `SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
}

func (s *Store) GetScore(ctx context.Context, key domain.ScoreKey) (domain.ScoreRecord, bool, error) {
	return getScore(ctx, s.db, key)
}

func (s *Store) ListScores(ctx context.Context, userID string) ([]domain.ScoreRecord, error) {
	var rows []scoreRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT topic, expertise, num_questions, best_score FROM scores
		WHERE user_id = ? ORDER BY topic, expertise, num_questions`, userID)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", mapError(err))
	}
	out := make([]domain.ScoreRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ScoreRecord{
			ScoreKey: domain.ScoreKey{
				UserID:       userID,
				Topic:        r.Topic,
				Expertise:    domain.Expertise(r.Expertise),
				NumQuestions: r.NumQuestions,
			},
			BestScore: r.BestScore,
		})
	}
	return out, nil
}

func (s *Store) TopAccounts(ctx context.Context, q app.RankQuery) ([]domain.Account, error) {
	order := "experience"
	if q.Kind == domain.LeaderboardStreak {
		order = "streak"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+accountColumns+` FROM accounts
		WHERE ? = '' OR last_activity_date >= ?
		ORDER BY `+order+` DESC, username
		LIMIT ?`, q.ActiveSince.String(), q.ActiveSince.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("rank accounts: %w", mapError(err))
	}
	out := make([]domain.Account, 0, len(rows))
	for _, r := range rows {
		a, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, userID string, fn func(tx app.ProgressTx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	account, err := getAccount(ctx, tx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = ?`, userID)
	if err != nil {
		return err
	}
	if err = fn(&progressTx{tx: tx, account: account}); err != nil {
		return mapError(err)
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

type progressTx struct {
	tx      *sqlx.Tx
	account domain.Account
}

func (t *progressTx) Account() domain.Account {
	return t.account
}

func (t *progressTx) GetScore(ctx context.Context, key domain.ScoreKey) (domain.ScoreRecord, bool, error) {
	return getScore(ctx, t.tx, key)
}

func (t *progressTx) UpsertScoreIfGreater(ctx context.Context, key domain.ScoreKey, score int) (domain.ScoreRecord, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO scores (user_id, topic, expertise, num_questions, best_score)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, topic, expertise, num_questions)
		DO UPDATE SET best_score = MAX(best_score, excluded.best_score)`,
		key.UserID, key.Topic, string(key.Expertise), key.NumQuestions, score)
	if err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("upsert score: %w", err)
	}
	rec, _, err := getScore(ctx, t.tx, key)
	return rec, err
}

func (t *progressTx) UpdateAccount(ctx context.Context, p domain.Progress) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE accounts SET experience = ?, level = ?, streak = ?, last_activity_date = ?
		WHERE user_id = ?`,
		p.Experience, p.Level, p.Streak, p.LastActivity.String(), t.account.UserID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *progressTx) LookupReceipt(ctx context.Context, submissionID string) (domain.SubmitResult, bool, error) {
	var raw string
	err := t.tx.GetContext(ctx, &raw,
		`SELECT result FROM submission_receipts WHERE user_id = ? AND submission_id = ?`,
		t.account.UserID, submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SubmitResult{}, false, nil
	}
	if err != nil {
		return domain.SubmitResult{}, false, fmt.Errorf("lookup receipt: %w", err)
	}
	var res domain.SubmitResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return domain.SubmitResult{}, false, fmt.Errorf("decode receipt: %w", err)
	}
	return res, true, nil
}

func (t *progressTx) SaveReceipt(ctx context.Context, submissionID string, result domain.SubmitResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO submission_receipts (user_id, submission_id, result) VALUES (?, ?, ?)`,
		t.account.UserID, submissionID, string(raw))
	if err != nil {
		return fmt.Errorf("save receipt: %w", err)
	}
	return nil
}

func getAccount(ctx context.Context, q sqlx.QueryerContext, query, arg string) (domain.Account, error) {
	var row accountRow
	err := sqlx.GetContext(ctx, q, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("load account: %w", mapError(err))
	}
	return row.toDomain()
}

func getScore(ctx context.Context, q sqlx.QueryerContext, key domain.ScoreKey) (domain.ScoreRecord, bool, error) {
	rec := domain.ScoreRecord{ScoreKey: key}
	err := sqlx.GetContext(ctx, q, &rec.BestScore, `
		SELECT best_score FROM scores
		WHERE user_id = ? AND topic = ? AND expertise = ? AND num_questions = ?`,
		key.UserID, key.Topic, string(key.Expertise), key.NumQuestions)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScoreRecord{}, false, nil
	}
	if err != nil {
		return domain.ScoreRecord{}, false, fmt.Errorf("load score: %w", mapError(err))
	}
	return rec, true, nil
}

// mapError reports lock contention as domain.ErrConflict.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %s", domain.ErrConflict, sqliteErr.Error())
	}
	return err
}
