package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"lrnr-quiz-service/internal/app"
	"lrnr-quiz-service/internal/domain"
)

const accountColumns = `user_id, username, credential, experience, level, streak, last_activity_date, created_at`

// Store is the production app.ProgressStore. Submissions lock the account row with
// SELECT ... FOR UPDATE, so writers for one user serialize while other users proceed.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func (s *Store) CreateAccount(ctx context.Context, in domain.NewAccount) (domain.Account, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (user_id, username, credential)
		VALUES ($1, $2, $3)
		RETURNING `+accountColumns, in.UserID, in.Username, in.Credential)
	account, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Account{}, domain.ErrUsernameTaken
		}
		return domain.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (domain.Account, error) {
	return getAccount(ctx, s.pool, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (domain.Account, error) {
	return getAccount(ctx, s.pool, `SELECT `+accountColumns+` FROM accounts WHERE lower(username) = lower($1)`, username)
}

func (s *Store) GetScore(ctx context.Context, key domain.ScoreKey) (domain.ScoreRecord, bool, error) {
	return getScore(ctx, s.pool, key)
}

func (s *Store) ListScores(ctx context.Context, userID string) ([]domain.ScoreRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT topic, expertise, num_questions, best_score
		FROM scores WHERE user_id = $1
		ORDER BY topic, expertise, num_questions`, userID)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	defer rows.Close()

	out := []domain.ScoreRecord{}
	for rows.Next() {
		rec := domain.ScoreRecord{ScoreKey: domain.ScoreKey{UserID: userID}}
		var expertise string
		if err := rows.Scan(&rec.Topic, &expertise, &rec.NumQuestions, &rec.BestScore); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		rec.Expertise = domain.Expertise(expertise)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) TopAccounts(ctx context.Context, q app.RankQuery) ([]domain.Account, error) {
	order := "experience"
	if q.Kind == domain.LeaderboardStreak {
		order = "streak"
	}
	var since *time.Time
	if !q.ActiveSince.IsZero() {
		t := q.ActiveSince.Time()
		since = &t
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE $1::date IS NULL OR last_activity_date >= $1::date
		ORDER BY `+order+` DESC, username
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("rank accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, userID string, fn func(tx app.ProgressTx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if err == nil {
			return
		}
		// ctx may already be done; the rollback still has to reach the server.
		rbCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tx.Rollback(rbCtx)
	}()

	account, err := getAccount(ctx, tx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 FOR UPDATE`, userID)
	if err != nil {
		return mapError(err)
	}
	if err = fn(&progressTx{tx: tx, account: account}); err != nil {
		return mapError(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

type progressTx struct {
	tx      pgx.Tx
	account domain.Account
}

func (t *progressTx) Account() domain.Account {
	return t.account
}

func (t *progressTx) GetScore(ctx context.Context, key domain.ScoreKey) (domain.ScoreRecord, bool, error) {
	return getScore(ctx, t.tx, key)
}

func (t *progressTx) UpsertScoreIfGreater(ctx context.Context, key domain.ScoreKey, score int) (domain.ScoreRecord, error) {
	rec := domain.ScoreRecord{ScoreKey: key}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO scores (user_id, topic, expertise, num_questions, best_score)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, topic, expertise, num_questions)
		DO UPDATE SET best_score = GREATEST(scores.best_score, EXCLUDED.best_score),
		              updated_at = CASE WHEN EXCLUDED.best_score > scores.best_score THEN now() ELSE scores.updated_at END
		RETURNING best_score`,
		key.UserID, key.Topic, string(key.Expertise), key.NumQuestions, score,
	).Scan(&rec.BestScore)
	if err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("upsert score: %w", err)
	}
	return rec, nil
}

func (t *progressTx) UpdateAccount(ctx context.Context, p domain.Progress) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE accounts
		SET experience = $2, level = $3, streak = $4, last_activity_date = $5
		WHERE user_id = $1`,
		t.account.UserID, p.Experience, p.Level, p.Streak, p.LastActivity.Time())
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *progressTx) LookupReceipt(ctx context.Context, submissionID string) (domain.SubmitResult, bool, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx, `
		SELECT result FROM submission_receipts WHERE user_id = $1 AND submission_id = $2`,
		t.account.UserID, submissionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SubmitResult{}, false, nil
	}
	if err != nil {
		return domain.SubmitResult{}, false, fmt.Errorf("lookup receipt: %w", err)
	}
	var res domain.SubmitResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.SubmitResult{}, false, fmt.Errorf("decode receipt: %w", err)
	}
	return res, true, nil
}

func (t *progressTx) SaveReceipt(ctx context.Context, submissionID string, result domain.SubmitResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO submission_receipts (user_id, submission_id, result) VALUES ($1, $2, $3)`,
		t.account.UserID, submissionID, raw)
	if err != nil {
		return fmt.Errorf("save receipt: %w", err)
	}
	return nil
}

func getAccount(ctx context.Context, q querier, sql string, arg string) (domain.Account, error) {
	account, err := scanAccount(q.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("load account: %w", err)
	}
	return account, nil
}

func getScore(ctx context.Context, q querier, key domain.ScoreKey) (domain.ScoreRecord, bool, error) {
	rec := domain.ScoreRecord{ScoreKey: key}
	err := q.QueryRow(ctx, `
		SELECT best_score FROM scores
		WHERE user_id = $1 AND topic = $2 AND expertise = $3 AND num_questions = $4`,
		key.UserID, key.Topic, string(key.Expertise), key.NumQuestions).Scan(&rec.BestScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScoreRecord{}, false, nil
	}
	if err != nil {
		return domain.ScoreRecord{}, false, fmt.Errorf("load score: %w", err)
	}
	return rec, true, nil
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		a    domain.Account
		last *time.Time
	)
	if err := row.Scan(&a.UserID, &a.Username, &a.Credential, &a.Experience, &a.Level, &a.Streak, &last, &a.CreatedAt); err != nil {
		return domain.Account{}, err
	}
	if last != nil {
		d := domain.DateOf(*last, time.UTC)
		a.LastActivity = &d
	}
	return a, nil
}

// mapError turns serialization failures and deadlocks into domain.ErrConflict so the engine
// retries them.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.Message)
		}
	}
	return err
}
