package app

import (
	"context"

	"lrnr-quiz-service/internal/domain"
)

// ProgressTx is the view of one account inside a store transaction. The account row is locked
// for the lifetime of the transaction; nothing written through it is visible to other readers
// until the surrounding Update commits.
type ProgressTx interface {
	// Account returns the locked account as read at the start of the transaction.
	Account() domain.Account
	GetScore(ctx context.Context, key domain.ScoreKey) (domain.ScoreRecord, bool, error)
	// UpsertScoreIfGreater inserts the record or raises best_score to score when score is higher,
	// returning the stored record.
	UpsertScoreIfGreater(ctx context.Context, key domain.ScoreKey, score int) (domain.ScoreRecord, error)
	UpdateAccount(ctx context.Context, progress domain.Progress) error
	LookupReceipt(ctx context.Context, submissionID string) (domain.SubmitResult, bool, error)
	SaveReceipt(ctx context.Context, submissionID string, result domain.SubmitResult) error
}

// RankQuery selects accounts for a leaderboard rebuild.
type RankQuery struct {
	Kind  domain.LeaderboardKind
	Limit int
	// ActiveSince, when set, drops accounts whose last activity is earlier.
	ActiveSince domain.Date
}

// ProgressStore persists accounts and the score ledger.
type ProgressStore interface {
	CreateAccount(ctx context.Context, account domain.NewAccount) (domain.Account, error)
	GetAccount(ctx context.Context, userID string) (domain.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (domain.Account, error)
	GetScore(ctx context.Context, key domain.ScoreKey) (domain.ScoreRecord, bool, error)
	ListScores(ctx context.Context, userID string) ([]domain.ScoreRecord, error)
	TopAccounts(ctx context.Context, q RankQuery) ([]domain.Account, error)

	// Update locks the account, runs fn and commits only if fn returns nil. Any error, a
	// cancelled ctx included, rolls back every write made through the tx. Returns
	// domain.ErrNotFound when the account does not exist and domain.ErrConflict when the
	// store aborted the transaction because of a concurrent writer.
	Update(ctx context.Context, userID string, fn func(tx ProgressTx) error) error
}
