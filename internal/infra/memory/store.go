package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"lrnr-quiz-service/internal/app"
	"lrnr-quiz-service/internal/domain"
)

// Store is an in-memory app.ProgressStore. Writes made inside Update are staged on the
// transaction and copied into the maps only when fn succeeds.
type Store struct {
	clock func() time.Time

	locks sync.Map // user id -> *sync.Mutex

	mu         sync.RWMutex
	accounts   map[string]domain.Account
	usernames  map[string]string
	scores     map[domain.ScoreKey]int
	receipts   map[string]domain.SubmitResult
	byUserKeys map[string][]domain.ScoreKey
}

func NewStore() *Store {
	return &Store{
		clock:      time.Now,
		accounts:   make(map[string]domain.Account),
		usernames:  make(map[string]string),
		scores:     make(map[domain.ScoreKey]int),
		receipts:   make(map[string]domain.SubmitResult),
		byUserKeys: make(map[string][]domain.ScoreKey),
	}
}

func (s *Store) CreateAccount(_ context.Context, in domain.NewAccount) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := strings.ToLower(in.Username)
	if _, ok := s.usernames[name]; ok {
		return domain.Account{}, domain.ErrUsernameTaken
	}
	account := domain.Account{
		UserID:     in.UserID,
		Username:   in.Username,
		Credential: in.Credential,
		Level:      1,
		CreatedAt:  s.clock().UTC(),
	}
	s.accounts[in.UserID] = account
	s.usernames[name] = in.UserID
	return account, nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[userID]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return account, nil
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (domain.Account, error) {
	s.mu.RLock()
	id, ok := s.usernames[strings.ToLower(username)]
	s.mu.RUnlock()
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return s.GetAccount(ctx, id)
}

func (s *Store) GetScore(_ context.Context, key domain.ScoreKey) (domain.ScoreRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best, ok := s.scores[key]
	if !ok {
		return domain.ScoreRecord{}, false, nil
	}
	return domain.ScoreRecord{ScoreKey: key, BestScore: best}, true, nil
}

func (s *Store) ListScores(_ context.Context, userID string) ([]domain.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.byUserKeys[userID]
	out := make([]domain.ScoreRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.ScoreRecord{ScoreKey: k, BestScore: s.scores[k]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		if out[i].Expertise != out[j].Expertise {
			return out[i].Expertise < out[j].Expertise
		}
		return out[i].NumQuestions < out[j].NumQuestions
	})
	return out, nil
}

func (s *Store) TopAccounts(_ context.Context, q app.RankQuery) ([]domain.Account, error) {
	s.mu.RLock()
	accounts := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if !q.ActiveSince.IsZero() && (a.LastActivity == nil || a.LastActivity.Before(q.ActiveSince)) {
			continue
		}
		accounts = append(accounts, a)
	}
	s.mu.RUnlock()

	value := func(a domain.Account) int {
		if q.Kind == domain.LeaderboardStreak {
			return a.Streak
		}
		return a.Experience
	}
	sort.Slice(accounts, func(i, j int) bool {
		vi, vj := value(accounts[i]), value(accounts[j])
		if vi != vj {
			return vi > vj
		}
		return accounts[i].Username < accounts[j].Username
	})
	if q.Limit > 0 && len(accounts) > q.Limit {
		accounts = accounts[:q.Limit]
	}
	return accounts, nil
}

func (s *Store) Update(ctx context.Context, userID string, fn func(tx app.ProgressTx) error) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return err
	}

	tx := &storeTx{store: s, account: account, scores: make(map[domain.ScoreKey]int)}
	if err := fn(tx); err != nil {
		return err
	}
	// A deadline that passed while fn ran still aborts the commit.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) userLock(userID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (s *Store) commit(tx *storeTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, best := range tx.scores {
		if _, ok := s.scores[key]; !ok {
			s.byUserKeys[key.UserID] = append(s.byUserKeys[key.UserID], key)
		}
		s.scores[key] = best
	}
	if tx.progress != nil {
		s.accounts[tx.account.UserID] = tx.account.Apply(*tx.progress)
	}
	if tx.receiptID != "" {
		s.receipts[receiptKey(tx.account.UserID, tx.receiptID)] = tx.receipt
	}
}

type storeTx struct {
	store   *Store
	account domain.Account

	scores    map[domain.ScoreKey]int
	progress  *domain.Progress
	receiptID string
	receipt   domain.SubmitResult
}

func (t *storeTx) Account() domain.Account {
	return t.account
}

func (t *storeTx) GetScore(ctx context.Context, key domain.ScoreKey) (domain.ScoreRecord, bool, error) {
	if best, ok := t.scores[key]; ok {
		return domain.ScoreRecord{ScoreKey: key, BestScore: best}, true, nil
	}
	return t.store.GetScore(ctx, key)
}

func (t *storeTx) UpsertScoreIfGreater(ctx context.Context, key domain.ScoreKey, score int) (domain.ScoreRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScoreRecord{}, err
	}
	current, found, err := t.GetScore(ctx, key)
	if err != nil {
		return domain.ScoreRecord{}, err
	}
	if !found || score > current.BestScore {
		t.scores[key] = score
		return domain.ScoreRecord{ScoreKey: key, BestScore: score}, nil
	}
	return current, nil
}

func (t *storeTx) UpdateAccount(ctx context.Context, progress domain.Progress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.progress = &progress
	return nil
}

func (t *storeTx) LookupReceipt(_ context.Context, submissionID string) (domain.SubmitResult, bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	res, ok := t.store.receipts[receiptKey(t.account.UserID, submissionID)]
	return res, ok, nil
}

func (t *storeTx) SaveReceipt(_ context.Context, submissionID string, result domain.SubmitResult) error {
	t.receiptID = submissionID
	t.receipt = result
	return nil
}

func receiptKey(userID, submissionID string) string {
	return userID + "/" + submissionID
}
