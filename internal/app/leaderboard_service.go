package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lrnr-quiz-service/internal/config"
	"lrnr-quiz-service/internal/domain"
)

// LeaderboardStore holds the ranked boards (Redis sorted sets in production).
type LeaderboardStore interface {
	// Record writes the account's current experience and streak into both boards. Experience
	// never moves down.
	Record(ctx context.Context, account domain.Account) error
	Top(ctx context.Context, kind domain.LeaderboardKind, limit int) ([]domain.LeaderboardEntry, error)
	// Replace swaps a whole board for the given accounts.
	Replace(ctx context.Context, kind domain.LeaderboardKind, accounts []domain.Account) error
}

// LeaderboardService keeps the boards in step with committed submissions and rebuilds them
// from the progress store on a schedule.
type LeaderboardService struct {
	store  ProgressStore
	boards LeaderboardStore
	hub    *LeaderboardHub
	size   int
	zone   *time.Location
	now    func() time.Time

	locks sync.Map // user id -> *sync.Mutex
}

func NewLeaderboardService(store ProgressStore, boards LeaderboardStore, hub *LeaderboardHub, size int, zone *time.Location) *LeaderboardService {
	if size <= 0 {
		size = 10
	}
	if zone == nil {
		zone = time.UTC
	}
	return &LeaderboardService{store: store, boards: boards, hub: hub, size: size, zone: zone, now: time.Now}
}

// ParseKind maps a query value onto a board, defaulting to experience.
func ParseKind(raw string) (domain.LeaderboardKind, error) {
	switch domain.LeaderboardKind(raw) {
	case "", domain.LeaderboardExperience:
		return domain.LeaderboardExperience, nil
	case domain.LeaderboardStreak:
		return domain.LeaderboardStreak, nil
	}
	return "", fmt.Errorf("%w: unknown leaderboard %q", domain.ErrInvalidInput, raw)
}

func (s *LeaderboardService) Top(ctx context.Context, kind domain.LeaderboardKind, limit int) (domain.Leaderboard, error) {
	if limit <= 0 || limit > s.size {
		limit = s.size
	}
	entries, err := s.boards.Top(ctx, kind, limit)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return domain.Leaderboard{Kind: kind, Entries: entries, UpdatedAt: s.now().UTC()}, nil
}

// Subscribe opens a live feed for kind, starting with the current board.
func (s *LeaderboardService) Subscribe(ctx context.Context, kind domain.LeaderboardKind) (<-chan domain.Leaderboard, func(), error) {
	if s.hub == nil {
		return nil, nil, errors.New("leaderboard feed disabled")
	}
	current, err := s.Top(ctx, kind, s.size)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.Subscribe(current)
	return ch, cancel, nil
}

// OnCommit is registered as a ProgressService listener. Listeners of one user's commits may
// run in any order, so the account is re-read under a per-user lock instead of trusting the
// event snapshot.
func (s *LeaderboardService) OnCommit(ctx context.Context, ev CommitEvent) error {
	if err := s.record(ctx, ev.Account.UserID); err != nil {
		return err
	}
	return s.publish(ctx)
}

func (s *LeaderboardService) record(ctx context.Context, userID string) error {
	lock, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return fmt.Errorf("load account for leaderboard: %w", err)
	}
	return s.boards.Record(ctx, account)
}

// Rebuild repopulates both boards from the store. Streaks older than yesterday no longer count.
func (s *LeaderboardService) Rebuild(ctx context.Context) error {
	yesterday := domain.DateOf(s.now(), s.zone).AddDays(-1)
	queries := []RankQuery{
		{Kind: domain.LeaderboardExperience, Limit: s.size},
		{Kind: domain.LeaderboardStreak, Limit: s.size, ActiveSince: yesterday},
	}
	for _, q := range queries {
		accounts, err := s.store.TopAccounts(ctx, q)
		if err != nil {
			return fmt.Errorf("rank %s: %w", q.Kind, err)
		}
		if err := s.boards.Replace(ctx, q.Kind, accounts); err != nil {
			return fmt.Errorf("replace %s board: %w", q.Kind, err)
		}
	}
	config.WithContext(ctx).Info("leaderboards rebuilt")
	return s.publish(ctx)
}

func (s *LeaderboardService) publish(ctx context.Context) error {
	if s.hub == nil {
		return nil
	}
	var errs []error
	for _, kind := range []domain.LeaderboardKind{domain.LeaderboardExperience, domain.LeaderboardStreak} {
		if s.hub.Subscribers(kind) == 0 {
			continue
		}
		lb, err := s.Top(ctx, kind, s.size)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.hub.Publish(lb)
	}
	return errors.Join(errs...)
}
