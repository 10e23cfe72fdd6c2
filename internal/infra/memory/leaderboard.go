package memory

import (
	"context"
	"sort"
	"sync"

	"lrnr-quiz-service/internal/domain"
)

// Leaderboard is an in-memory app.LeaderboardStore.
type Leaderboard struct {
	mu     sync.RWMutex
	names  map[string]string
	boards map[domain.LeaderboardKind]map[string]int
}

func NewLeaderboard() *Leaderboard {
	return &Leaderboard{
		names: make(map[string]string),
		boards: map[domain.LeaderboardKind]map[string]int{
			domain.LeaderboardExperience: {},
			domain.LeaderboardStreak:     {},
		},
	}
}

func (l *Leaderboard) Record(_ context.Context, a domain.Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names[a.UserID] = a.Username
	xp := l.boards[domain.LeaderboardExperience]
	if cur, ok := xp[a.UserID]; !ok || a.Experience > cur {
		xp[a.UserID] = a.Experience
	}
	l.boards[domain.LeaderboardStreak][a.UserID] = a.Streak
	return nil
}

func (l *Leaderboard) Replace(_ context.Context, kind domain.LeaderboardKind, accounts []domain.Account) error {
	board := make(map[string]int, len(accounts))
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range accounts {
		l.names[a.UserID] = a.Username
		if kind == domain.LeaderboardStreak {
			board[a.UserID] = a.Streak
		} else {
			board[a.UserID] = a.Experience
		}
	}
	l.boards[kind] = board
	return nil
}

func (l *Leaderboard) Top(_ context.Context, kind domain.LeaderboardKind, limit int) ([]domain.LeaderboardEntry, error) {
	l.mu.RLock()
	entries := make([]domain.LeaderboardEntry, 0, len(l.boards[kind]))
	for id, v := range l.boards[kind] {
		entries = append(entries, domain.LeaderboardEntry{UserID: id, Username: l.names[id], Value: v})
	}
	l.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return entries[i].UserID > entries[j].UserID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}
