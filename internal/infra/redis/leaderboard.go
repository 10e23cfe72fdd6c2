package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"lrnr-quiz-service/internal/domain"
)

const leaderboardNamesKey = "leaderboard:names"

// Leaderboard keeps one sorted set per ranking kind, members are user ids and scores the
// ranked value. Usernames live in a side hash so entries can be labelled without the store.
type Leaderboard struct {
	client *redis.Client
}

func NewLeaderboard(client *redis.Client) *Leaderboard {
	return &Leaderboard{client: client}
}

func boardKey(kind domain.LeaderboardKind) string {
	return "leaderboard:" + string(kind)
}

func (l *Leaderboard) Record(ctx context.Context, a domain.Account) error {
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddGT(ctx, boardKey(domain.LeaderboardExperience), redis.Z{Score: float64(a.Experience), Member: a.UserID})
		pipe.ZAdd(ctx, boardKey(domain.LeaderboardStreak), redis.Z{Score: float64(a.Streak), Member: a.UserID})
		pipe.HSet(ctx, leaderboardNamesKey, a.UserID, a.Username)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record leaderboard: %w", err)
	}
	return nil
}

func (l *Leaderboard) Replace(ctx context.Context, kind domain.LeaderboardKind, accounts []domain.Account) error {
	key := boardKey(kind)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(accounts) == 0 {
			return nil
		}
		members := make([]redis.Z, 0, len(accounts))
		names := make(map[string]interface{}, len(accounts))
		for _, a := range accounts {
			v := a.Experience
			if kind == domain.LeaderboardStreak {
				v = a.Streak
			}
			members = append(members, redis.Z{Score: float64(v), Member: a.UserID})
			names[a.UserID] = a.Username
		}
		pipe.ZAdd(ctx, key, members...)
		pipe.HSet(ctx, leaderboardNamesKey, names)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace %s leaderboard: %w", kind, err)
	}
	return nil
}

func (l *Leaderboard) Top(ctx context.Context, kind domain.LeaderboardKind, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		return []domain.LeaderboardEntry{}, nil
	}
	results, err := l.client.ZRevRangeWithScores(ctx, boardKey(kind), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]domain.LeaderboardEntry, len(results))
	if len(results) == 0 {
		return entries, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i], _ = r.Member.(string)
	}
	names, err := l.client.HMGet(ctx, leaderboardNamesKey, ids...).Result()
	if err != nil {
		return nil, err
	}
	for i, r := range results {
		name, _ := names[i].(string)
		entries[i] = domain.LeaderboardEntry{
			UserID:   ids[i],
			Username: name,
			Value:    int(r.Score),
			Rank:     i + 1,
		}
	}
	return entries, nil
}
