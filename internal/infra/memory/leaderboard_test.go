package memory

import (
	"context"
	"testing"

	"lrnr-quiz-service/internal/domain"
)

func TestLeaderboardRecordAndReplace(t *testing.T) {
	ctx := context.Background()
	lb := NewLeaderboard()
	_ = lb.Record(ctx, domain.Account{UserID: "u1", Username: "alice", Experience: 40, Streak: 2})
	_ = lb.Record(ctx, domain.Account{UserID: "u2", Username: "bob", Experience: 90, Streak: 1})
	_ = lb.Record(ctx, domain.Account{UserID: "u1", Username: "alice", Experience: 140, Streak: 3})

	top, _ := lb.Top(ctx, domain.LeaderboardExperience, 10)
	if len(top) != 2 || top[0].Username != "alice" || top[0].Value != 140 || top[0].Rank != 1 {
		t.Fatalf("unexpected experience board %+v", top)
	}

	_ = lb.Replace(ctx, domain.LeaderboardStreak, []domain.Account{{UserID: "u2", Username: "bob", Streak: 1}})
	streaks, _ := lb.Top(ctx, domain.LeaderboardStreak, 10)
	if len(streaks) != 1 || streaks[0].UserID != "u2" {
		t.Fatalf("replace must drop missing accounts, got %+v", streaks)
	}
}

func TestLeaderboardExperienceNeverDecreases(t *testing.T) {
	ctx := context.Background()
	lb := NewLeaderboard()
	_ = lb.Record(ctx, domain.Account{UserID: "u1", Username: "alice", Experience: 7, Streak: 2})
	_ = lb.Record(ctx, domain.Account{UserID: "u1", Username: "alice", Experience: 4, Streak: 1})

	top, _ := lb.Top(ctx, domain.LeaderboardExperience, 10)
	if len(top) != 1 || top[0].Value != 7 {
		t.Fatalf("experience board moved backwards: %+v", top)
	}
	streaks, _ := lb.Top(ctx, domain.LeaderboardStreak, 10)
	if len(streaks) != 1 || streaks[0].Value != 1 {
		t.Fatalf("streak follows the latest record, got %+v", streaks)
	}
}
