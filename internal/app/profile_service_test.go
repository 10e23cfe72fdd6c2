package app_test

import (
	"context"
	"testing"
	"time"

	"lrnr-quiz-service/internal/app"
	"lrnr-quiz-service/internal/domain"
	"lrnr-quiz-service/internal/infra/memory"
)

func TestLoadProfile(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedAccount(t, store, "u1")
	engine, clock := newEngine(t, store)

	subs := []domain.Submission{
		{UserID: "u1", Topic: "aws", Expertise: domain.ExpertiseNovice, NumQuestions: 5, TotalPoints: 5},
		{UserID: "u1", Topic: "go", Expertise: domain.ExpertiseExpert, NumQuestions: 15, TotalPoints: 40},
		{UserID: "u1", Topic: "go", Expertise: domain.ExpertiseExpert, NumQuestions: 15, TotalPoints: 45},
		{UserID: "u1", Topic: "sql", Expertise: domain.ExpertiseIntermediate, NumQuestions: 10, TotalPoints: 12},
	}
	for _, sub := range subs {
		if _, err := engine.Submit(ctx, sub); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	builder := app.NewProfileBuilder(store, time.UTC, clock.Now)
	p, err := builder.LoadProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if p.Experience != 102 || p.Level != 2 || p.LevelExperience != 2 || p.NextLevelAt != 200 || p.Streak != 1 {
		t.Fatalf("unexpected progress fields %+v", p)
	}
	if len(p.BestScores) != 3 {
		t.Fatalf("expected 3 best scores, got %d", len(p.BestScores))
	}
	if len(p.PlatinumQuizzes) != 2 {
		t.Fatalf("expected aws and go platinum, got %+v", p.PlatinumQuizzes)
	}

	clock.Set(clock.Now().Add(72 * time.Hour))
	p, _ = builder.LoadProfile(ctx, "u1")
	if p.Streak != 0 {
		t.Fatalf("expected lapsed streak to read 0, got %d", p.Streak)
	}
}
