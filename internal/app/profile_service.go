package app

import (
	"context"
	"time"

	"lrnr-quiz-service/internal/domain"
)

// ProfileRepository serves account pages, typically from a cache in front of ProfileBuilder.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
	Invalidate(ctx context.Context, userID string) error
}

// ProfileBuilder assembles a profile from the store. It implements the loader used by the
// profile caches.
type ProfileBuilder struct {
	store ProgressStore
	now   func() time.Time
	zone  *time.Location
}

func NewProfileBuilder(store ProgressStore, zone *time.Location, now func() time.Time) *ProfileBuilder {
	if zone == nil {
		zone = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &ProfileBuilder{store: store, now: now, zone: zone}
}

func (b *ProfileBuilder) LoadProfile(ctx context.Context, userID string) (domain.Profile, error) {
	account, err := b.store.GetAccount(ctx, userID)
	if err != nil {
		return domain.Profile{}, err
	}
	records, err := b.store.ListScores(ctx, userID)
	if err != nil {
		return domain.Profile{}, err
	}

	now := b.now()
	today := domain.DateOf(now, b.zone)
	p := domain.Profile{
		UserID:          account.UserID,
		Username:        account.Username,
		Streak:          domain.EffectiveStreak(account, today),
		Experience:      account.Experience,
		Level:           account.Level,
		LevelExperience: account.Experience % domain.ExperiencePerLevel,
		NextLevelAt:     account.Level * domain.ExperiencePerLevel,
		LastActivity:    account.LastActivity,
		BestScores:      make([]domain.QuizBest, 0, len(records)),
		PlatinumQuizzes: []domain.QuizBest{},
		GeneratedAt:     now.UTC(),
	}
	for _, r := range records {
		limit := domain.MaxPoints(r.Expertise, r.NumQuestions)
		best := domain.QuizBest{
			Topic:        r.Topic,
			Expertise:    r.Expertise,
			NumQuestions: r.NumQuestions,
			BestScore:    r.BestScore,
			MaxScore:     limit,
			Platinum:     limit > 0 && r.BestScore >= limit,
		}
		p.BestScores = append(p.BestScores, best)
		if best.Platinum {
			p.PlatinumQuizzes = append(p.PlatinumQuizzes, best)
		}
	}
	return p, nil
}
