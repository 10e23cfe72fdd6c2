package domain

import (
	"fmt"
	"strings"
)

const (
	// ExperiencePerLevel is the experience span of one level.
	ExperiencePerLevel = 100
	// MaxQuestions bounds the question count of a single quiz.
	MaxQuestions = 50
	// MaxTopicLength matches the width of the topic column.
	MaxTopicLength = 100
)

// LevelFor derives the level from total experience.
func LevelFor(experience int) int {
	if experience < 0 {
		experience = 0
	}
	return experience/ExperiencePerLevel + 1
}

// PointsPerCorrect returns the points a correct answer is worth at the given tier.
func PointsPerCorrect(e Expertise) (int, bool) {
	switch e {
	case ExpertiseNovice:
		return 1, true
	case ExpertiseIntermediate:
		return 2, true
	case ExpertiseExpert:
		return 3, true
	}
	return 0, false
}

// MaxPoints is the best achievable total for a configuration.
func MaxPoints(e Expertise, numQuestions int) int {
	ppc, _ := PointsPerCorrect(e)
	return ppc * numQuestions
}

// DayTransition classifies today relative to the last activity day.
type DayTransition int

const (
	// Lapsed covers a gap of two or more days and accounts with no activity yet.
	Lapsed DayTransition = iota
	SameDay
	NextDay
)

func (t DayTransition) String() string {
	switch t {
	case SameDay:
		return "same-day"
	case NextDay:
		return "next-day"
	}
	return "lapsed"
}

// ClassifyDay compares calendar days only. A last activity later than today (zone change,
// clock skew) is treated as the same day so it neither inflates nor resets the streak.
func ClassifyDay(last *Date, today Date) DayTransition {
	if last == nil || last.IsZero() {
		return Lapsed
	}
	switch {
	case !last.Before(today):
		return SameDay
	case last.AddDays(1).Equal(today):
		return NextDay
	}
	return Lapsed
}

// NextStreak applies a transition to the stored streak.
func NextStreak(streak int, t DayTransition) int {
	switch t {
	case SameDay:
		if streak < 1 {
			return 1
		}
		return streak
	case NextDay:
		return streak + 1
	}
	return 1
}

// EffectiveStreak is the streak as it would read today without a new submission.
func EffectiveStreak(a Account, today Date) int {
	if ClassifyDay(a.LastActivity, today) == Lapsed {
		return 0
	}
	return a.Streak
}

// Advance computes the account progress after earning points on day today.
func Advance(a Account, points int, today Date) Progress {
	experience := a.Experience + points
	last := today
	if a.LastActivity != nil && a.LastActivity.After(today) {
		last = *a.LastActivity
	}
	return Progress{
		Experience:   experience,
		Level:        LevelFor(experience),
		Streak:       NextStreak(a.Streak, ClassifyDay(a.LastActivity, today)),
		LastActivity: last,
	}
}

// Apply returns a copy of the account with progress written over it.
func (a Account) Apply(p Progress) Account {
	last := p.LastActivity
	a.Experience = p.Experience
	a.Level = p.Level
	a.Streak = p.Streak
	a.LastActivity = &last
	return a
}

// NormalizeSubmission trims the topic and validates every field against the tier rules.
func NormalizeSubmission(s Submission) (Submission, error) {
	s.Topic = strings.TrimSpace(s.Topic)
	s.Expertise = Expertise(strings.ToLower(strings.TrimSpace(string(s.Expertise))))
	if s.UserID == "" {
		return s, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if s.Topic == "" {
		return s, fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}
	if len(s.Topic) > MaxTopicLength {
		return s, fmt.Errorf("%w: topic longer than %d characters", ErrInvalidInput, MaxTopicLength)
	}
	if _, ok := PointsPerCorrect(s.Expertise); !ok {
		return s, fmt.Errorf("%w: unknown expertise %q", ErrInvalidInput, s.Expertise)
	}
	if s.NumQuestions < 1 || s.NumQuestions > MaxQuestions {
		return s, fmt.Errorf("%w: question count %d outside 1..%d", ErrInvalidInput, s.NumQuestions, MaxQuestions)
	}
	if limit := MaxPoints(s.Expertise, s.NumQuestions); s.TotalPoints < 0 || s.TotalPoints > limit {
		return s, fmt.Errorf("%w: points %d outside 0..%d", ErrInvalidInput, s.TotalPoints, limit)
	}
	return s, nil
}
