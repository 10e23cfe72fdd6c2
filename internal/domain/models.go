package domain

import "time"

// Expertise is the difficulty tier chosen for a quiz.
type Expertise string

const (
	ExpertiseNovice       Expertise = "novice"
	ExpertiseIntermediate Expertise = "intermediate"
	ExpertiseExpert       Expertise = "expert"
)

// Account is the aggregate root of a user's progression. Score records hang off it and are
// only ever written in the same transaction that holds the account.
type Account struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	Credential   string    `json:"-"`
	Experience   int       `json:"experience"`
	Level        int       `json:"level"`
	Streak       int       `json:"streak"`
	LastActivity *Date     `json:"lastActivityDate"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewAccount carries the registration-time fields.
type NewAccount struct {
	UserID     string
	Username   string
	Credential string
}

// ScoreKey identifies one quiz configuration for one user.
type ScoreKey struct {
	UserID       string    `json:"userId"`
	Topic        string    `json:"topic"`
	Expertise    Expertise `json:"expertise"`
	NumQuestions int       `json:"numQuestions"`
}

// ScoreRecord is the best total ever earned for a ScoreKey.
type ScoreRecord struct {
	ScoreKey
	BestScore int `json:"bestScore"`
}

// Progress is the set of account fields rewritten by a submission.
type Progress struct {
	Experience   int
	Level        int
	Streak       int
	LastActivity Date
}

// Submission is a finished quiz handed over by the quiz collaborator.
type Submission struct {
	UserID       string
	Topic        string
	Expertise    Expertise
	NumQuestions int
	TotalPoints  int
	// SubmissionID makes a retried submission replay the stored result. Optional.
	SubmissionID string
}

// Key returns the score ledger key of the submission.
func (s Submission) Key() ScoreKey {
	return ScoreKey{
		UserID:       s.UserID,
		Topic:        s.Topic,
		Expertise:    s.Expertise,
		NumQuestions: s.NumQuestions,
	}
}

// SubmitResult summarizes the committed outcome of a submission.
type SubmitResult struct {
	Streak       int  `json:"streak"`
	Experience   int  `json:"experience"`
	Level        int  `json:"level"`
	BestScore    int  `json:"bestScore"`
	NewBest      bool `json:"newBest"`
	ActivityDate Date `json:"activityDate"`
	Replayed     bool `json:"replayed,omitempty"`
}

// QuizBest is a best score as shown on the account page.
type QuizBest struct {
	Topic        string    `json:"topic"`
	Expertise    Expertise `json:"expertise"`
	NumQuestions int       `json:"numQuestions"`
	BestScore    int       `json:"bestScore"`
	MaxScore     int       `json:"maxScore"`
	Platinum     bool      `json:"platinum"`
}

// Profile is the read model behind the account page.
type Profile struct {
	UserID          string     `json:"userId"`
	Username        string     `json:"username"`
	Streak          int        `json:"streak"`
	Experience      int        `json:"experience"`
	Level           int        `json:"level"`
	LevelExperience int        `json:"levelExperience"`
	NextLevelAt     int        `json:"nextLevelAt"`
	LastActivity    *Date      `json:"lastActivityDate"`
	BestScores      []QuizBest `json:"bestScores"`
	PlatinumQuizzes []QuizBest `json:"platinumQuizzes"`
	GeneratedAt     time.Time  `json:"generatedAt"`
}

// LeaderboardKind selects the ranking dimension.
type LeaderboardKind string

const (
	LeaderboardExperience LeaderboardKind = "experience"
	LeaderboardStreak     LeaderboardKind = "streak"
)

// LeaderboardEntry is one ranked account.
type LeaderboardEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Value    int    `json:"value"`
	Rank     int    `json:"rank"`
}

// Leaderboard is an ordered snapshot for one ranking dimension.
type Leaderboard struct {
	Kind      LeaderboardKind    `json:"kind"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
