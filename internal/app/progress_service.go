package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"lrnr-quiz-service/internal/config"
	"lrnr-quiz-service/internal/domain"
	"lrnr-quiz-service/internal/metrics"
)

// CommitEvent describes a submission that has been committed.
type CommitEvent struct {
	Account    domain.Account
	Submission domain.Submission
	Result     domain.SubmitResult
}

// CommitListener runs after commit. Its error is logged and counted, never returned to the
// submitter: the progression is already durable.
type CommitListener struct {
	Name string
	Fn   func(ctx context.Context, ev CommitEvent) error
}

// ProgressOptions tunes the engine. Zero values fall back to defaults.
type ProgressOptions struct {
	Zone         *time.Location
	StoreTimeout time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// ProgressService is the streak and progression engine run for every finished quiz.
type ProgressService struct {
	store   ProgressStore
	now     func() time.Time
	zone    *time.Location
	timeout time.Duration
	tries   int
	backoff time.Duration

	mu        sync.RWMutex
	listeners []CommitListener
}

func NewProgressService(store ProgressStore, opts ProgressOptions) *ProgressService {
	return NewProgressServiceWithClock(store, opts, time.Now)
}

// NewProgressServiceWithClock lets tests pin "today".
func NewProgressServiceWithClock(store ProgressStore, opts ProgressOptions, now func() time.Time) *ProgressService {
	s := &ProgressService{
		store:   store,
		now:     now,
		zone:    opts.Zone,
		timeout: opts.StoreTimeout,
		tries:   opts.MaxAttempts,
		backoff: opts.RetryBackoff,
	}
	if s.zone == nil {
		s.zone = time.UTC
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	if s.tries <= 0 {
		s.tries = 3
	}
	if s.backoff <= 0 {
		s.backoff = 15 * time.Millisecond
	}
	return s
}

// OnCommit registers a post-commit listener.
func (s *ProgressService) OnCommit(name string, fn func(ctx context.Context, ev CommitEvent) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, CommitListener{Name: name, Fn: fn})
}

// Today is the calendar day submissions are currently recorded against.
func (s *ProgressService) Today() domain.Date {
	return domain.DateOf(s.now(), s.zone)
}

// Submit records a finished quiz: best score, experience, level and streak change together or
// not at all. Errors wrap domain.ErrInvalidInput, domain.ErrNotFound or domain.ErrTransientStorage.
func (s *ProgressService) Submit(ctx context.Context, sub domain.Submission) (domain.SubmitResult, error) {
	start := time.Now()
	defer func() { metrics.SubmitDuration.Observe(time.Since(start).Seconds()) }()

	log := config.WithContext(ctx).WithFields(logrus.Fields{
		"user_id":   sub.UserID,
		"topic":     sub.Topic,
		"expertise": sub.Expertise,
	})

	sub, err := domain.NormalizeSubmission(sub)
	if err != nil {
		metrics.Submissions.WithLabelValues("invalid").Inc()
		return domain.SubmitResult{}, err
	}

	txCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	today := s.Today()

	var (
		result  domain.SubmitResult
		account domain.Account
	)
	for attempt := 1; ; attempt++ {
		result, account, err = s.apply(txCtx, sub, today)
		if err == nil || !errors.Is(err, domain.ErrConflict) || attempt >= s.tries {
			break
		}
		metrics.ConflictRetries.Inc()
		log.WithError(err).Debugf("submission conflicted, retrying (attempt %d/%d)", attempt, s.tries)
		select {
		case <-time.After(time.Duration(attempt) * s.backoff):
		case <-txCtx.Done():
		}
	}
	if err != nil {
		err = classify(err)
		metrics.Submissions.WithLabelValues(outcome(err)).Inc()
		return domain.SubmitResult{}, err
	}

	if result.Replayed {
		metrics.Submissions.WithLabelValues("replayed").Inc()
		log.Info("submission replayed from receipt")
		return result, nil
	}
	metrics.Submissions.WithLabelValues("committed").Inc()
	log.WithFields(logrus.Fields{
		"streak":     result.Streak,
		"experience": result.Experience,
		"new_level":  result.Level,
	}).Info("submission committed")

	s.notify(ctx, CommitEvent{Account: account, Submission: sub, Result: result})
	return result, nil
}

func (s *ProgressService) apply(ctx context.Context, sub domain.Submission, today domain.Date) (domain.SubmitResult, domain.Account, error) {
	var (
		result  domain.SubmitResult
		updated domain.Account
	)
	err := s.store.Update(ctx, sub.UserID, func(tx ProgressTx) error {
		if sub.SubmissionID != "" {
			prior, ok, err := tx.LookupReceipt(ctx, sub.SubmissionID)
			if err != nil {
				return err
			}
			if ok {
				prior.Replayed = true
				result, updated = prior, tx.Account()
				return nil
			}
		}

		key := sub.Key()
		previous, found, err := tx.GetScore(ctx, key)
		if err != nil {
			return err
		}
		record, err := tx.UpsertScoreIfGreater(ctx, key, sub.TotalPoints)
		if err != nil {
			return err
		}

		account := tx.Account()
		progress := domain.Advance(account, sub.TotalPoints, today)
		if err := tx.UpdateAccount(ctx, progress); err != nil {
			return err
		}

		result = domain.SubmitResult{
			Streak:       progress.Streak,
			Experience:   progress.Experience,
			Level:        progress.Level,
			BestScore:    record.BestScore,
			NewBest:      !found || sub.TotalPoints > previous.BestScore,
			ActivityDate: progress.LastActivity,
		}
		if sub.SubmissionID != "" {
			if err := tx.SaveReceipt(ctx, sub.SubmissionID, result); err != nil {
				return err
			}
		}
		updated = account.Apply(progress)
		return nil
	})
	return result, updated, err
}

func (s *ProgressService) notify(ctx context.Context, ev CommitEvent) {
	s.mu.RLock()
	listeners := append([]CommitListener(nil), s.listeners...)
	s.mu.RUnlock()

	for _, l := range listeners {
		if err := l.Fn(ctx, ev); err != nil {
			metrics.ListenerFailures.WithLabelValues(l.Name).Inc()
			config.WithContext(ctx).WithError(err).WithField("listener", l.Name).Warn("post-commit listener failed")
		}
	}
}

// classify maps store failures onto the error kinds callers act on.
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrTransientStorage):
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransientStorage, err)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	}
	return "transient"
}
