package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"lrnr-quiz-service/internal/config"
)

// Rebuilder repopulates derived state from the system of record.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	timeout   time.Duration
}

func New(timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scheduler{scheduler: gocron.NewScheduler(time.UTC), timeout: timeout}
}

// Every registers job under name, first run immediately.
func (s *Scheduler) Every(name string, interval time.Duration, job Rebuilder) error {
	_, err := s.scheduler.Every(interval).Tag(name).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		log := config.WithContext(ctx).WithField("job", name)
		start := time.Now()
		if err := job.Rebuild(ctx); err != nil {
			log.WithError(err).Error("scheduled job failed")
			return
		}
		log.WithField("duration", time.Since(start).String()).Debug("scheduled job done")
	})
	return err
}

func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
