package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lrnr-quiz-service/internal/app"
	"lrnr-quiz-service/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "lrnr.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	acct, err := store.CreateAccount(ctx, domain.NewAccount{UserID: "u1", Username: "Alice", Credential: "hash"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if acct.Level != 1 || acct.LastActivity != nil || acct.CreatedAt.IsZero() {
		t.Fatalf("unexpected new account %+v", acct)
	}
	if _, err := store.CreateAccount(ctx, domain.NewAccount{UserID: "u2", Username: "alice", Credential: "hash"}); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("expected username taken, got %v", err)
	}
	if got, err := store.GetAccountByUsername(ctx, "ALICE"); err != nil || got.UserID != "u1" {
		t.Fatalf("lookup by username: %+v %v", got, err)
	}
	if _, err := store.GetAccount(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	err = store.Update(ctx, "missing", func(app.ProgressTx) error { return nil })
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found from update, got %v", err)
	}
}

func TestUpdateCommitsAndRollsBack(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	_, _ = store.CreateAccount(ctx, domain.NewAccount{UserID: "u1", Username: "alice", Credential: "hash"})
	key := domain.ScoreKey{UserID: "u1", Topic: "aws", Expertise: domain.ExpertiseNovice, NumQuestions: 5}
	day := domain.NewDate(2026, time.June, 1)

	err := store.Update(ctx, "u1", func(tx app.ProgressTx) error {
		if _, err := tx.UpsertScoreIfGreater(ctx, key, 4); err != nil {
			return err
		}
		if err := tx.SaveReceipt(ctx, "s1", domain.SubmitResult{Streak: 1, Experience: 4}); err != nil {
			return err
		}
		return tx.UpdateAccount(ctx, domain.Progress{Experience: 4, Level: 1, Streak: 1, LastActivity: day})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	boom := errors.New("boom")
	err = store.Update(ctx, "u1", func(tx app.ProgressTx) error {
		if _, err := tx.UpsertScoreIfGreater(ctx, key, 5); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, domain.Progress{Experience: 9, Level: 1, Streak: 2, LastActivity: day.AddDays(1)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	rec, ok, _ := store.GetScore(ctx, key)
	if !ok || rec.BestScore != 4 {
		t.Fatalf("expected best score 4 after rollback, got %+v", rec)
	}
	acct, _ := store.GetAccount(ctx, "u1")
	if acct.Experience != 4 || acct.Streak != 1 || acct.LastActivity == nil || !acct.LastActivity.Equal(day) {
		t.Fatalf("unexpected account after rollback %+v", acct)
	}

	err = store.Update(ctx, "u1", func(tx app.ProgressTx) error {
		res, ok, err := tx.LookupReceipt(ctx, "s1")
		if err != nil || !ok || res.Experience != 4 {
			t.Fatalf("expected stored receipt, got %+v %v %v", res, ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("lookup update: %v", err)
	}
}

func TestUpsertNeverLowers(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	_, _ = store.CreateAccount(ctx, domain.NewAccount{UserID: "u1", Username: "alice", Credential: "hash"})
	key := domain.ScoreKey{UserID: "u1", Topic: "go", Expertise: domain.ExpertiseExpert, NumQuestions: 10}

	for _, score := range []int{10, 25, 7, 25, 30, 1} {
		var got domain.ScoreRecord
		err := store.Update(ctx, "u1", func(tx app.ProgressTx) error {
			var err error
			got, err = tx.UpsertScoreIfGreater(ctx, key, score)
			return err
		})
		if err != nil {
			t.Fatalf("upsert %d: %v", score, err)
		}
		if got.BestScore < score {
			t.Fatalf("returned best %d below submitted %d", got.BestScore, score)
		}
	}
	list, _ := store.ListScores(ctx, "u1")
	if len(list) != 1 || list[0].BestScore != 30 {
		t.Fatalf("expected single record with 30, got %+v", list)
	}
}

func TestEngineOverSQLiteConcurrent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	_, _ = store.CreateAccount(ctx, domain.NewAccount{UserID: "u1", Username: "alice", Credential: "hash"})
	engine := app.NewProgressService(store, app.ProgressOptions{})

	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Submit(ctx, domain.Submission{UserID: "u1", Topic: "sql", Expertise: domain.ExpertiseIntermediate, NumQuestions: 5, TotalPoints: 10})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	acct, _ := store.GetAccount(ctx, "u1")
	if acct.Experience != n*10 || acct.Level != domain.LevelFor(n*10) {
		t.Fatalf("expected %d xp, got %+v", n*10, acct)
	}
}

func TestTopAccountsFiltersInactive(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	today := domain.NewDate(2026, time.June, 10)
	for _, seed := range []struct {
		id     string
		xp     int
		streak int
		last   domain.Date
	}{
		{"a", 10, 5, today},
		{"b", 90, 8, today.AddDays(-4)},
	} {
		_, _ = store.CreateAccount(ctx, domain.NewAccount{UserID: seed.id, Username: seed.id, Credential: "hash"})
		_ = store.Update(ctx, seed.id, func(tx app.ProgressTx) error {
			return tx.UpdateAccount(ctx, domain.Progress{Experience: seed.xp, Level: 1, Streak: seed.streak, LastActivity: seed.last})
		})
	}
	all, _ := store.TopAccounts(ctx, app.RankQuery{Kind: domain.LeaderboardExperience, Limit: 10})
	if len(all) != 2 || all[0].UserID != "b" {
		t.Fatalf("unexpected ranking %+v", all)
	}
	active, _ := store.TopAccounts(ctx, app.RankQuery{Kind: domain.LeaderboardStreak, Limit: 10, ActiveSince: today.AddDays(-1)})
	if len(active) != 1 || active[0].UserID != "a" {
		t.Fatalf("expected only recent streaks, got %+v", active)
	}
}
