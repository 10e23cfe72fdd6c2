package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"lrnr-quiz-service/internal/app"
	"lrnr-quiz-service/internal/domain"
	"lrnr-quiz-service/internal/infra/postgres"
	pgmigrations "lrnr-quiz-service/internal/infra/postgres/migrations"
	infraredis "lrnr-quiz-service/internal/infra/redis"
)

func TestSubmitEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	engine := app.NewProgressServiceWithClock(store, app.ProgressOptions{}, clock)
	boards := app.NewLeaderboardService(store, infraredis.NewLeaderboard(redisClient), nil, 10, time.UTC)
	engine.OnCommit("leaderboard", boards.OnCommit)

	accounts := app.NewAccountService(store)
	alice, err := accounts.Register(ctx, "alice", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := accounts.Register(ctx, "ALICE", "secret123"); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("expected username taken, got %v", err)
	}

	sub := domain.Submission{UserID: alice.UserID, Topic: "aws", Expertise: domain.ExpertiseNovice, NumQuestions: 5, TotalPoints: 4}
	res, err := engine.Submit(ctx, sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Streak != 1 || res.Experience != 4 || !res.NewBest {
		t.Fatalf("unexpected first result %+v", res)
	}

	now = now.Add(24 * time.Hour)
	sub.TotalPoints = 3
	res, err = engine.Submit(ctx, sub)
	if err != nil {
		t.Fatalf("submit day 2: %v", err)
	}
	if res.Streak != 2 || res.Experience != 7 || res.BestScore != 4 {
		t.Fatalf("unexpected next-day result %+v", res)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Submit(ctx, domain.Submission{UserID: alice.UserID, Topic: "go", Expertise: domain.ExpertiseExpert, NumQuestions: 5, TotalPoints: 15})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent submit: %v", err)
		}
	}

	acct, err := store.GetAccount(ctx, alice.UserID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	want := 7 + n*15
	if acct.Experience != want || acct.Level != domain.LevelFor(want) || acct.Streak != 2 {
		t.Fatalf("expected %d xp with streak 2, got %+v", want, acct)
	}
	if acct.LastActivity == nil || acct.LastActivity.String() != "2026-03-02" {
		t.Fatalf("unexpected last activity %v", acct.LastActivity)
	}

	top, err := boards.Top(ctx, domain.LeaderboardExperience, 5)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(top.Entries) != 1 || top.Entries[0].Value != want || top.Entries[0].Username != "alice" {
		t.Fatalf("unexpected leaderboard %+v", top.Entries)
	}
}

func TestReceiptReplayPostgres(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)
	if _, err := store.CreateAccount(ctx, domain.NewAccount{UserID: "u1", Username: "bob", Credential: "x"}); err != nil {
		t.Fatalf("create account: %v", err)
	}

	engine := app.NewProgressService(store, app.ProgressOptions{})
	sub := domain.Submission{UserID: "u1", Topic: "sql", Expertise: domain.ExpertiseIntermediate, NumQuestions: 10, TotalPoints: 18, SubmissionID: "retry-1"}
	if _, err := engine.Submit(ctx, sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := engine.Submit(ctx, sub)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Replayed || res.Experience != 18 {
		t.Fatalf("expected replayed result, got %+v", res)
	}
	if _, err := engine.Submit(ctx, domain.Submission{UserID: "ghost", Topic: "sql", Expertise: domain.ExpertiseNovice, NumQuestions: 5, TotalPoints: 1}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "lrnr", "POSTGRES_PASSWORD": "lrnrpass", "POSTGRES_DB": "lrnr"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://lrnr:lrnrpass@%s:%s/lrnr?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
