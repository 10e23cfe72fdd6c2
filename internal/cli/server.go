package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"lrnr-quiz-service/internal/app"
	"lrnr-quiz-service/internal/auth"
	"lrnr-quiz-service/internal/config"
	"lrnr-quiz-service/internal/event"
	"lrnr-quiz-service/internal/infra/memory"
	"lrnr-quiz-service/internal/infra/postgres"
	redisinfra "lrnr-quiz-service/internal/infra/redis"
	"lrnr-quiz-service/internal/infra/sqlite"
	"lrnr-quiz-service/internal/quizgen"
	"lrnr-quiz-service/internal/scheduler"
	transport "lrnr-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	config.InitLogger(cfg)
	log := config.Logger()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	zone := config.Location(cfg.Progress.Timezone)
	progress := app.NewProgressService(store, app.ProgressOptions{
		Zone:         zone,
		StoreTimeout: config.TTLDuration(cfg.Progress.StoreTimeout, 5*time.Second),
		MaxAttempts:  cfg.MaxAttempts(),
	})

	builder := app.NewProfileBuilder(store, zone, nil)
	profileTTL := config.TTLDuration(cfg.Cache.ProfileTTL, time.Minute)
	var profiles app.ProfileRepository
	var boardStore app.LeaderboardStore
	if redisClient != nil {
		profiles = redisinfra.NewProfileCache(redisClient, builder, profileTTL)
		boardStore = redisinfra.NewLeaderboard(redisClient)
	} else {
		profiles = memory.NewProfileCache(builder, profileTTL)
		boardStore = memory.NewLeaderboard()
	}
	leaderboards := app.NewLeaderboardService(store, boardStore, app.NewLeaderboardHub(), cfg.LeaderboardSize(), zone)

	progress.OnCommit("profile-cache", func(ctx context.Context, ev app.CommitEvent) error {
		return profiles.Invalidate(ctx, ev.Account.UserID)
	})
	progress.OnCommit("leaderboard", leaderboards.OnCommit)

	if cfg.Events.AMQPURL != "" {
		exchange := cfg.Events.Exchange
		if exchange == "" {
			exchange = "lrnr.events"
		}
		publisher, err := event.NewPublisher(cfg.Events.AMQPURL, exchange)
		if err != nil {
			return fmt.Errorf("connect event broker: %w", err)
		}
		defer publisher.Close()
		progress.OnCommit("events", publisher.OnCommit)
	}

	var quizzes transport.QuizGenerator
	if cfg.Gemini.APIKey != "" {
		provider, err := quizgen.NewGeminiProvider(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return err
		}
		quizzes = quizgen.NewService(provider)
	} else {
		log.Warn("gemini api key not set; question generation disabled")
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		return errors.New("auth.jwt_secret (JWT_SECRET) is required")
	}
	issuer, err := auth.NewIssuer(secret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
	if err != nil {
		return err
	}

	jobs := scheduler.New(30 * time.Second)
	if err := jobs.Every("leaderboard-rebuild", config.TTLDuration(cfg.Leaderboard.RebuildEvery, 15*time.Minute), leaderboards); err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Stop()

	handler := transport.NewHandler(transport.Deps{
		Progress:     progress,
		Accounts:     app.NewAccountService(store),
		Profiles:     profiles,
		Leaderboards: leaderboards,
		Quizzes:      quizzes,
		Issuer:       issuer,
	})

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(handler, transport.NewWSHandler(leaderboards)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Infof("starting lrnr on :%s (store=%s)", finalPort, cfg.StoreDriver())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStore selects the progress store from config and returns its closer.
func openStore(ctx context.Context, cfg config.Config) (app.ProgressStore, func(), error) {
	switch driver := cfg.StoreDriver(); driver {
	case "postgres":
		if err := runMigrations(ctx, cfg); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		pool, err := pgxpool.Connect(ctx, cfg.Store.URL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(pool), pool.Close, nil
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "data/lrnr.db"
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "memory":
		config.Logger().Warn("using in-memory store; progress is lost on restart")
		return memory.NewStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
