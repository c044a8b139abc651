package cli

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/MosChaimong123/gameedu-sub001/internal/config"
	"github.com/MosChaimong123/gameedu-sub001/internal/domain"
	"github.com/MosChaimong123/gameedu-sub001/internal/game"
	"github.com/MosChaimong123/gameedu-sub001/internal/history"
	"github.com/MosChaimong123/gameedu-sub001/internal/infra/memory"
	pginfra "github.com/MosChaimong123/gameedu-sub001/internal/infra/postgres"
	redisinfra "github.com/MosChaimong123/gameedu-sub001/internal/infra/redis"
	transport "github.com/MosChaimong123/gameedu-sub001/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the game session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.QuestionSetLoader = memory.NewStaticQuestionSetLoader(sampleQuestionSets())
	if pool != nil {
		loader = pginfra.NewQuestionSetLoader(pool)
	}

	setTTL := config.TTLDuration(cfg.QuestionSets.TTL, 10*time.Minute)
	var sets game.QuestionSetRepository
	if redisClient != nil {
		sets = redisinfra.NewQuestionSetRepository(redisClient, loader, setTTL)
	} else {
		sets = memory.NewQuestionSetRepository(loader, setTTL)
	}

	var store game.SessionStore = memory.NewSessionStore(cfg.Game.PinLength, cfg.Game.MaxSessions)
	if redisClient != nil {
		store = redisinfra.NewSessionRegistry(store, redisClient, redisTTL)
	}

	var historyRepo history.Repository = memory.NewHistoryRepository()
	if cfg.Postgres.URL != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bundb := bun.NewDB(sqldb, pgdialect.New())
		defer bundb.Close()
		historyRepo = pginfra.NewHistoryRepository(bundb)
	}
	writer := history.NewWriter(history.Config{
		Repo:        historyRepo,
		MaxRetries:  cfg.History.MaxRetries,
		MaxInterval: config.TTLDuration(cfg.History.MaxInterval, 5*time.Second),
	})

	service := game.NewService(game.Config{
		Store:     store,
		Sets:      sets,
		Finalizer: writer,
		Rules: game.Rules{
			DefaultTimeLimit: config.TTLDuration(cfg.Game.TimeLimit, 20*time.Second),
			BaseScore:        defaultInt(cfg.Game.BaseScore, 1000),
			MinPlayers:       defaultInt(cfg.Game.MinPlayers, 1),
			HostGrace:        config.TTLDuration(cfg.Game.HostGrace, time.Minute),
		},
	})
	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws/host", wsHandler.ServeHost)
	mux.HandleFunc("/ws/play", wsHandler.ServePlay)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting game session server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func defaultInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// sampleQuestionSets provides a minimal set for no-database runs; swap the
// loader with the Postgres-backed one in production.
func sampleQuestionSets() map[string]domain.QuestionSet {
	return map[string]domain.QuestionSet{
		"set-1": {
			ID:    "set-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
				},
				{
					ID:     "q2",
					Prompt: "What is 3 x 3?",
					Options: []domain.Option{
						{ID: "o1", Text: "6", Correct: false},
						{ID: "o2", Text: "9", Correct: true},
						{ID: "o3", Text: "12", Correct: false},
					},
				},
			},
		},
	}
}
