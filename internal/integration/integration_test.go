package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
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

	"github.com/MosChaimong123/gameedu-sub001/internal/domain"
	"github.com/MosChaimong123/gameedu-sub001/internal/game"
	"github.com/MosChaimong123/gameedu-sub001/internal/history"
	"github.com/MosChaimong123/gameedu-sub001/internal/infra/memory"
	pginfra "github.com/MosChaimong123/gameedu-sub001/internal/infra/postgres"
	pgmigrations "github.com/MosChaimong123/gameedu-sub001/internal/infra/postgres/migrations"
	infraredis "github.com/MosChaimong123/gameedu-sub001/internal/infra/redis"
)

func TestFullGameEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	bundb := openBun(t, ctx, pgURL)
	defer bundb.Close()
	seedQuestionSet(t, ctx, bundb, sampleQuestionSet())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	sets := infraredis.NewQuestionSetRepository(redisClient, pginfra.NewQuestionSetLoader(pool), 5*time.Minute)
	store := infraredis.NewSessionRegistry(memory.NewSessionStore(6, 0), redisClient, 5*time.Minute)
	historyRepo := pginfra.NewHistoryRepository(bundb)
	writer := history.NewWriter(history.Config{
		Repo:            historyRepo,
		MaxRetries:      3,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
	})

	service := game.NewService(game.Config{
		Store:     store,
		Sets:      sets,
		Finalizer: writer,
		Rules: game.Rules{
			DefaultTimeLimit: 10 * time.Second,
			BaseScore:        1000,
			MinPlayers:       1,
			HostGrace:        time.Minute,
		},
	})

	pin, err := service.CreateSession(ctx, "host-1", "classic", "set-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if n, err := redisClient.Exists(ctx, "game:live:"+pin).Result(); err != nil || n != 1 {
		t.Fatalf("expected live marker for pin %s, exists=%d err=%v", pin, n, err)
	}
	if _, _, err := service.HostConnect(pin, "host-1"); err != nil {
		t.Fatalf("host connect: %v", err)
	}

	alice, _, err := service.Join(pin, "Alice")
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	bob, _, err := service.Join(pin, "Bob")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}

	if err := service.Start(pin, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := service.SubmitAnswer(pin, alice, "o2", time.Now()); err != nil {
		t.Fatalf("alice answer: %v", err)
	}
	if err := service.SubmitAnswer(pin, bob, "o1", time.Now()); err != nil {
		t.Fatalf("bob answer: %v", err)
	}

	snap, err := service.Snapshot(pin)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Phase != domain.PhaseQuestionReveal {
		t.Fatalf("expected reveal after all answered, got %s", snap.Phase)
	}
	if snap.Board[0].Name != "Alice" {
		t.Fatalf("expected alice leading, got %+v", snap.Board)
	}

	// last question: Next finishes and persists the game
	if err := service.Next(pin, "host-1"); err != nil {
		t.Fatalf("next: %v", err)
	}

	records, err := historyRepo.FindByHost(ctx, "host-1")
	if err != nil {
		t.Fatalf("find history: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(records))
	}
	rec := records[0]
	if rec.Pin != pin || len(rec.Results) != 1 || len(rec.Players) != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Results[0].CorrectOption != "o2" {
		t.Fatalf("expected o2 correct, got %s", rec.Results[0].CorrectOption)
	}

	// ownership check against the live database
	if _, err := historyRepo.FindByID(ctx, rec.ID, "someone-else"); err != domain.ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	// pin evicted everywhere
	if _, ok := store.Get(pin); ok {
		t.Fatalf("expected pin %s evicted", pin)
	}
	if n, err := redisClient.Exists(ctx, "game:live:"+pin).Result(); err != nil || n != 0 {
		t.Fatalf("expected live marker gone, exists=%d err=%v", n, err)
	}
}

func TestDuplicateFinalizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()

	bundb := openBun(t, ctx, pgURL)
	defer bundb.Close()
	runMigrations(t, ctx, bundb)

	repo := pginfra.NewHistoryRepository(bundb)
	startedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := domain.GameHistory{ID: "id-1", HostID: "host-1", Pin: "123456", StartedAt: startedAt, EndedAt: startedAt.Add(time.Minute)}
	second := domain.GameHistory{ID: "id-2", HostID: "host-1", Pin: "123456", StartedAt: startedAt, EndedAt: startedAt.Add(2 * time.Minute)}

	id, err := repo.Create(ctx, first)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "id-1" {
		t.Fatalf("expected id-1, got %s", id)
	}

	// same (pin, started_at) resolves to the existing record
	id, err = repo.Create(ctx, second)
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if id != "id-1" {
		t.Fatalf("expected conflict to resolve to id-1, got %s", id)
	}

	records, err := repo.FindByHost(ctx, "host-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "game", "POSTGRES_PASSWORD": "gamepass", "POSTGRES_DB": "gamedb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
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
	dsn := fmt.Sprintf("postgres://game:gamepass@%s:%s/gamedb?sslmode=disable", host, port.Port())
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

func openBun(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping pg: %v", err)
	}
	return db
}

func runMigrations(t *testing.T, ctx context.Context, db *bun.DB) {
	t.Helper()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func seedQuestionSet(t *testing.T, ctx context.Context, db *bun.DB, set domain.QuestionSet) {
	t.Helper()
	runMigrations(t, ctx, db)

	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal question set: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO question_sets (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, set.ID, string(data)); err != nil {
		t.Fatalf("insert question set: %v", err)
	}
}

func sampleQuestionSet() domain.QuestionSet {
	return domain.QuestionSet{
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
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
