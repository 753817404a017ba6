package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"dealguard/internal/ai"
	"dealguard/internal/contracts"
	"dealguard/internal/document"
	"dealguard/internal/events"
	jwttoken "dealguard/internal/jwt_token"
	"dealguard/internal/platform/config"
	"dealguard/internal/platform/httpserver"
	"dealguard/internal/platform/logger"
	"dealguard/internal/platform/metrics"
	"dealguard/internal/platform/postgres"
	"dealguard/internal/platform/redis"
	"dealguard/internal/proactive"
	"dealguard/internal/queue"
	"dealguard/internal/scheduler"
	"dealguard/internal/tenant"
	transporthttp "dealguard/internal/transport/http"
	"dealguard/pkg/crypto"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	m := metrics.New()

	cipher, err := crypto.New(cfg.SecretKey)
	if err != nil {
		return err
	}

	// Storage. In-memory stores by default; Postgres when configured, with
	// the job queue optionally moved to Redis.
	var (
		queueStore    queue.Store     = queue.NewInMemoryStore()
		contractStore contracts.Store = contracts.NewInMemoryStore()
		tenantStore   tenant.Store    = tenant.NewInMemoryStore()
		proStore      proactiveStores = memoryProactive{proactive.NewInMemoryStore()}
	)
	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = postgres.EnsureSchema(ctx, db)
		cancel()
		if err != nil {
			return err
		}

		queueStore = queue.NewPostgresStore(db)
		contractStore = contracts.NewPostgresStore(db)
		tenantStore = tenant.NewPostgresStore(db)
		proStore = pgProactive{proactive.NewPostgresStore(db)}
		log.Info("postgres storage enabled")
	}
	if cfg.RedisURL != "" {
		rdb, err := redis.New(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		queueStore = queue.NewRedisStore(rdb.Client)
		log.Info("redis job queue enabled")
	}

	provider, err := ai.NewClient(ai.ClientConfig{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		CallTimeout: cfg.AI.CallTimeout,
		MaxAttempts: cfg.AI.MaxAttempts,
	}, log, m)
	if err != nil {
		return err
	}

	gateway := queue.NewGateway(queueStore, cfg.Worker.MaxAttempts, log, m)

	contractSvc := contracts.NewService(
		contractStore,
		document.NewFileExtractor(),
		cipher,
		gateway,
		provider,
		log,
	)
	deadlineSvc := proactive.NewDeadlineService(proStore.deadlines(), contractSvc, provider, log)
	alertSvc := proactive.NewAlertService(proStore.alerts(), proStore.deadlines(), cfg.Alerts.LeadWindowDays, log, m)
	riskSvc := proactive.NewRiskService(
		contractStore,
		proStore.deadlines(),
		proStore.alerts(),
		proStore.snapshots(),
		proStore.signals(),
		log,
		m,
	)

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return err
		}
		defer publisher.Close()
		contractSvc.SetPublisher(publisher)
		alertSvc.SetPublisher(publisher)
		riskSvc.SetPublisher(publisher)
		log.Info("kafka lifecycle events enabled", "topic", cfg.KafkaTopic)
	}

	executor := queue.NewExecutor(queueStore, queue.ExecutorConfig{
		Concurrency:  cfg.Worker.Concurrency,
		JobTimeout:   cfg.Worker.JobTimeout,
		PollInterval: cfg.Worker.PollInterval,
		BackoffBase:  cfg.Worker.BackoffBase,
	}, log, m)
	executor.RegisterHandler(queue.KindAnalyzeContract, queue.HandlerFunc(contractSvc.HandleAnalyzeJob))
	executor.RegisterHandler(queue.KindExtractDeadlines, queue.HandlerFunc(deadlineSvc.HandleExtractJob))
	executor.SetStatusMirror(contractSvc)

	sched := scheduler.New(
		tenantStore,
		alertSvc,
		riskSvc,
		cfg.Alerts.DailyInterval,
		cfg.Alerts.WakeInterval,
		log,
	)

	tokens := jwttoken.NewJWTService(cfg.SecretKey)
	handler := transporthttp.NewHandler(contractSvc, deadlineSvc, alertSvc, riskSvc, gateway, log)
	server := httpserver.New(cfg.Addr, handler.Router(jwttoken.ValidatorAdapter{Service: tokens}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("http server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error { return executor.Run(ctx) })
	group.Go(func() error { return sched.Run(ctx) })
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}

// proactiveStores lets main pick one backing implementation for the four
// proactive store roles without services knowing which one.
type proactiveStores interface {
	deadlines() proactive.DeadlineStore
	alerts() proactive.AlertStore
	snapshots() proactive.SnapshotStore
	signals() proactive.SignalStore
}

type memoryProactive struct{ s *proactive.InMemoryStore }

func (m memoryProactive) deadlines() proactive.DeadlineStore { return m.s }
func (m memoryProactive) alerts() proactive.AlertStore       { return m.s }
func (m memoryProactive) snapshots() proactive.SnapshotStore { return m.s }
func (m memoryProactive) signals() proactive.SignalStore     { return m.s }

type pgProactive struct{ s *proactive.PostgresStore }

func (p pgProactive) deadlines() proactive.DeadlineStore { return p.s }
func (p pgProactive) alerts() proactive.AlertStore       { return p.s }
func (p pgProactive) snapshots() proactive.SnapshotStore { return p.s }
func (p pgProactive) signals() proactive.SignalStore     { return p.s }
