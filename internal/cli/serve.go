package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/aiox-platform/companion/internal/api"
	"github.com/aiox-platform/companion/internal/audit"
	"github.com/aiox-platform/companion/internal/auth"
	"github.com/aiox-platform/companion/internal/config"
	"github.com/aiox-platform/companion/internal/database"
	"github.com/aiox-platform/companion/internal/memory"
	mw "github.com/aiox-platform/companion/internal/middleware"
	inats "github.com/aiox-platform/companion/internal/nats"
	"github.com/aiox-platform/companion/internal/orchestrator"
	"github.com/aiox-platform/companion/internal/photos"
	iredis "github.com/aiox-platform/companion/internal/redis"
	"github.com/aiox-platform/companion/internal/safety"
	"github.com/aiox-platform/companion/internal/server"
	"github.com/aiox-platform/companion/internal/session"
	"github.com/aiox-platform/companion/internal/storage"
)

func init() {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and JetStream consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending migrations before serving")

	RootCmd.AddCommand(cmd)
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// PostgreSQL
	var pool *pgxpool.Pool
	if storage.Driver(cfg.Storage.Driver) == storage.DriverPostgres {
		if migrate {
			if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
				return err
			}
		}
		var err error
		pool, err = database.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pool.Close()
	}

	backends, err := storage.New(storage.Driver(cfg.Storage.Driver), pool)
	if err != nil {
		return err
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisClient.Close()

	// NATS
	natsClient, err := inats.NewClient(ctx, cfg.NATS)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer natsClient.Close()
	publisher := inats.NewPublisher(natsClient.JetStream())
	consumerMgr := inats.NewConsumerManager(natsClient.JetStream())

	// Sessions
	defaults := session.SettingsFromConfig(cfg)
	sessionStore, err := session.NewStore(session.StoreTypeRedis, redisClient, cfg.Session.TTL)
	if err != nil {
		return err
	}
	sessions, err := session.NewManager(backends.Profiles, sessionStore, defaults, cfg.Session.PolicyCacheSize)
	if err != nil {
		return err
	}
	defer sessions.Close()

	// Memory
	memSvc := memory.NewService(backends.Memory,
		memory.NewShortTermStore(redisClient),
		memory.NewWorkingStore(redisClient),
		memory.NewRuleExtractor(),
		defaults.Memory,
	)

	// Safety
	tracker := safety.NewTracker(backends.Incidents,
		inats.NewIncidentNotifier(publisher),
		inats.NewAuditSink(publisher),
	)

	// Photos
	resolver, err := newMediaResolver(cfg.Media)
	if err != nil {
		return err
	}
	engine := photos.NewEngine(backends.Photos, resolver, sessions)

	svc := orchestrator.NewService(sessions, tracker, memSvc, engine)

	// Background consumers
	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	runConsumer := func(name string, start func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := start(ctx); err != nil {
				errCh <- fmt.Errorf("%s consumer: %w", name, err)
			}
		}()
	}
	if cfg.NATS.ConsumeTurns {
		runConsumer("turn", orchestrator.NewConsumer(svc, publisher, consumerMgr).Start)
	}
	if cfg.NATS.ConsumeAudit {
		runConsumer("audit", audit.NewConsumer(backends.Audit, consumerMgr).Start)
	}

	// HTTP
	authMW, requireScope, err := newAuth(cfg.Auth)
	if err != nil {
		return err
	}
	readiness := map[string]api.HealthCheck{
		"redis": func(ctx context.Context) error { return iredis.HealthCheck(ctx, redisClient) },
		"nats": func(context.Context) error {
			if !natsClient.Healthy() {
				return errors.New("nats disconnected")
			}
			return nil
		},
		"postgres": nil,
	}
	if pool != nil {
		readiness["postgres"] = func(ctx context.Context) error { return database.HealthCheck(ctx, pool) }
	}

	turnHandler := orchestrator.NewHandler(svc)
	incidentHandler := safety.NewHandler(tracker)
	memoryHandler := memory.NewHandler(memSvc)
	auditHandler := audit.NewHandler(backends.Audit)

	limiter := mw.NewRateLimiter(redisClient, "turns", cfg.Server.RateLimitPerMinute, 60, callerKey)

	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		TurnRateLimiter:    limiter.Middleware,
		Readiness:          readiness,
	}, api.HandlerSet{
		StartSession:     turnHandler.StartSession,
		EndSession:       turnHandler.EndSession,
		ProcessTurn:      turnHandler.ProcessTurn,
		ListIncidents:    incidentHandler.List,
		ResolveIncident:  incidentHandler.Resolve,
		GetMemory:        memoryHandler.Get,
		GetMemoryHistory: memoryHandler.History,
		ListAuditLogs:    auditHandler.List,
		AuthMiddleware:   authMW,
		RequireScope:     requireScope,
	})

	srv := server.New(cfg.Server, router)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Run(ctx) }()

	select {
	case err = <-serveErr:
	case err = <-errCh:
		slog.Error("background consumer stopped", "error", err)
	}
	cancel()
	wg.Wait()
	return err
}

func newMediaResolver(cfg config.MediaConfig) (photos.MediaResolver, error) {
	if cfg.SupabaseURL == "" {
		return photos.WithTimeout(photos.NewStaticResolver(cfg.StaticBaseURL), cfg.ResolveTimeout), nil
	}
	r, err := photos.NewSupabaseResolver(photos.SupabaseConfig{
		URL:    cfg.SupabaseURL,
		APIKey: cfg.SupabaseKey,
		Bucket: cfg.Bucket,
		TTL:    cfg.SignedURLTTL,
	})
	if err != nil {
		return nil, err
	}
	return photos.WithTimeout(r, cfg.ResolveTimeout), nil
}

func newAuth(cfg config.AuthConfig) (func(http.Handler) http.Handler, func(string) func(http.Handler) http.Handler, error) {
	if cfg.ServiceSecret == "" {
		pass := func(next http.Handler) http.Handler { return next }
		return pass, func(string) func(http.Handler) http.Handler { return pass }, nil
	}
	tm, err := auth.NewTokenManager(cfg.ServiceSecret, cfg.Issuer)
	if err != nil {
		return nil, nil, err
	}
	return auth.Middleware(tm), auth.RequireScope, nil
}

// callerKey rate limits per authenticated service, falling back to client IP.
func callerKey(r *http.Request) string {
	if claims := auth.GetServiceClaims(r.Context()); claims != nil && claims.Service != "" {
		return "svc:" + claims.Service
	}
	return mw.ClientIP(r)
}
