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

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/toolgate/toolgate/internal/accesspolicy"
	"github.com/toolgate/toolgate/internal/app"
	"github.com/toolgate/toolgate/internal/approval"
	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/codepolicy"
	"github.com/toolgate/toolgate/internal/enforce"
	"github.com/toolgate/toolgate/internal/observability"
	"github.com/toolgate/toolgate/internal/pathguard"
	"github.com/toolgate/toolgate/internal/platform/cache"
	"github.com/toolgate/toolgate/internal/platform/db"
	"github.com/toolgate/toolgate/internal/ratelimit"
	"github.com/toolgate/toolgate/internal/rbac"
	"github.com/toolgate/toolgate/internal/sandbox"
	"github.com/toolgate/toolgate/internal/users"
	"github.com/toolgate/toolgate/jobs"
)

// roleLookup resolves a caller's role name for approval records.
type roleLookup struct {
	users *users.Service
}

func (r roleLookup) RoleOf(ctx context.Context, user string) string {
	u, err := r.users.GetByIdentity(ctx, user)
	if err != nil {
		return ""
	}
	return u.RoleName
}

// tierLimits derives the sliding-window config for every registered tool
// from its sensitivity tier.
func tierLimits(policy *accesspolicy.Policy) (map[string]ratelimit.Limit, map[string]int) {
	perTier := map[accesspolicy.Tier]ratelimit.Limit{
		accesspolicy.TierLow:      {MaxRequests: 60, Window: time.Minute, Burst: 10},
		accesspolicy.TierMedium:   {MaxRequests: 30, Window: time.Minute, Burst: 5},
		accesspolicy.TierHigh:     {MaxRequests: 10, Window: time.Minute, Burst: 2},
		accesspolicy.TierCritical: {MaxRequests: 3, Window: time.Minute, Burst: 0},
	}
	limits := make(map[string]ratelimit.Limit)
	concurrency := make(map[string]int)
	for _, tool := range policy.Tools() {
		tier, _ := policy.TierOf(tool)
		limits[tool] = perTier[tier]
		concurrency[tool] = policy.MaxConcurrent(tool)
	}
	return limits, concurrency
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Config{MaxConns: 10, MaxConnLifetime: time.Hour})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	auditRepo := audit.NewRepository(pool)
	auditLogger := audit.NewLogger(auditRepo, cfg.AuditQueueCap, logger)
	auditLogger.Start()
	defer auditLogger.Stop()
	metrics.ObserveAuditQueue(auditLogger)
	auditService := audit.NewService(auditRepo)

	rbacRepo := rbac.NewRepository(pool)
	rbacManager := rbac.NewManager(rbacRepo, rbac.ManagerConfig{
		Enforce:  cfg.EnforceRBAC,
		CacheTTL: cfg.CacheTTL,
	}, logger)
	rbacMiddleware := rbac.Middleware{Manager: rbacManager, Logger: logger}

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, rbacManager)

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo)
	authMiddleware := &auth.Middleware{
		Service:        authService,
		IdentityHeader: enforce.IdentityHeader,
		Logger:         logger,
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	notifier := approval.NewQueueNotifier(asynqClient, logger)

	approvalRepo := approval.NewRepository(pool)
	approvalService := approval.NewService(approvalRepo, notifier, auditLogger, approval.Config{
		Timeout:      cfg.ApprovalTimeout,
		PollInterval: cfg.ApprovalPollInterval,
	}, logger)

	guard, err := pathguard.New(cfg.WorkspaceRoot, cfg.ExternalRoot)
	if err != nil {
		logger.Error("init path guard", slog.Any("error", err))
		os.Exit(1)
	}

	executor := sandbox.NewExecutor(sandbox.Config{
		Image:                cfg.SandboxImage,
		MemoryMB:             cfg.SandboxMemoryMB,
		CPUs:                 cfg.SandboxCPUs,
		PidsLimit:            cfg.SandboxPidsLimit,
		MaxOutputBytes:       cfg.SandboxOutputBytes,
		DefaultTimeout:       cfg.SandboxDefaultTimeout,
		MaxTimeout:           cfg.SandboxMaxTimeout,
		MaxSessionConcurrent: cfg.SessionMaxConcurrent,
		MaxViolations:        cfg.SessionMaxViolations,
		ProcessOnly:          cfg.SandboxProcessOnly,
	}, logger)

	policy := accesspolicy.New(accesspolicy.ParseProfile(cfg.Profile), cfg.Admins)
	limits, concurrency := tierLimits(policy)
	limiter := ratelimit.New(limits, concurrency)

	registry := enforce.NewRegistry()
	enforceService := enforce.NewService(
		enforce.Config{
			SecurityLevel:  codepolicy.ParseLevel(cfg.SecurityLevel),
			MaxOutputBytes: cfg.SandboxOutputBytes,
		},
		registry,
		rbacManager,
		policy,
		limiter,
		approvalService,
		guard,
		executor,
		auditLogger,
		roleLookup{users: usersService},
		metrics,
		logger,
	)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		AuthMiddleware:  authMiddleware,
		InvokeHandler:   enforce.NewHandler(logger, enforceService),
		ApprovalHandler: approval.NewHandler(logger, approvalService, rbacMiddleware),
		UsersHandler:    users.NewHandler(logger, usersService, rbacMiddleware),
		RBACHandler:     rbac.NewHandler(logger, rbacManager, rbacMiddleware),
		AuditHandler:    audit.NewHandler(logger, auditService, rbacMiddleware),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
