package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/biosmarket/settlement/internal/app/bootstrap"
	"github.com/biosmarket/settlement/internal/config"
	"github.com/biosmarket/settlement/internal/domain/rules"
	redrepo "github.com/biosmarket/settlement/internal/repo/redis"
	authsvc "github.com/biosmarket/settlement/internal/services/auth"
	contribsvc "github.com/biosmarket/settlement/internal/services/contributions"
	purchasesvc "github.com/biosmarket/settlement/internal/services/purchases"
	ratesvc "github.com/biosmarket/settlement/internal/services/rate"
	revenuesvc "github.com/biosmarket/settlement/internal/services/revenue"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	storage    *bootstrap.Storage
	redis      *goredis.Client
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	remainder, err := rules.ParseRemainderPolicy(cfg.Settlement.RemainderPolicy)
	if err != nil {
		return nil, err
	}

	// Unlike optional collaborators, the ledger has no degraded mode.
	storage, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	gateway, err := bootstrap.NewGateway(cfg.Gateway, log)
	if err != nil {
		storage.Close()
		return nil, err
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log, cfg.HTTP.WriteTimeout)

	var rateLimiter *ratesvc.Limiter
	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if redisClient == nil {
		log.Warn("redis not configured, request throttling disabled")
	} else {
		rateLimiter = ratesvc.NewLimiter(redrepo.NewRateRepo(redisClient), map[ratesvc.Action]int{
			ratesvc.ActionConfirm:  cfg.Throttle.ConfirmPerMinute,
			ratesvc.ActionWithdraw: cfg.Throttle.WithdrawPerMinute,
		})
	}

	jwtManager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL)
	revenueService := revenuesvc.NewService(revenuesvc.Dependencies{
		Entries: storage.Revenue,
		Wallets: storage.Catalog,
		Gateway: gateway,
		Logger:  log.Named("revenue"),
	}, revenuesvc.Config{
		DailyBatchLimit: cfg.Settlement.DailyBatchLimit,
		SendTimeout:     cfg.Settlement.SendTimeout,
		HistoryLimit:    cfg.Settlement.HistoryPageLimit,
	})
	purchaseService := purchasesvc.NewService(purchasesvc.Dependencies{
		Purchases: storage.Purchases,
		Catalog:   storage.Catalog,
		Wallets:   storage.Catalog,
		Gateway:   gateway,
		Entries:   revenueService,
		Logger:    log.Named("purchases"),
	}, purchasesvc.Config{
		PlatformFeeBps: cfg.Settlement.PlatformFeeBps,
		Remainder:      remainder,
		TokenMint:      cfg.Settlement.TokenMint,
		ListLimit:      cfg.Settlement.HistoryPageLimit,
	})
	contributionService := contribsvc.NewService(contribsvc.Dependencies{
		Store:  storage.Catalog,
		Logger: log.Named("contributions"),
	})

	RegisterRoutes(r, Dependencies{
		JWT:                 jwtManager,
		PurchaseService:     purchaseService,
		RevenueService:      revenueService,
		ContributionService: contributionService,
		RateLimiter:         rateLimiter,
		Logger:              log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		storage:    storage,
		redis:      redisClient,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started",
		zap.String("addr", a.cfg.HTTP.Addr),
		zap.String("storage", a.cfg.Storage.Driver),
		zap.String("gateway", a.cfg.Gateway.Mode),
	)
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	a.storage.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}

// Storage exposes the opened stores, mainly so tests can seed the memory driver.
func (a *App) Storage() *bootstrap.Storage {
	return a.storage
}
