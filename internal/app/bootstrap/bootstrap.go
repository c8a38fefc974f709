// Package bootstrap opens the storage and gateway selected by configuration.
// The API server and settlectl share it so both see the same ledger.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/biosmarket/settlement/internal/config"
	"github.com/biosmarket/settlement/internal/domain/model"
	"github.com/biosmarket/settlement/internal/infra/escrow"
	"github.com/biosmarket/settlement/internal/repo/memory"
	pgrepo "github.com/biosmarket/settlement/internal/repo/postgres"
	contribsvc "github.com/biosmarket/settlement/internal/services/contributions"
	purchasesvc "github.com/biosmarket/settlement/internal/services/purchases"
	revenuesvc "github.com/biosmarket/settlement/internal/services/revenue"
)

type CatalogStore interface {
	purchasesvc.CatalogReader
	purchasesvc.WalletDirectory
	contribsvc.MembershipStore
}

type RevenueStore interface {
	revenuesvc.EntryStore
	ListStaleSettling(ctx context.Context, olderThan time.Time, limit int) ([]model.SettlingBatch, error)
}

type Gateway interface {
	PaymentDestination(ctx context.Context) (string, error)
	VerifyIncomingTransfer(ctx context.Context, txRef, fromAddress string, amount int64) (bool, error)
	SendFunds(ctx context.Context, toAddress string, amount int64, reference string) (string, error)
	LookupTransfer(ctx context.Context, reference string) (string, bool, error)
}

type Storage struct {
	Purchases purchasesvc.PurchaseStore
	Catalog   CatalogStore
	Revenue   RevenueStore
	// Memory is set for the memory driver so callers can seed it.
	Memory *memory.Store
	Pool   *pgxpool.Pool
}

func (s *Storage) Close() {
	if s != nil && s.Pool != nil {
		s.Pool.Close()
	}
}

func OpenStorage(ctx context.Context, cfg config.Config, log *zap.Logger) (*Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case config.StorageDriverMemory:
		if log != nil {
			log.Warn("using in-memory storage, ledger is not durable")
		}
		store := memory.New()
		return &Storage{
			Purchases: store,
			Catalog:   store,
			Revenue:   store,
			Memory:    store,
		}, nil
	case config.StorageDriverPostgres:
		pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &Storage{
			Purchases: pgrepo.NewPurchaseRepo(pool),
			Catalog:   pgrepo.NewCatalogRepo(pool),
			Revenue:   pgrepo.NewRevenueRepo(pool),
			Pool:      pool,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

func NewGateway(cfg config.GatewayConfig, log *zap.Logger) (Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case config.GatewayModeFake:
		if log != nil {
			log.Warn("using fake escrow gateway, every incoming payment verifies")
		}
		fake := escrow.NewFake(cfg.FakeDestination)
		fake.AcceptAllIncoming()
		return fake, nil
	case config.GatewayModeHTTP:
		client, err := escrow.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("create escrow client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported gateway mode %q", cfg.Mode)
	}
}
