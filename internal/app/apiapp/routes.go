package apiapp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	authsvc "github.com/biosmarket/settlement/internal/services/auth"
	contribsvc "github.com/biosmarket/settlement/internal/services/contributions"
	purchasesvc "github.com/biosmarket/settlement/internal/services/purchases"
	ratesvc "github.com/biosmarket/settlement/internal/services/rate"
	revenuesvc "github.com/biosmarket/settlement/internal/services/revenue"
	httperrors "github.com/biosmarket/settlement/internal/transport/http/errors"
	"github.com/biosmarket/settlement/internal/transport/http/handlers"
)

type Dependencies struct {
	JWT                 *authsvc.JWTManager
	PurchaseService     *purchasesvc.Service
	RevenueService      *revenuesvc.Service
	ContributionService *contribsvc.Service
	// RateLimiter is nil when redis is not configured.
	RateLimiter *ratesvc.Limiter
	Logger      *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	purchaseHandler := handlers.NewPurchaseHandler(deps.PurchaseService)
	revenueHandler := handlers.NewRevenueHandler(deps.RevenueService)
	contributionHandler := handlers.NewContributionHandler(deps.ContributionService)

	var limiter throttle
	if deps.RateLimiter != nil {
		limiter = deps.RateLimiter
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httperrors.Write(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	var tokens tokenParser
	if deps.JWT != nil {
		tokens = deps.JWT
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(tokens, deps.Logger))

		r.Route("/purchases", func(r chi.Router) {
			r.Get("/", purchaseHandler.List)
			r.Post("/initiate", purchaseHandler.Initiate)
			r.With(ThrottleMiddleware(limiter, ratesvc.ActionConfirm, deps.Logger)).Post("/confirm", purchaseHandler.Confirm)
			r.Get("/{id}", purchaseHandler.Get)
		})

		r.Get("/earnings", revenueHandler.Earnings)
		r.Get("/withdrawals", revenueHandler.History)
		r.With(ThrottleMiddleware(limiter, ratesvc.ActionWithdraw, deps.Logger)).Post("/withdrawals", revenueHandler.Withdraw)

		r.Post("/datasets/{id}/contributions", contributionHandler.Contribute)
		r.Delete("/datasets/{id}/contributions", contributionHandler.Revoke)
	})
}
