package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/biosmarket/settlement/internal/domain/model"
	"github.com/biosmarket/settlement/internal/domain/rules"
	"github.com/biosmarket/settlement/internal/infra/escrow"
	"github.com/biosmarket/settlement/internal/repo/memory"
	authsvc "github.com/biosmarket/settlement/internal/services/auth"
	contribsvc "github.com/biosmarket/settlement/internal/services/contributions"
	purchasesvc "github.com/biosmarket/settlement/internal/services/purchases"
	revenuesvc "github.com/biosmarket/settlement/internal/services/revenue"
)

type testEnv struct {
	store   *memory.Store
	gateway *escrow.Fake
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.New()
	store.PutUser(model.User{ID: "buyer", WalletAddress: "wallet-buyer"})
	store.PutUser(model.User{ID: "seller", WalletAddress: "wallet-seller"})
	store.PutListing(model.Listing{ID: "listing-1", OwnerID: "seller", PriceAmount: 2_500_000})
	store.PutDataset(model.Dataset{ID: "dataset-1", CreatorID: "seller", PriceAmount: 100_000_000})
	gateway := escrow.NewFake("custody-address")

	revenue := revenuesvc.NewService(revenuesvc.Dependencies{Entries: store, Wallets: store, Gateway: gateway}, revenuesvc.Config{DailyBatchLimit: 1})
	purchases := purchasesvc.NewService(purchasesvc.Dependencies{
		Purchases: store,
		Catalog:   store,
		Wallets:   store,
		Gateway:   gateway,
		Entries:   revenue,
	}, purchasesvc.Config{PlatformFeeBps: 500, TokenMint: "mint"})
	contributions := contribsvc.NewService(contribsvc.Dependencies{Store: store})

	ph := NewPurchaseHandler(purchases)
	rh := NewRevenueHandler(revenue)
	ch := NewContributionHandler(contributions)

	r := chi.NewRouter()
	r.Post("/v1/purchases/initiate", ph.Initiate)
	r.Post("/v1/purchases/confirm", ph.Confirm)
	r.Get("/v1/purchases", ph.List)
	r.Get("/v1/purchases/{id}", ph.Get)
	r.Get("/v1/earnings", rh.Earnings)
	r.Get("/v1/withdrawals", rh.History)
	r.Post("/v1/withdrawals", rh.Withdraw)
	r.Post("/v1/datasets/{id}/contributions", ch.Contribute)
	r.Delete("/v1/datasets/{id}/contributions", ch.Revoke)

	return &testEnv{store: store, gateway: gateway, router: r}
}

func (e *testEnv) do(t *testing.T, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req = req.WithContext(authsvc.WithIdentity(context.Background(), authsvc.Identity{
			UserID: userID,
			SID:    "sid-" + userID,
			Role:   "user",
		}))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &payload)
	return payload.Code
}

func TestPurchaseFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "buyer", http.MethodPost, "/v1/purchases/initiate", map[string]string{
		"target_type": "LISTING",
		"target_id":   "listing-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("initiate status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var initiated struct {
		Purchase struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"purchase"`
		PaymentDestination string `json:"payment_destination"`
		Amount             struct {
			Units   int64  `json:"units"`
			Display string `json:"display"`
		} `json:"amount"`
	}
	decodeBody(t, rec, &initiated)
	if initiated.PaymentDestination != "custody-address" || initiated.Amount.Display != "2.500000" || initiated.Purchase.Status != "pending" {
		t.Fatalf("unexpected initiate payload: %+v", initiated)
	}

	env.gateway.RegisterIncoming("tx-1", "wallet-buyer", 2_500_000)
	rec = env.do(t, "buyer", http.MethodPost, "/v1/purchases/confirm", map[string]string{
		"purchase_id": initiated.Purchase.ID,
		"tx_ref":      "tx-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var confirmed struct {
		OK               bool `json:"ok"`
		AlreadyConfirmed bool `json:"already_confirmed"`
		EntriesRecorded  int  `json:"entries_recorded"`
	}
	decodeBody(t, rec, &confirmed)
	if !confirmed.OK || confirmed.AlreadyConfirmed || confirmed.EntriesRecorded != 1 {
		t.Fatalf("unexpected confirm payload: %+v", confirmed)
	}

	rec = env.do(t, "seller", http.MethodGet, "/v1/purchases/"+initiated.Purchase.ID, nil)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "FORBIDDEN" {
		t.Fatalf("foreign read: got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "seller", http.MethodGet, "/v1/earnings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("earnings status: %d", rec.Code)
	}
	var earnings struct {
		Available struct {
			Units   int64  `json:"units"`
			Display string `json:"display"`
		} `json:"available"`
	}
	decodeBody(t, rec, &earnings)
	if earnings.Available.Units != 2_375_000 || earnings.Available.Display != "2.375000" {
		t.Fatalf("unexpected earnings: %+v", earnings)
	}
}

func TestConfirmErrorsMapToStatusCodes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "buyer", http.MethodPost, "/v1/purchases/initiate", map[string]string{
		"target_type": "listing",
		"target_id":   "listing-1",
	})
	var initiated struct {
		Purchase struct {
			ID string `json:"id"`
		} `json:"purchase"`
	}
	decodeBody(t, rec, &initiated)

	testCases := []struct {
		name   string
		user   string
		body   map[string]string
		status int
		code   string
	}{
		{name: "anonymous", user: "", body: map[string]string{"purchase_id": initiated.Purchase.ID, "tx_ref": "tx"}, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "missing tx", user: "buyer", body: map[string]string{"purchase_id": initiated.Purchase.ID}, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "unknown purchase", user: "buyer", body: map[string]string{"purchase_id": "nope", "tx_ref": "tx"}, status: http.StatusNotFound, code: "PURCHASE_NOT_FOUND"},
		{name: "unverified payment", user: "buyer", body: map[string]string{"purchase_id": initiated.Purchase.ID, "tx_ref": "tx-unknown"}, status: http.StatusPaymentRequired, code: "VERIFICATION_FAILED"},
		{name: "after failure", user: "buyer", body: map[string]string{"purchase_id": initiated.Purchase.ID, "tx_ref": "tx-unknown"}, status: http.StatusConflict, code: "INVALID_STATE"},
	}

	for _, tc := range testCases {
		rec := env.do(t, tc.user, http.MethodPost, "/v1/purchases/confirm", tc.body)
		if rec.Code != tc.status {
			t.Fatalf("%s: status got %d want %d body=%s", tc.name, rec.Code, tc.status, rec.Body.String())
		}
		if got := errorCode(t, rec); got != tc.code {
			t.Fatalf("%s: code got %q want %q", tc.name, got, tc.code)
		}
	}

	rec = env.do(t, "seller", http.MethodPost, "/v1/purchases/initiate", map[string]string{
		"target_type": "listing",
		"target_id":   "listing-1",
	})
	if rec.Code != http.StatusUnprocessableEntity || errorCode(t, rec) != "SELF_PURCHASE" {
		t.Fatalf("self purchase: got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestWithdrawalLimitReturnsResetAt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := env.store.InsertEntries(ctx, "p-1", []rules.Share{{RecipientID: "seller", Amount: 1_000_000}}, now); err != nil {
		t.Fatalf("insert entries: %v", err)
	}

	rec := env.do(t, "seller", http.MethodPost, "/v1/withdrawals", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first withdraw: got %d body=%s", rec.Code, rec.Body.String())
	}
	var withdrawn struct {
		Amount struct {
			Display string `json:"display"`
		} `json:"amount"`
		TxRef string `json:"tx_ref"`
	}
	decodeBody(t, rec, &withdrawn)
	if withdrawn.Amount.Display != "1.000000" || withdrawn.TxRef == "" {
		t.Fatalf("unexpected withdraw payload: %+v", withdrawn)
	}

	rec = env.do(t, "seller", http.MethodPost, "/v1/withdrawals", nil)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "NOTHING_TO_WITHDRAW" {
		t.Fatalf("empty withdraw: got %d body=%s", rec.Code, rec.Body.String())
	}

	if _, err := env.store.InsertEntries(ctx, "p-2", []rules.Share{{RecipientID: "seller", Amount: 5}}, now); err != nil {
		t.Fatalf("insert entries: %v", err)
	}
	rec = env.do(t, "seller", http.MethodPost, "/v1/withdrawals", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("limited withdraw: got %d body=%s", rec.Code, rec.Body.String())
	}
	var limited struct {
		Code          string     `json:"code"`
		RetryAfterSec int64      `json:"retry_after_sec"`
		ResetAt       *time.Time `json:"reset_at"`
	}
	decodeBody(t, rec, &limited)
	if limited.Code != "WITHDRAWAL_LIMIT" || limited.RetryAfterSec <= 0 || limited.ResetAt == nil {
		t.Fatalf("unexpected limit payload: %+v", limited)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	rec = env.do(t, "seller", http.MethodGet, "/v1/withdrawals?limit=10", nil)
	var history struct {
		Available struct {
			Units int64 `json:"units"`
		} `json:"available"`
		Items []struct {
			Status string `json:"status"`
		} `json:"items"`
	}
	decodeBody(t, rec, &history)
	if history.Available.Units != 5 || len(history.Items) != 2 {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestContributionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutListing(model.Listing{ID: "listing-b", OwnerID: "buyer", PriceAmount: 1})

	rec := env.do(t, "buyer", http.MethodPost, "/v1/datasets/dataset-1/contributions", map[string]string{"listing_id": "listing-1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign listing: got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "buyer", http.MethodPost, "/v1/datasets/dataset-1/contributions", map[string]string{"listing_id": "listing-b"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("contribute: got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "buyer", http.MethodPost, "/v1/datasets/dataset-1/contributions", map[string]string{"listing_id": "listing-b"})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "ALREADY_CONTRIBUTED" {
		t.Fatalf("duplicate contribute: got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "buyer", http.MethodDelete, "/v1/datasets/dataset-1/contributions", map[string]string{"listing_id": "listing-b"})
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "buyer", http.MethodPost, "/v1/datasets/dataset-1/contributions", map[string]string{"listing_id": "listing-b"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reactivate: got %d body=%s", rec.Code, rec.Body.String())
	}
	var reactivated struct {
		Reactivated bool   `json:"reactivated"`
		Status      string `json:"status"`
	}
	decodeBody(t, rec, &reactivated)
	if !reactivated.Reactivated || reactivated.Status != "active" {
		t.Fatalf("unexpected reactivation payload: %+v", reactivated)
	}
}

func TestWithdrawTransferErrorsMapToCodes(t *testing.T) {
	testCases := []struct {
		name     string
		sendErr  error
		wantCode string
	}{
		{
			name:     "rejected by custody",
			sendErr:  &escrow.RequestError{Op: "send funds", StatusCode: http.StatusUnprocessableEntity, Err: errors.New("invalid destination")},
			wantCode: "TRANSFER_FAILED",
		},
		{
			name:     "outcome unknown",
			sendErr:  &escrow.RequestError{Op: "execute http request", Retryable: true, Err: errors.New("connection reset")},
			wantCode: "TRANSFER_PENDING",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			if _, err := env.store.InsertEntries(context.Background(), "p-1", []rules.Share{{RecipientID: "seller", Amount: 1_000_000}}, time.Now()); err != nil {
				t.Fatalf("seed entries: %v", err)
			}
			env.gateway.FailNextSends(1, tc.sendErr)
			env.gateway.SetLookupError(errors.New("custody unavailable"))

			rec := env.do(t, "seller", http.MethodPost, "/v1/withdrawals", nil)
			if rec.Code != http.StatusBadGateway {
				t.Fatalf("unexpected status: got %d want %d body=%s", rec.Code, http.StatusBadGateway, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tc.wantCode {
				t.Fatalf("unexpected code: got %s want %s", code, tc.wantCode)
			}
		})
	}
}
