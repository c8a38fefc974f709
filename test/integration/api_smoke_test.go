package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/biosmarket/settlement/internal/app/apiapp"
	"github.com/biosmarket/settlement/internal/config"
	"github.com/biosmarket/settlement/internal/domain/enums"
	"github.com/biosmarket/settlement/internal/domain/model"
	authsvc "github.com/biosmarket/settlement/internal/services/auth"
)

type smokeEnv struct {
	server *httptest.Server
	jwt    *authsvc.JWTManager
}

func newSmokeEnv(t *testing.T) *smokeEnv {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.HTTP.Addr = ":0"
	cfg.Storage.Driver = config.StorageDriverMemory
	cfg.Gateway.Mode = config.GatewayModeFake
	cfg.Redis.Addr = mr.Addr()
	cfg.Auth.JWTSecret = "smoke-secret"

	app, err := apiapp.New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})

	mem := app.Storage().Memory
	if mem == nil {
		t.Fatalf("memory driver did not expose its store")
	}
	mem.PutUser(model.User{ID: "buyer", WalletAddress: "BuyerWallet111"})
	mem.PutUser(model.User{ID: "seller", WalletAddress: "SellerWallet111"})
	mem.PutListing(model.Listing{
		ID:          "listing-1",
		OwnerID:     "seller",
		Title:       "Sleep EEG",
		PriceAmount: 10_000_000,
		Status:      enums.ListingStatusActive,
	})

	server := httptest.NewServer(app.Handler())
	t.Cleanup(server.Close)

	return &smokeEnv{
		server: server,
		jwt:    authsvc.NewJWTManager(cfg.Auth.JWTSecret, time.Minute),
	}
}

func (e *smokeEnv) call(t *testing.T, userID, method, path string, body any, out any) int {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &payload)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, _, err := e.jwt.GenerateAccessToken(userID, uuid.NewString(), "user")
		if err != nil {
			t.Fatalf("mint token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	env := newSmokeEnv(t)

	var payload struct {
		Status string `json:"status"`
	}
	if status := env.call(t, "", http.MethodGet, "/healthz", nil, &payload); status != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", status, http.StatusOK)
	}
	if payload.Status != "ok" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestPurchaseToWithdrawal(t *testing.T) {
	env := newSmokeEnv(t)

	if status := env.call(t, "", http.MethodGet, "/v1/earnings", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("anonymous earnings: got %d want %d", status, http.StatusUnauthorized)
	}

	var initiated struct {
		Purchase struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"purchase"`
		PaymentDestination string `json:"payment_destination"`
	}
	status := env.call(t, "buyer", http.MethodPost, "/v1/purchases/initiate", map[string]string{
		"target_type": "listing",
		"target_id":   "listing-1",
	}, &initiated)
	if status != http.StatusCreated {
		t.Fatalf("initiate: got %d want %d", status, http.StatusCreated)
	}
	if initiated.Purchase.Status != "pending" || initiated.PaymentDestination == "" {
		t.Fatalf("unexpected initiate response: %+v", initiated)
	}

	var confirmed struct {
		OK              bool `json:"ok"`
		EntriesRecorded int  `json:"entries_recorded"`
	}
	status = env.call(t, "buyer", http.MethodPost, "/v1/purchases/confirm", map[string]string{
		"purchase_id": initiated.Purchase.ID,
		"tx_ref":      "sig-smoke-1",
	}, &confirmed)
	if status != http.StatusOK || !confirmed.OK || confirmed.EntriesRecorded != 1 {
		t.Fatalf("confirm: status=%d body=%+v", status, confirmed)
	}

	var earnings struct {
		Available struct {
			Units   int64  `json:"units"`
			Display string `json:"display"`
		} `json:"available"`
	}
	if status := env.call(t, "seller", http.MethodGet, "/v1/earnings", nil, &earnings); status != http.StatusOK {
		t.Fatalf("earnings: got %d", status)
	}
	if earnings.Available.Units != 9_500_000 || earnings.Available.Display != "9.500000" {
		t.Fatalf("unexpected earnings: %+v", earnings)
	}

	var withdrawn struct {
		OK     bool   `json:"ok"`
		TxRef  string `json:"tx_ref"`
		Amount struct {
			Units int64 `json:"units"`
		} `json:"amount"`
	}
	if status := env.call(t, "seller", http.MethodPost, "/v1/withdrawals", nil, &withdrawn); status != http.StatusOK {
		t.Fatalf("withdraw: got %d", status)
	}
	if !withdrawn.OK || withdrawn.TxRef == "" || withdrawn.Amount.Units != 9_500_000 {
		t.Fatalf("unexpected withdrawal: %+v", withdrawn)
	}

	if status := env.call(t, "seller", http.MethodGet, "/v1/earnings", nil, &earnings); status != http.StatusOK {
		t.Fatalf("earnings after withdrawal: got %d", status)
	}
	if earnings.Available.Units != 0 {
		t.Fatalf("balance must be drained, got %+v", earnings)
	}
}
