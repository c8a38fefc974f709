package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientSendFundsSetsHeadersAndBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/transfers" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer api-key" {
			t.Errorf("unexpected Authorization: %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "wd_user_1" {
			t.Errorf("unexpected Idempotency-Key: %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("unexpected Content-Type: %q", got)
		}

		var body struct {
			ToAddress string `json:"to_address"`
			Amount    int64  `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.ToAddress != "wallet-1" || body.Amount != 42 {
			t.Errorf("unexpected body: %+v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tx_ref":"sig-1"}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "api-key", time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	txRef, err := client.SendFunds(context.Background(), "wallet-1", 42, "wd_user_1")
	if err != nil {
		t.Fatalf("send funds: %v", err)
	}
	if txRef != "sig-1" {
		t.Fatalf("unexpected tx ref: %s", txRef)
	}
}

func TestClientVerifyDistinguishesRejectionFromError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		status    int
		body      string
		want      bool
		wantErr   bool
		retryable bool
	}{
		{name: "verified", status: http.StatusOK, body: `{"verified":true}`, want: true},
		{name: "rejected", status: http.StatusOK, body: `{"verified":false}`, want: false},
		{name: "missing field", status: http.StatusOK, body: `{}`, wantErr: true},
		{name: "server error", status: http.StatusBadGateway, body: "upstream", wantErr: true, retryable: true},
		{name: "bad request", status: http.StatusBadRequest, body: "bad", wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client, err := NewClient(server.URL, "key", time.Second)
			if err != nil {
				t.Fatalf("new client: %v", err)
			}

			got, err := client.VerifyIncomingTransfer(context.Background(), "tx", "from", 10)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				if IsRetryable(err) != tc.retryable {
					t.Fatalf("unexpected retryable classification for %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected verification: got=%v want=%v", got, tc.want)
			}
		})
	}
}

func TestClientLookupTransferTreats404AsAbsent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/transfers/known":
			_, _ = w.Write([]byte(`{"tx_ref":"sig-9"}`))
		case "/v1/transfers/broken":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "key", time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	txRef, found, err := client.LookupTransfer(ctx, "known")
	if err != nil || !found || txRef != "sig-9" {
		t.Fatalf("known lookup: tx=%s found=%v err=%v", txRef, found, err)
	}
	if _, found, err := client.LookupTransfer(ctx, "missing"); err != nil || found {
		t.Fatalf("missing lookup: found=%v err=%v", found, err)
	}
	if _, _, err := client.LookupTransfer(ctx, "broken"); err == nil || !IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestClientTimeoutIsRequestError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "key", time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.SendFunds(ctx, "wallet", 1, "ref")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || !reqErr.Retryable {
		t.Fatalf("expected retryable RequestError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in chain, got %v", err)
	}
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative"} {
		if _, err := NewClient(raw, "key", time.Second); err == nil {
			t.Fatalf("expected error for base url %q", raw)
		}
	}
}

func TestFakeSendIsIdempotentPerReference(t *testing.T) {
	fake := NewFake("")
	ctx := context.Background()

	first, err := fake.SendFunds(ctx, "wallet", 10, "ref-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	second, err := fake.SendFunds(ctx, "wallet", 10, "ref-1")
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if first != second || len(fake.Transfers()) != 1 {
		t.Fatalf("expected one transfer, got %d (%s vs %s)", len(fake.Transfers()), first, second)
	}

	fake.FailNextSends(1, nil)
	if _, err := fake.SendFunds(ctx, "wallet", 10, "ref-2"); !errors.Is(err, ErrFakeSendFailed) {
		t.Fatalf("expected scripted failure, got %v", err)
	}
	if _, found, _ := fake.LookupTransfer(ctx, "ref-2"); found {
		t.Fatalf("failed send must not be recorded")
	}
}

func TestFakeVerifyMatchesSenderAndAmount(t *testing.T) {
	fake := NewFake("")
	fake.RegisterIncoming("tx-1", "buyer-wallet", 100)
	ctx := context.Background()

	if ok, err := fake.VerifyIncomingTransfer(ctx, "tx-1", "buyer-wallet", 100); err != nil || !ok {
		t.Fatalf("expected verification, ok=%v err=%v", ok, err)
	}
	if ok, _ := fake.VerifyIncomingTransfer(ctx, "tx-1", "buyer-wallet", 99); ok {
		t.Fatalf("amount mismatch must not verify")
	}
	if ok, _ := fake.VerifyIncomingTransfer(ctx, "tx-1", "other", 100); ok {
		t.Fatalf("sender mismatch must not verify")
	}
	if ok, _ := fake.VerifyIncomingTransfer(ctx, "tx-unknown", "buyer-wallet", 100); ok {
		t.Fatalf("unknown tx must not verify")
	}
}
