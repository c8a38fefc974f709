// Package escrow talks to the custody service that holds buyer payments and
// releases withdrawals. The service owns the on-chain side; this package only
// speaks its JSON API.
package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/biosmarket/settlement/internal/infra/httpclient"
)

const maxResponseBytes = 1 << 20

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type RequestError struct {
	Op         string
	StatusCode int
	// Retryable marks transport failures and 5xx answers: the outcome on the
	// custody side is unknown.
	Retryable bool
	Err       error
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Err != nil && e.StatusCode > 0:
		return fmt.Sprintf("%s: status=%d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s: status=%d", e.Op, e.StatusCode)
	default:
		return e.Op
	}
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func IsRetryable(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Retryable
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	trimmedBaseURL := strings.TrimSpace(baseURL)
	if trimmedBaseURL == "" {
		return nil, &RequestError{Op: "create escrow client", Err: errors.New("escrow base url is empty")}
	}

	parsed, err := url.Parse(trimmedBaseURL)
	if err != nil {
		return nil, &RequestError{Op: "parse escrow base url", Err: err}
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, &RequestError{Op: "validate escrow base url", Err: fmt.Errorf("invalid escrow base url: %s", trimmedBaseURL)}
	}

	return &Client{
		baseURL:    strings.TrimRight(trimmedBaseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpclient.New(timeout),
	}, nil
}

func (c *Client) PaymentDestination(ctx context.Context) (string, error) {
	response := struct {
		Address string `json:"address"`
	}{}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/destination", nil, nil, &response); err != nil {
		return "", err
	}
	if strings.TrimSpace(response.Address) == "" {
		return "", &RequestError{Op: "payment destination", Err: errors.New("empty destination address")}
	}
	return response.Address, nil
}

// VerifyIncomingTransfer returns false only when the custody service
// definitively rejects the transfer. Any error means the outcome is unknown.
func (c *Client) VerifyIncomingTransfer(ctx context.Context, txRef, fromAddress string, amount int64) (bool, error) {
	request := struct {
		TxRef       string `json:"tx_ref"`
		FromAddress string `json:"from_address"`
		Amount      int64  `json:"amount"`
	}{TxRef: txRef, FromAddress: fromAddress, Amount: amount}
	response := struct {
		Verified *bool `json:"verified"`
	}{}

	if err := c.doJSON(ctx, http.MethodPost, "/v1/transfers/verify", nil, request, &response); err != nil {
		return false, err
	}
	if response.Verified == nil {
		return false, &RequestError{Op: "verify incoming transfer", Err: errors.New("verification result missing")}
	}
	return *response.Verified, nil
}

// SendFunds releases amount to toAddress. reference is forwarded as the
// Idempotency-Key so a retried call for the same batch cannot pay twice.
func (c *Client) SendFunds(ctx context.Context, toAddress string, amount int64, reference string) (string, error) {
	request := struct {
		ToAddress string `json:"to_address"`
		Amount    int64  `json:"amount"`
	}{ToAddress: toAddress, Amount: amount}
	response := struct {
		TxRef string `json:"tx_ref"`
	}{}

	headers := http.Header{}
	headers.Set("Idempotency-Key", reference)
	if err := c.doJSON(ctx, http.MethodPost, "/v1/transfers", headers, request, &response); err != nil {
		return "", err
	}
	if strings.TrimSpace(response.TxRef) == "" {
		return "", &RequestError{Op: "send funds", Err: errors.New("empty tx ref in transfer response")}
	}
	return response.TxRef, nil
}

// LookupTransfer reports the transfer sent under reference, if any.
func (c *Client) LookupTransfer(ctx context.Context, reference string) (string, bool, error) {
	response := struct {
		TxRef string `json:"tx_ref"`
	}{}

	err := c.doJSON(ctx, http.MethodGet, "/v1/transfers/"+url.PathEscape(reference), nil, nil, &response)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	if strings.TrimSpace(response.TxRef) == "" {
		return "", false, &RequestError{Op: "lookup transfer", Err: errors.New("empty tx ref in lookup response")}
	}
	return response.TxRef, true, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, headers http.Header, requestBody, responseBody any) error {
	var payload []byte
	if requestBody != nil {
		raw, err := json.Marshal(requestBody)
		if err != nil {
			return &RequestError{Op: "marshal request body", Err: err}
		}
		payload = raw
	}

	statusCode, responseBytes, err := c.do(ctx, method, path, headers, payload)
	if err != nil {
		return err
	}
	if responseBody == nil || len(responseBytes) == 0 {
		return nil
	}

	if err := json.Unmarshal(responseBytes, responseBody); err != nil {
		return &RequestError{Op: "decode http response", StatusCode: statusCode, Err: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, headers http.Header, body []byte) (int, []byte, error) {
	if c == nil || c.httpClient == nil {
		return 0, nil, &RequestError{Op: "do request", Err: errors.New("escrow client is not initialized")}
	}

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, &RequestError{Op: "create http request", Err: err}
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &RequestError{Op: "execute http request", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	responseBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if readErr != nil {
		return resp.StatusCode, nil, &RequestError{Op: "read http response", StatusCode: resp.StatusCode, Retryable: true, Err: readErr}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMessage := strings.TrimSpace(string(responseBytes))
		if errMessage == "" {
			errMessage = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, responseBytes, &RequestError{
			Op:         "unexpected http status",
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode >= 500,
			Err:        errors.New(errMessage),
		}
	}

	return resp.StatusCode, responseBytes, nil
}
