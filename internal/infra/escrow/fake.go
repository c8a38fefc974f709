package escrow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrFakeSendFailed = errors.New("fake escrow: send failed")

type Transfer struct {
	Reference string
	ToAddress string
	Amount    int64
	TxRef     string
}

type incoming struct {
	fromAddress string
	amount      int64
}

// Fake is an in-process custody service. Incoming payments must be
// registered before they verify; outgoing transfers are recorded and
// deduplicated by reference.
type Fake struct {
	mu sync.Mutex

	destination string
	incoming    map[string]incoming
	sent        map[string]Transfer
	sendOrder   []string

	destinationErr error
	verifyErr      error
	lookupErr      error
	sendErr        error
	failSends      int
	sendDelay      time.Duration
	sendCalls      int
	acceptAll      bool
}

func NewFake(destination string) *Fake {
	if strings.TrimSpace(destination) == "" {
		destination = "EscrowFakeCustody1111111111111111111111111"
	}
	return &Fake{
		destination: destination,
		incoming:    make(map[string]incoming),
		sent:        make(map[string]Transfer),
	}
}

// RegisterIncoming makes txRef verifiable for exactly fromAddress and amount.
func (f *Fake) RegisterIncoming(txRef, fromAddress string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incoming[txRef] = incoming{fromAddress: fromAddress, amount: amount}
}

// RecordTransfer pretends a transfer under reference already happened.
func (f *Fake) RecordTransfer(reference, toAddress string, amount int64, txRef string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordLocked(Transfer{Reference: reference, ToAddress: toAddress, Amount: amount, TxRef: txRef})
}

// FailNextSends makes the next n SendFunds calls return err without moving funds.
func (f *Fake) FailNextSends(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = ErrFakeSendFailed
	}
	f.failSends = n
	f.sendErr = err
}

// AcceptAllIncoming makes every incoming transfer verify. Used by the
// fake gateway mode so a local stack can confirm purchases.
func (f *Fake) AcceptAllIncoming() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acceptAll = true
}

func (f *Fake) SetSendDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendDelay = d
}

func (f *Fake) SetVerifyError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyErr = err
}

func (f *Fake) SetDestinationError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destinationErr = err
}

func (f *Fake) SetLookupError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupErr = err
}

func (f *Fake) SendCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

func (f *Fake) Transfers() []Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Transfer, 0, len(f.sendOrder))
	for _, ref := range f.sendOrder {
		out = append(out, f.sent[ref])
	}
	return out
}

func (f *Fake) PaymentDestination(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destinationErr != nil {
		return "", f.destinationErr
	}
	return f.destination, nil
}

func (f *Fake) VerifyIncomingTransfer(ctx context.Context, txRef, fromAddress string, amount int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	in, ok := f.incoming[txRef]
	if !ok {
		return f.acceptAll, nil
	}
	return in.fromAddress == fromAddress && in.amount == amount, nil
}

func (f *Fake) SendFunds(ctx context.Context, toAddress string, amount int64, reference string) (string, error) {
	f.mu.Lock()
	f.sendCalls++
	delay := f.sendDelay
	f.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSends > 0 {
		f.failSends--
		return "", f.sendErr
	}
	if existing, ok := f.sent[reference]; ok {
		return existing.TxRef, nil
	}

	transfer := Transfer{
		Reference: reference,
		ToAddress: toAddress,
		Amount:    amount,
		TxRef:     "fake-tx-" + uuid.NewString(),
	}
	f.recordLocked(transfer)
	return transfer.TxRef, nil
}

func (f *Fake) LookupTransfer(ctx context.Context, reference string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return "", false, f.lookupErr
	}
	transfer, ok := f.sent[reference]
	if !ok {
		return "", false, nil
	}
	return transfer.TxRef, true, nil
}

func (f *Fake) recordLocked(transfer Transfer) {
	if _, ok := f.sent[transfer.Reference]; !ok {
		f.sendOrder = append(f.sendOrder, transfer.Reference)
	}
	f.sent[transfer.Reference] = transfer
}
