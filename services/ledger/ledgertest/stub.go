// Package ledgertest provides an in-memory ledger.Client for tests.
package ledgertest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"smallbiznis-payout/services/ledger"

	"github.com/shopspring/decimal"
)

type Stub struct {
	mu sync.Mutex

	// FailFunc, when set, decides the outcome of each single transfer or
	// batch leg. A nil return books the transfer.
	FailFunc func(req ledger.TransferRequest) error
	// UnblockErr is returned by every UnblockBalance call.
	UnblockErr error
	// CreateAccountErr is returned by every CreateAccount call.
	CreateAccountErr error
	// Balances keyed by account id.
	Balances map[string]ledger.Balance

	Transfers []ledger.TransferRequest
	Calls     map[string]int
	Blockages map[string]decimal.Decimal
	Unblocked []string
	Accounts  []ledger.Account

	seq int
}

var _ ledger.Client = (*Stub)(nil)

func New() *Stub {
	return &Stub{
		Balances:  map[string]ledger.Balance{},
		Calls:     map[string]int{},
		Blockages: map[string]decimal.Decimal{},
	}
}

func (s *Stub) next(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *Stub) transfer(req ledger.TransferRequest) (ledger.TransferResult, error) {
	if s.FailFunc != nil {
		if err := s.FailFunc(req); err != nil {
			return ledger.TransferResult{}, err
		}
	}
	s.Transfers = append(s.Transfers, req)
	return ledger.TransferResult{Reference: s.next("ref")}, nil
}

func (s *Stub) Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.TransferResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["transfer"]++
	return s.transfer(req)
}

func (s *Stub) TransferBatch(ctx context.Context, senderAccountID string, legs []ledger.BatchLeg) []ledger.LegResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["transfer_batch"]++

	out := make([]ledger.LegResult, len(legs))
	for i, l := range legs {
		res, err := s.transfer(ledger.TransferRequest{
			SenderAccountID:    senderAccountID,
			RecipientAccountID: l.RecipientAccountID,
			Amount:             l.Amount,
			PaymentID:          l.PaymentID,
			RecipientNote:      l.RecipientNote,
		})
		out[i] = ledger.LegResult{Reference: res.Reference, Err: err}
	}
	return out
}

func (s *Stub) BlockBalance(ctx context.Context, accountID string, amount decimal.Decimal, tag string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["block_balance"]++
	id := s.next("blk")
	s.Blockages[id] = amount
	return id, nil
}

func (s *Stub) UnblockBalance(ctx context.Context, blockageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["unblock_balance"]++
	if s.UnblockErr != nil {
		return s.UnblockErr
	}
	delete(s.Blockages, blockageID)
	s.Unblocked = append(s.Unblocked, blockageID)
	return nil
}

func (s *Stub) GetAccountBalance(ctx context.Context, accountID string) (ledger.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["get_balance"]++
	b, ok := s.Balances[accountID]
	if !ok {
		return ledger.Balance{}, &ledger.LedgerError{
			Op:         "get_balance",
			Kind:       ledger.Permanent,
			StatusCode: http.StatusNotFound,
			Code:       ledger.CodeAccountNotFound,
		}
	}
	return b, nil
}

func (s *Stub) CreateAccount(ctx context.Context, req ledger.CreateAccountRequest) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["create_account"]++
	if s.CreateAccountErr != nil {
		return ledger.Account{}, s.CreateAccountErr
	}
	acc := ledger.Account{ID: s.next("acc"), Currency: req.Currency}
	s.Accounts = append(s.Accounts, acc)
	return acc, nil
}

func (s *Stub) GenerateAddress(ctx context.Context, accountID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["generate_address"]++
	return "addr-" + accountID, nil
}

// TransferCount returns the number of booked transfers.
func (s *Stub) TransferCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Transfers)
}

// Sent sums booked transfers into recipient.
func (s *Stub) Sent(recipient string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, t := range s.Transfers {
		if t.RecipientAccountID == recipient {
			total = total.Add(t.Amount)
		}
	}
	return total
}

// Transient builds a ledger error that the caller may retry.
func Transient(op string, status int) error {
	return &ledger.LedgerError{Op: op, Kind: ledger.Transient, StatusCode: status, NotSent: status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable}
}

// Permanent builds a ledger rejection carrying code.
func Permanent(op string, status int, code string) error {
	return &ledger.LedgerError{Op: op, Kind: ledger.Permanent, StatusCode: status, Code: code}
}
