package ledger

import (
	"github.com/shopspring/decimal"
)

type TransferRequest struct {
	SenderAccountID    string
	RecipientAccountID string
	Amount             decimal.Decimal
	// PaymentID is echoed back by the ledger; payouts use the idempotency key.
	PaymentID     string
	SenderNote    string
	RecipientNote string
}

type TransferResult struct {
	Reference string
}

type BatchLeg struct {
	RecipientAccountID string
	Amount             decimal.Decimal
	PaymentID          string
	RecipientNote      string
}

// LegResult carries exactly one of Reference or Err.
type LegResult struct {
	Reference string
	Err       error
}

func (r LegResult) OK() bool {
	return r.Err == nil
}

type Balance struct {
	Available decimal.Decimal
	Total     decimal.Decimal
}

type CreateAccountRequest struct {
	Currency   string
	ExternalID string
}

type Account struct {
	ID       string
	Currency string
}

// wire formats

type transferBody struct {
	SenderAccountID    string          `json:"senderAccountId"`
	RecipientAccountID string          `json:"recipientAccountId"`
	Amount             decimal.Decimal `json:"amount"`
	Anonymous          bool            `json:"anonymous"`
	Compliant          bool            `json:"compliant"`
	PaymentID          string          `json:"paymentId,omitempty"`
	SenderNote         string          `json:"senderNote,omitempty"`
	RecipientNote      string          `json:"recipientNote,omitempty"`
}

type batchLegBody struct {
	RecipientAccountID string          `json:"recipientAccountId"`
	Amount             decimal.Decimal `json:"amount"`
	PaymentID          string          `json:"paymentId,omitempty"`
	RecipientNote      string          `json:"recipientNote,omitempty"`
}

type batchBody struct {
	SenderAccountID string         `json:"senderAccountId"`
	Transaction     []batchLegBody `json:"transaction"`
}

type referenceBody struct {
	Reference string `json:"reference"`
}

type blockBody struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
}

type idBody struct {
	ID string `json:"id"`
}

type balanceBody struct {
	AccountBalance   decimal.Decimal `json:"accountBalance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
}

type customerBody struct {
	ExternalID string `json:"externalId"`
}

type accountBody struct {
	Currency           string        `json:"currency"`
	Customer           *customerBody `json:"customer,omitempty"`
	AccountingCurrency string        `json:"accountingCurrency,omitempty"`
}

type accountResponse struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
}

type addressBody struct {
	Address string `json:"address"`
}

type apiError struct {
	StatusCode int    `json:"statusCode"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
}
