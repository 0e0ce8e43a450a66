package ledger

import (
	"context"
	"net/http"
	"strings"
	"time"

	"smallbiznis-payout/pkg/metrics"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is the custodial ledger surface used by payouts and reconciliation.
// Implementations never retry; callers own the retry policy.
type Client interface {
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	// TransferBatch sends every leg from one sender. A failing leg never
	// aborts the others; the result slice matches legs index for index.
	TransferBatch(ctx context.Context, senderAccountID string, legs []BatchLeg) []LegResult
	BlockBalance(ctx context.Context, accountID string, amount decimal.Decimal, tag string) (string, error)
	UnblockBalance(ctx context.Context, blockageID string) error
	GetAccountBalance(ctx context.Context, accountID string) (Balance, error)
	CreateAccount(ctx context.Context, req CreateAccountRequest) (Account, error)
	GenerateAddress(ctx context.Context, accountID string) (string, error)
}

type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

type HTTPClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	timeout time.Duration
	tracer  trace.Tracer
}

func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetRetryCount(0)

	return &HTTPClient{
		http:    client,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		tracer:  otel.Tracer("smallbiznis-payout/ledger"),
	}
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "ledger."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			if le, ok := asLedgerError(err); ok {
				outcome = string(le.Kind)
				span.SetAttributes(attribute.Int("http.status_code", le.StatusCode), attribute.String("ledger.code", le.Code))
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.LedgerRequestsTotal.WithLabelValues(op, outcome).Inc()
		metrics.LedgerRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		span.End()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return &LedgerError{Op: op, Kind: Transient, NotSent: true, Code: "rate_limited", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var apiErr apiError
	req := c.http.R().SetContext(ctx).SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		le := classifyTransport(op, err)
		zap.L().Warn("ledger call failed", zap.String("op", op), zap.String("path", path), zap.Error(le))
		return le
	}
	if resp.IsError() {
		return classifyStatus(op, resp.StatusCode(), apiErr)
	}
	return nil
}

func (c *HTTPClient) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	var out referenceBody
	err := c.do(ctx, "transfer", http.MethodPost, "/v3/ledger/transaction", transferBody{
		SenderAccountID:    req.SenderAccountID,
		RecipientAccountID: req.RecipientAccountID,
		Amount:             req.Amount,
		PaymentID:          req.PaymentID,
		SenderNote:         req.SenderNote,
		RecipientNote:      req.RecipientNote,
	}, &out)
	if err != nil {
		return TransferResult{}, err
	}
	return TransferResult{Reference: out.Reference}, nil
}

// TransferBatch posts one batch. The ledger applies a batch atomically, so a
// permanent rejection is retried leg by leg to isolate the offending leg;
// a transient failure is reported on every leg.
func (c *HTTPClient) TransferBatch(ctx context.Context, senderAccountID string, legs []BatchLeg) []LegResult {
	results := make([]LegResult, len(legs))
	if len(legs) == 0 {
		return results
	}

	body := batchBody{SenderAccountID: senderAccountID, Transaction: make([]batchLegBody, 0, len(legs))}
	for _, l := range legs {
		body.Transaction = append(body.Transaction, batchLegBody{
			RecipientAccountID: l.RecipientAccountID,
			Amount:             l.Amount,
			PaymentID:          l.PaymentID,
			RecipientNote:      l.RecipientNote,
		})
	}

	var out []referenceBody
	err := c.do(ctx, "transfer_batch", http.MethodPost, "/v3/ledger/transaction/batch", body, &out)
	switch {
	case err == nil:
		for i := range results {
			if i < len(out) && out[i].Reference != "" {
				results[i] = LegResult{Reference: out[i].Reference}
				continue
			}
			results[i] = LegResult{Err: &LedgerError{Op: "transfer_batch", Kind: Transient, Message: "no reference returned for leg"}}
		}
	case IsTransient(err):
		for i := range results {
			results[i] = LegResult{Err: err}
		}
	default:
		zap.L().Warn("batch rejected, falling back to single transfers",
			zap.String("sender_account_id", senderAccountID),
			zap.Int("legs", len(legs)),
			zap.Error(err),
		)
		for i, l := range legs {
			res, lerr := c.Transfer(ctx, TransferRequest{
				SenderAccountID:    senderAccountID,
				RecipientAccountID: l.RecipientAccountID,
				Amount:             l.Amount,
				PaymentID:          l.PaymentID,
				RecipientNote:      l.RecipientNote,
			})
			results[i] = LegResult{Reference: res.Reference, Err: lerr}
		}
	}
	return results
}

func (c *HTTPClient) BlockBalance(ctx context.Context, accountID string, amount decimal.Decimal, tag string) (string, error) {
	var out idBody
	err := c.do(ctx, "block_balance", http.MethodPost, "/v3/ledger/account/block/"+accountID, blockBody{
		Amount: amount,
		Type:   tag,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) UnblockBalance(ctx context.Context, blockageID string) error {
	return c.do(ctx, "unblock_balance", http.MethodDelete, "/v3/ledger/account/block/"+blockageID, nil, nil)
}

func (c *HTTPClient) GetAccountBalance(ctx context.Context, accountID string) (Balance, error) {
	var out balanceBody
	if err := c.do(ctx, "get_balance", http.MethodGet, "/v3/ledger/account/"+accountID+"/balance", nil, &out); err != nil {
		return Balance{}, err
	}
	return Balance{Available: out.AvailableBalance, Total: out.AccountBalance}, nil
}

func (c *HTTPClient) CreateAccount(ctx context.Context, req CreateAccountRequest) (Account, error) {
	body := accountBody{Currency: req.Currency, AccountingCurrency: "USD"}
	if req.ExternalID != "" {
		body.Customer = &customerBody{ExternalID: req.ExternalID}
	}

	var out accountResponse
	if err := c.do(ctx, "create_account", http.MethodPost, "/v3/ledger/account", body, &out); err != nil {
		return Account{}, err
	}
	return Account{ID: out.ID, Currency: out.Currency}, nil
}

func (c *HTTPClient) GenerateAddress(ctx context.Context, accountID string) (string, error) {
	var out addressBody
	if err := c.do(ctx, "generate_address", http.MethodPost, "/v3/offchain/account/"+accountID+"/address", nil, &out); err != nil {
		return "", err
	}
	return out.Address, nil
}
