package wallet

import (
	"context"

	"smallbiznis-payout/pkg/db/option"
	"smallbiznis-payout/pkg/errutil"
	"smallbiznis-payout/pkg/repository"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB

	user     repository.Repository[User]
	wallet   repository.Repository[Wallet]
	currency repository.Repository[Currency]
}

type StoreParams struct {
	fx.In

	DB *gorm.DB
}

func NewStore(p StoreParams) *Store {
	return &Store{
		db:       p.DB,
		user:     repository.ProvideStore[User](p.DB),
		wallet:   repository.ProvideStore[Wallet](p.DB),
		currency: repository.ProvideStore[Currency](p.DB),
	}
}

// UsersByIDs returns the users found, keyed by id.
func (s *Store) UsersByIDs(ctx context.Context, ids []string) (map[string]*User, error) {
	out := make(map[string]*User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.user.Find(ctx, nil, option.WithIn("id", ids))
	if err != nil {
		return nil, err
	}
	for _, u := range rows {
		out[u.ID] = u
	}
	return out, nil
}

// WalletsByUserIDs returns the wallets found, keyed by user id.
func (s *Store) WalletsByUserIDs(ctx context.Context, userIDs []string) (map[string]*Wallet, error) {
	out := make(map[string]*Wallet, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	rows, err := s.wallet.Find(ctx, nil, option.WithIn("user_id", userIDs))
	if err != nil {
		return nil, err
	}
	for _, w := range rows {
		if w.UserID != nil {
			out[*w.UserID] = w
		}
	}
	return out, nil
}

func (s *Store) WalletsByIDs(ctx context.Context, ids []string) (map[string]*Wallet, error) {
	out := make(map[string]*Wallet, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.wallet.Find(ctx, nil, option.WithIn("id", ids))
	if err != nil {
		return nil, err
	}
	for _, w := range rows {
		out[w.ID] = w
	}
	return out, nil
}

func (s *Store) OrgWallet(ctx context.Context, orgID string) (*Wallet, error) {
	w, err := s.wallet.FindOne(ctx, &Wallet{OrgID: &orgID})
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, errutil.NotFound("organization wallet not found", nil, errutil.WithDetail("org_id", orgID))
	}
	return w, nil
}

// Currency returns nil, nil when the wallet holds no account for symbol.
func (s *Store) Currency(ctx context.Context, walletID, symbol string) (*Currency, error) {
	return s.currency.FindOne(ctx, &Currency{WalletID: walletID, Symbol: symbol})
}

// OrgCurrency resolves an organization's ledger account for symbol.
func (s *Store) OrgCurrency(ctx context.Context, orgID, symbol string) (*Currency, error) {
	w, err := s.OrgWallet(ctx, orgID)
	if err != nil {
		return nil, err
	}

	c, err := s.Currency(ctx, w.ID, symbol)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("currency not found", nil,
			errutil.WithDetail("org_id", orgID),
			errutil.WithDetail("symbol", symbol),
		)
	}
	return c, nil
}

// CurrenciesByWallets returns the accounts for symbol, keyed by wallet id.
func (s *Store) CurrenciesByWallets(ctx context.Context, walletIDs []string, symbol string) (map[string]*Currency, error) {
	out := make(map[string]*Currency, len(walletIDs))
	if len(walletIDs) == 0 {
		return out, nil
	}

	rows, err := s.currency.Find(ctx, &Currency{Symbol: symbol}, option.WithIn("wallet_id", walletIDs))
	if err != nil {
		return nil, err
	}
	for _, c := range rows {
		out[c.WalletID] = c
	}
	return out, nil
}

func (s *Store) CurrenciesByWallet(ctx context.Context, walletID string) ([]*Currency, error) {
	return s.currency.Find(ctx, &Currency{WalletID: walletID}, option.WithSortBy(option.QuerySortBy{SortBy: "symbol", Allow: map[string]bool{"symbol": true}}))
}
