package wallet

import (
	"context"
	"fmt"

	"smallbiznis-payout/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// Provisioner makes sure a wallet holds a ledger account for a token.
type Provisioner struct {
	store  *Store
	ledger ledger.Client
	node   *snowflake.Node
}

type ProvisionerParams struct {
	fx.In

	Store  *Store
	Ledger ledger.Client
	Node   *snowflake.Node
}

func NewProvisioner(p ProvisionerParams) *Provisioner {
	return &Provisioner{
		store:  p.Store,
		ledger: p.Ledger,
		node:   p.Node,
	}
}

// Ensure returns the wallet's account for symbol, creating the ledger
// account and its deposit address on first use.
func (p *Provisioner) Ensure(ctx context.Context, w *Wallet, symbol string) (*Currency, error) {
	existing, err := p.store.Currency(ctx, w.ID, symbol)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	acc, err := p.ledger.CreateAccount(ctx, ledger.CreateAccountRequest{Currency: symbol, ExternalID: w.ID})
	if err != nil {
		return nil, fmt.Errorf("create ledger account for wallet %s: %w", w.ID, err)
	}

	address, err := p.ledger.GenerateAddress(ctx, acc.ID)
	if err != nil {
		return nil, fmt.Errorf("generate address for account %s: %w", acc.ID, err)
	}

	c := &Currency{
		ID:             p.node.Generate().String(),
		WalletID:       w.ID,
		Symbol:         symbol,
		TatumID:        acc.ID,
		DepositAddress: address,
	}

	// A concurrent run may have provisioned the same pair; keep whichever row landed first.
	if err := p.store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(c).Error; err != nil {
		return nil, err
	}

	stored, err := p.store.Currency(ctx, w.ID, symbol)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("currency for wallet %s vanished after insert", w.ID)
	}
	if stored.TatumID != acc.ID {
		zap.L().Warn("ledger account provisioned twice, keeping existing",
			zap.String("wallet_id", w.ID),
			zap.String("symbol", symbol),
			zap.String("orphan_account_id", acc.ID),
		)
	}

	zap.L().Info("🪙 provisioned ledger account",
		zap.String("wallet_id", w.ID),
		zap.String("symbol", symbol),
		zap.String("account_id", stored.TatumID),
	)
	return stored, nil
}
