package bootstrap

import (
	"context"

	"smallbiznis-payout/pkg/config"
	"smallbiznis-payout/pkg/errutil"
	"smallbiznis-payout/services/campaign"
	"smallbiznis-payout/services/task"
	"smallbiznis-payout/services/transfer"
	"smallbiznis-payout/services/wallet"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	config *config.Config
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		config: p.Config,
	}
}

// Models lists every table this service owns.
func Models() []any {
	return []any{
		&campaign.Campaign{},
		&campaign.Participant{},
		&wallet.User{},
		&wallet.Wallet{},
		&wallet.Currency{},
		&transfer.Transfer{},
		&task.Job{},
	}
}

// Migrate creates missing tables when DATABASE.AUTO_MIGRATE is set and
// makes sure the house organization has a wallet row.
func (s *Service) Migrate(ctx context.Context) error {
	if !s.config.Database.AutoMigrate {
		zap.L().Debug("[bootstrap] auto migrate disabled")
		return nil
	}

	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		zap.L().Error("[bootstrap] failed to migrate schema", zap.Error(err))
		return errutil.Internal("failed to migrate schema", err)
	}
	zap.L().Info("[bootstrap] schema migrated")

	return s.ensureHouseWallet(ctx)
}

func (s *Service) ensureHouseWallet(ctx context.Context) error {
	orgID := s.config.Payout.HouseOrgID
	if orgID == "" {
		zap.L().Warn("[bootstrap] PAYOUT.HOUSE_ORG_ID is empty, skipping house wallet")
		return nil
	}

	w := &wallet.Wallet{
		ID:    s.node.Generate().String(),
		OrgID: &orgID,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(w)
	if res.Error != nil {
		zap.L().Error("[bootstrap] failed to create house wallet", zap.String("org_id", orgID), zap.Error(res.Error))
		return errutil.Internal("failed to create house wallet", res.Error)
	}

	if res.RowsAffected == 0 {
		zap.L().Info("[bootstrap] house wallet already exists", zap.String("org_id", orgID))
		return nil
	}
	zap.L().Info("[bootstrap] house wallet created", zap.String("org_id", orgID), zap.String("wallet_id", w.ID))
	return nil
}
