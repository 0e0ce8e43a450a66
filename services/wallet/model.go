package wallet

import "time"

type User struct {
	ID          string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	Email       string    `gorm:"column:email;type:varchar(255)"`
	DeviceToken *string   `gorm:"column:device_token"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Wallet belongs to either a user or an organization.
type Wallet struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	UserID    *string   `gorm:"column:user_id;uniqueIndex"`
	OrgID     *string   `gorm:"column:org_id;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Currency maps one (wallet, token) pair to its custodial ledger account.
type Currency struct {
	ID             string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	WalletID       string    `gorm:"column:wallet_id;not null;uniqueIndex:idx_currency_wallet_symbol"`
	Symbol         string    `gorm:"column:symbol;type:varchar(32);not null;uniqueIndex:idx_currency_wallet_symbol"`
	TatumID        string    `gorm:"column:tatum_id;not null"`
	DepositAddress string    `gorm:"column:deposit_address"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
