package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "0.10", cfg.Payout.FeeRate)
	require.Equal(t, 500, cfg.Payout.PageSize)
	require.Equal(t, 15*time.Second, cfg.Ledger.Timeout)
	require.Equal(t, time.Hour, cfg.Sweeper.PendingStaleAfter)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PAYOUT_HOUSE_ORG_ID", "org-house")
	t.Setenv("LEDGER_BASE_URL", "https://ledger.internal")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "org-house", cfg.Payout.HouseOrgID)
	require.Equal(t, "https://ledger.internal", cfg.Ledger.BaseURL)
}
