package ledger

import (
	"smallbiznis-payout/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ledger.client",
	fx.Provide(
		fx.Annotate(ProvideClient, fx.As(new(Client))),
	),
)

func ProvideClient(cfg *config.Config) *HTTPClient {
	if cfg.Ledger.BaseURL == "" {
		zap.L().Warn("LEDGER.BASE_URL is empty, ledger calls will fail")
	}

	return NewHTTPClient(Config{
		BaseURL:   cfg.Ledger.BaseURL,
		APIKey:    cfg.Ledger.APIKey,
		Timeout:   cfg.Ledger.Timeout,
		RateLimit: cfg.Ledger.RateLimit,
		Burst:     cfg.Ledger.Burst,
	})
}
