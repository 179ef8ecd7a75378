package billing

import (
	"github.com/smallbiznis/costwatch/internal/config"
	"github.com/smallbiznis/costwatch/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.billing",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, m *metrics.PipelineMetrics) Provider {
	return NewHTTPProvider(Config{
		BaseURL: cfg.Billing.BaseURL,
		Timeout: cfg.Billing.Timeout,
	}, m)
}
