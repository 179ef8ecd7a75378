package credential

import (
	"github.com/smallbiznis/costwatch/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("credential",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) (*Store, error) {
	return NewStore(cfg.Credential.Key)
}
