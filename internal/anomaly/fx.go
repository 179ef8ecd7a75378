package anomaly

import (
	"github.com/smallbiznis/costwatch/internal/anomaly/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("anomaly.repository",
	fx.Provide(repository.Provide),
)
