package cost

import (
	"github.com/smallbiznis/costwatch/internal/cost/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("cost.repository",
	fx.Provide(repository.Provide),
)
