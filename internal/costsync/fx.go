package costsync

import (
	"github.com/smallbiznis/costwatch/internal/costsync/service"
	"go.uber.org/fx"
)

var Module = fx.Module("costsync.service",
	fx.Provide(service.New),
)
