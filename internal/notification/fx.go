package notification

import (
	"github.com/smallbiznis/costwatch/internal/notification/repository"
	"github.com/smallbiznis/costwatch/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(repository.Provide),
	fx.Provide(repository.ProvidePreferences),
	fx.Provide(service.New),
)
