package providers

import (
	"github.com/smallbiznis/costwatch/internal/providers/billing"
	"github.com/smallbiznis/costwatch/internal/providers/email"
	"github.com/smallbiznis/costwatch/internal/providers/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	billing.Module,
	email.Module,
	slack.Module,
)
