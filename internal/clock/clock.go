package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts the wall clock so schedulers and cooldowns can be tested.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystemClock returns a Clock backed by time.Now in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}

// Now truncates to microseconds, the precision Postgres keeps for timestamptz.
func (systemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
