package timerq

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Every returns a fixed-period schedule.
//
// Unlike cron.Every it keeps sub-second precision. Next is measured from the
// time passed in, so a late fire pushes every later fire back as well.
func Every(period time.Duration) cron.Schedule {
	return fixedPeriod(period)
}

type fixedPeriod time.Duration

func (p fixedPeriod) Next(t time.Time) time.Time {
	return t.Add(time.Duration(p))
}
