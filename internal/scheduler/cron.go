package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron"
)

// Every registers job on c to run once per interval.
func Every(c *cron.Cron, interval time.Duration, job func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s", interval)
	}
	return c.AddFunc("@every "+interval.String(), job)
}
