package jwks

import (
	"context"

	"github.com/robfig/cron/v3"
)

// Refresher refreshes a Cache on a schedule so that key rotation is picked
// up off the request path instead of on the first miss after expiry.
type Refresher struct {
	cron *cron.Cron
}

// NewRefresher schedules background refreshes of c per the cron spec
// (e.g. "@every 5m") and starts the scheduler. A failed background refresh
// is logged and otherwise ignored; on-demand refresh still applies.
func NewRefresher(c *Cache, spec string) (*Refresher, error) {
	cr := cron.New()
	_, err := cr.AddFunc(spec, func() {
		if _, err := c.Refresh(context.Background()); err != nil {
			c.log.WithError(err).Warn("background jwks refresh failed")
		}
	})
	if err != nil {
		return nil, err
	}
	cr.Start()
	return &Refresher{cron: cr}, nil
}

// Stop halts the schedule. Running refreshes complete.
func (r *Refresher) Stop() {
	if r != nil && r.cron != nil {
		r.cron.Stop()
	}
}
