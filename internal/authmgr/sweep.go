package authmgr

import (
	"context"
	"log/slog"

	"github.com/apostoldevel/process-TaskScheduler/internal/gateway"
	"github.com/apostoldevel/process-TaskScheduler/internal/storedproc"
	"github.com/robfig/cron/v3"
)

// StartSweep schedules a periodic stale-session sweep on expr (a standard
// 5-field cron expression, e.g. "0 3 * * *" for daily at 03:00). Each run
// re-authenticates and signs out any previously tracked apibot session that
// the fresh get_sessions call no longer returns — sessions the server has
// already rotated off but that were never explicitly cleaned up between
// this daemon's 24h re-auth cycles.
//
// This supplements the Auth Manager's stated responsibility
// ("signs out stale sessions", spec §4.2) with an actual cadence; the
// distilled spec names the responsibility but leaves it unscheduled.
func (m *Manager) StartSweep(ctx context.Context, expr string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		// cron runs this on its own goroutine; sweepOnce reads m.sessions,
		// so it must be posted onto the loop like any other async entry point.
		m.post(func() { m.sweepOnce(ctx) })
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func (m *Manager) sweepOnce(ctx context.Context) {
	before := append([]string(nil), m.sessions...)

	m.Login(ctx, func(after []string) {
		live := make(map[string]struct{}, len(after))
		for _, s := range after {
			live[s] = struct{}{}
		}

		for _, s := range before {
			if _, ok := live[s]; ok {
				continue
			}
			signoutCtx := context.WithoutCancel(ctx)
			m.gw.ExecBatch(signoutCtx, []string{storedproc.Signout(s)}, nil,
				func(gateway.Results) {
					m.post(func() { m.logger.InfoContext(signoutCtx, "stale apibot session signed out") })
				},
				func(err *gateway.Error) {
					m.post(func() {
						m.logger.WarnContext(signoutCtx, "failed to sign out stale apibot session", slog.Any("error", err))
					})
				},
			)
		}
	})
}
