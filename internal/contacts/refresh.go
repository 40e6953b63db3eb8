package contacts

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/weclaw/internal/config"
)

const defaultRefreshInterval = 24 * time.Hour

// Refresher periodically rebuilds one account's contact index, either on a
// fixed interval or on a cron schedule when one is configured.
type Refresher struct {
	accountID string
	cfg       config.ContactsConfig
	index     *Index
	dir       Directory
}

// NewRefresher creates a refresher for one connected account.
func NewRefresher(accountID string, cfg config.ContactsConfig, index *Index, dir Directory) *Refresher {
	return &Refresher{accountID: accountID, cfg: cfg, index: index, dir: dir}
}

// Run blocks until ctx is cancelled, rebuilding the index on schedule.
// The initial build on login is the connection manager's job; Run only
// handles subsequent refreshes.
func (r *Refresher) Run(ctx context.Context) {
	if expr := r.cfg.RefreshCron; expr != "" {
		if gronx.New().IsValid(expr) {
			r.runCron(ctx, expr)
			return
		}
		slog.Warn("contacts: invalid refresh cron, falling back to interval",
			"account", r.accountID, "cron", expr)
	}
	r.runInterval(ctx)
}

func (r *Refresher) runInterval(ctx context.Context) {
	interval := defaultRefreshInterval
	if r.cfg.RefreshIntervalHours > 0 {
		interval = time.Duration(r.cfg.RefreshIntervalHours) * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) runCron(ctx context.Context, expr string) {
	for {
		next, err := gronx.NextTickAfter(expr, time.Now(), false)
		if err != nil {
			slog.Warn("contacts: cron schedule failed",
				"account", r.accountID, "cron", expr, "error", err)
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	if err := r.index.Rebuild(ctx, r.accountID, r.dir); err != nil {
		slog.Warn("contacts: scheduled refresh failed",
			"account", r.accountID, "error", err)
	}
}
