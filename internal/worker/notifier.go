package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/groupgate/groupgate/internal/domain"
	"github.com/groupgate/groupgate/internal/usecase"
)

const sweepInterval = 24 * time.Hour

// ExpiryNotifier warns groups whose license is about to lapse. It only reads
// the ledger; expiry itself stays lazy and is never mutated here.
type ExpiryNotifier struct {
	license  *usecase.LicenseService
	notifier domain.NotificationService
	warnDays int
	logger   *slog.Logger
}

func NewExpiryNotifier(
	license *usecase.LicenseService,
	notifier domain.NotificationService,
	warnDays int,
	logger *slog.Logger,
) *ExpiryNotifier {
	return &ExpiryNotifier{
		license:  license,
		notifier: notifier,
		warnDays: warnDays,
		logger:   logger.With("component", "expiry_notifier"),
	}
}

func (n *ExpiryNotifier) Run(ctx context.Context) {
	n.logger.Info("starting expiry notifier", "warn_days", n.warnDays)

	n.sweep(ctx)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (n *ExpiryNotifier) sweep(ctx context.Context) {
	groups, err := n.license.ExpiringGroups(ctx, n.warnDays)
	if err != nil {
		n.logger.Error("expiring sweep failed", "err", err)
		return
	}

	for _, group := range groups {
		days, err := n.license.RemainingDays(ctx, group.GroupID)
		if err != nil {
			n.logger.Error("remaining days lookup failed", "group", group.GroupID, "err", err)
			continue
		}

		msg := fmt.Sprintf(
			"License warning: this group's authorization expires on %s (%d days left).\nRenew with /cdkey use <code>.",
			group.Expires.Format("2006-01-02"), days,
		)
		if err := n.notifier.NotifyGroup(group.GroupID, msg); err != nil {
			n.logger.Error("expiry warning failed", "group", group.GroupID, "err", err)
		}
	}

	if len(groups) > 0 {
		n.logger.Info("expiry warnings sent", "count", len(groups))
	}
}
