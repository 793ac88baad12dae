package usecase

import (
	"context"
	"log/slog"

	"github.com/groupgate/groupgate/internal/domain"
)

const (
	ReasonNotEnabled    = "plugin not enabled"
	ReasonNotAuthorized = "group not authorized"
	ReasonStorageError  = "storage failure"
)

// Gatekeeper yields the per-event allow/deny verdict. It never mutates state
// and is safe to ask twice about the same event.
type Gatekeeper struct {
	plugins *PluginService
	license *LicenseService
	groups  domain.GroupRepository
	logger  *slog.Logger
}

func NewGatekeeper(plugins *PluginService, license *LicenseService, groups domain.GroupRepository, logger *slog.Logger) *Gatekeeper {
	return &Gatekeeper{
		plugins: plugins,
		license: license,
		groups:  groups,
		logger:  logger.With("component", "gatekeeper"),
	}
}

// ShouldProceed decides whether the plugin may handle an event in the group.
// Core features (anything outside the optional catalog) pass unconditionally.
// The enablement check runs before the license check so a switched-off plugin
// never costs a ledger lookup. A storage failure denies: failing open would
// hand an unlicensed group a paid feature.
func (g *Gatekeeper) ShouldProceed(ctx context.Context, groupID, plugin string) domain.Verdict {
	if !g.plugins.IsOptional(plugin) {
		return domain.Allowed()
	}

	enabled, err := g.plugins.IsEnabled(ctx, groupID, plugin)
	if err != nil {
		g.logger.Error("enablement check failed", "group", groupID, "plugin", plugin, "err", err)
		return domain.Denied(ReasonStorageError)
	}
	if !enabled {
		return domain.Denied(ReasonNotEnabled)
	}

	authed, err := g.license.IsAuthorized(ctx, groupID)
	if err != nil {
		g.logger.Error("authorization check failed", "group", groupID, "plugin", plugin, "err", err)
		return domain.Denied(ReasonStorageError)
	}
	if !authed {
		return domain.Denied(ReasonNotAuthorized)
	}

	return domain.Allowed()
}

// OnGroupObserved lazily creates the group's row and fills in catalog
// defaults. Invoked whenever the roster surfaces a group; explicit settings
// survive repeat calls.
func (g *Gatekeeper) OnGroupObserved(ctx context.Context, groupID string) error {
	if err := g.groups.EnsureExists(ctx, groupID); err != nil {
		return err
	}
	return g.plugins.PopulateDefaults(ctx, groupID)
}
