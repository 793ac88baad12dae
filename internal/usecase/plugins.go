package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/groupgate/groupgate/internal/domain"
)

// PluginService tracks which optional plugins are switched on per group. The
// catalog of known plugins is fixed at construction; anything outside it is a
// core feature and never gated.
type PluginService struct {
	groups  domain.GroupRepository
	catalog []domain.PluginDescriptor
	logger  *slog.Logger
}

func NewPluginService(groups domain.GroupRepository, catalog []domain.PluginDescriptor, logger *slog.Logger) *PluginService {
	return &PluginService{
		groups:  groups,
		catalog: catalog,
		logger:  logger.With("component", "plugins"),
	}
}

func (s *PluginService) Catalog() []domain.PluginDescriptor {
	return s.catalog
}

// IsOptional reports whether the plugin is in the gated catalog.
func (s *PluginService) IsOptional(name string) bool {
	for _, desc := range s.catalog {
		if desc.Name == name {
			return true
		}
	}
	return false
}

// IsEnabled reports the group's explicit switch for the plugin; a plugin the
// group never touched (and no default pass covered) is off.
func (s *PluginService) IsEnabled(ctx context.Context, groupID, name string) (bool, error) {
	plugins, err := s.groups.Plugins(ctx, groupID)
	if err != nil {
		return false, err
	}
	return plugins[name], nil
}

// SetEnabled flips the switch for one plugin. The state map is stored whole,
// so two concurrent toggles on the same group race and the later write wins.
func (s *PluginService) SetEnabled(ctx context.Context, groupID, name string, enabled bool) error {
	if !s.IsOptional(name) {
		return fmt.Errorf("plugin %s: %w", name, domain.ErrNotFound)
	}

	plugins, err := s.groups.Plugins(ctx, groupID)
	if err != nil {
		return err
	}
	plugins[name] = enabled
	if err := s.groups.SetPlugins(ctx, groupID, plugins); err != nil {
		return err
	}

	s.logger.Info("plugin toggled", "group", groupID, "plugin", name, "enabled", enabled)
	return nil
}

func (s *PluginService) ListForGroup(ctx context.Context, groupID string) (map[string]bool, error) {
	return s.groups.Plugins(ctx, groupID)
}

// PopulateDefaults inserts catalog entries the group has no explicit setting
// for yet. Existing settings are never overwritten; calling it on every
// roster refresh is safe.
func (s *PluginService) PopulateDefaults(ctx context.Context, groupID string) error {
	plugins, err := s.groups.Plugins(ctx, groupID)
	if err != nil {
		return err
	}

	changed := false
	for _, desc := range s.catalog {
		if _, ok := plugins[desc.Name]; !ok {
			plugins[desc.Name] = desc.DefaultEnabled
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.groups.SetPlugins(ctx, groupID, plugins)
}
