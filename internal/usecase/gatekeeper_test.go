package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/groupgate/groupgate/internal/domain"
)

func newTestGate(t *testing.T) (*Gatekeeper, *LicenseService, *PluginService) {
	t.Helper()
	keys, groups := newTestStore(t)
	logger := testLogger()
	license := NewLicenseService(keys, groups, logger)
	plugins := NewPluginService(groups, testCatalog, logger)
	return NewGatekeeper(plugins, license, groups, logger), license, plugins
}

func authorize(t *testing.T, license *LicenseService, groupID string) {
	t.Helper()
	issued, err := license.IssueCodes(context.Background(), 30, 1)
	require.NoError(t, err)
	_, err = license.Redeem(context.Background(), issued[0].Code, groupID)
	require.NoError(t, err)
}

func TestShouldProceedDeniesWhenDisabled(t *testing.T) {
	gate, license, _ := newTestGate(t)
	ctx := context.Background()

	// disabled dominates regardless of the license
	verdict := gate.ShouldProceed(ctx, "G1", "bililive")
	require.False(t, verdict.Allow)
	require.Equal(t, ReasonNotEnabled, verdict.Reason)

	authorize(t, license, "G1")
	verdict = gate.ShouldProceed(ctx, "G1", "bililive")
	require.False(t, verdict.Allow)
	require.Equal(t, ReasonNotEnabled, verdict.Reason)
}

func TestShouldProceedDeniesEnabledButUnauthorized(t *testing.T) {
	gate, _, plugins := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, plugins.SetEnabled(ctx, "G1", "bililive", true))

	verdict := gate.ShouldProceed(ctx, "G1", "bililive")
	require.False(t, verdict.Allow)
	require.Equal(t, ReasonNotAuthorized, verdict.Reason)
}

func TestShouldProceedAllowsEnabledAndAuthorized(t *testing.T) {
	gate, license, plugins := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, plugins.SetEnabled(ctx, "G1", "bililive", true))
	authorize(t, license, "G1")

	verdict := gate.ShouldProceed(ctx, "G1", "bililive")
	require.True(t, verdict.Allow)
	require.Empty(t, verdict.Reason)
}

func TestShouldProceedBypassesCoreFeatures(t *testing.T) {
	gate, _, _ := newTestGate(t)

	// anything outside the optional catalog is core and always passes
	verdict := gate.ShouldProceed(context.Background(), "G1", "groupmgr")
	require.True(t, verdict.Allow)
}

// brokenGroups fails every read so the gate's error path is reachable.
type brokenGroups struct{}

var errStoreDown = errors.New("store down")

func (brokenGroups) Get(context.Context, string) (*domain.GroupAuth, error) {
	return nil, errStoreDown
}
func (brokenGroups) EnsureExists(context.Context, string) error { return errStoreDown }
func (brokenGroups) Plugins(context.Context, string) (map[string]bool, error) {
	return nil, errStoreDown
}
func (brokenGroups) SetPlugins(context.Context, string, map[string]bool) error {
	return errStoreDown
}
func (brokenGroups) Expiring(context.Context, time.Time, time.Duration) ([]domain.GroupAuth, error) {
	return nil, errStoreDown
}

func TestShouldProceedFailsClosedOnStorageError(t *testing.T) {
	keys, _ := newTestStore(t)
	logger := testLogger()
	groups := brokenGroups{}
	license := NewLicenseService(keys, groups, logger)
	plugins := NewPluginService(groups, testCatalog, logger)
	gate := NewGatekeeper(plugins, license, groups, logger)

	verdict := gate.ShouldProceed(context.Background(), "G1", "bililive")
	require.False(t, verdict.Allow)
	require.Equal(t, ReasonStorageError, verdict.Reason)
}

func TestOnGroupObservedPopulatesDefaults(t *testing.T) {
	gate, _, plugins := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, gate.OnGroupObserved(ctx, "G1"))

	states, err := plugins.ListForGroup(ctx, "G1")
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"bililive": false, "normalmodel": true}, states)

	// explicit settings survive later observations
	require.NoError(t, plugins.SetEnabled(ctx, "G1", "normalmodel", false))
	require.NoError(t, gate.OnGroupObserved(ctx, "G1"))

	states, err = plugins.ListForGroup(ctx, "G1")
	require.NoError(t, err)
	require.False(t, states["normalmodel"])
}
