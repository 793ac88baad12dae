package worker

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/groupgate/groupgate/internal/domain"
	"github.com/groupgate/groupgate/internal/infrastructure/database"
	"github.com/groupgate/groupgate/internal/usecase"
)

type recordingNotifier struct {
	groups   []string
	messages []string
}

func (r *recordingNotifier) NotifyGroup(groupID, message string) error {
	r.groups = append(r.groups, groupID)
	r.messages = append(r.messages, message)
	return nil
}

func newTestLicense(t *testing.T) (*usecase.LicenseService, *database.CDKeyRepository) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := database.Open(database.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	keys := database.NewCDKeyRepository(m)
	groups := database.NewGroupRepository(m)
	require.NoError(t, m.Initialize(context.Background()))
	return usecase.NewLicenseService(keys, groups, logger), keys
}

func seedGroup(t *testing.T, keys *database.CDKeyRepository, code, group string, expires time.Time) {
	t.Helper()
	ctx := context.Background()
	key := &domain.CDKey{Code: code, Days: 30, Created: time.Now(), Expires: time.Now().Add(time.Hour)}
	require.NoError(t, keys.Create(ctx, key))
	require.NoError(t, keys.Redeem(ctx, code, group, 30, expires))
}

func TestSweepWarnsOnlyGroupsInsideWindow(t *testing.T) {
	license, keys := newTestLicense(t)
	now := time.Now()

	seedGroup(t, keys, "SOONKEY000000001", "soon", now.Add(2*24*time.Hour))
	seedGroup(t, keys, "LATERKEY00000001", "later", now.Add(10*24*time.Hour))
	seedGroup(t, keys, "LAPSEDKEY0000001", "lapsed", now.Add(-time.Hour))

	rec := &recordingNotifier{}
	n := NewExpiryNotifier(license, rec, 3, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n.sweep(context.Background())

	require.Equal(t, []string{"soon"}, rec.groups)
	require.Len(t, rec.messages, 1)
	require.Contains(t, rec.messages[0], "expires on")
	require.Contains(t, rec.messages[0], "/cdkey use")
}

func TestSweepQuietWhenNothingExpires(t *testing.T) {
	license, _ := newTestLicense(t)

	rec := &recordingNotifier{}
	n := NewExpiryNotifier(license, rec, 3, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n.sweep(context.Background())
	require.Empty(t, rec.groups)
}
