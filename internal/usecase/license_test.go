package usecase

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
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) (*database.CDKeyRepository, *database.GroupRepository) {
	t.Helper()

	logger := testLogger()
	m, err := database.Open(database.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	keys := database.NewCDKeyRepository(m)
	groups := database.NewGroupRepository(m)
	require.NoError(t, m.Initialize(context.Background()))
	return keys, groups
}

func newTestLicense(t *testing.T) (*LicenseService, *database.CDKeyRepository) {
	t.Helper()
	keys, groups := newTestStore(t)
	return NewLicenseService(keys, groups, testLogger()), keys
}

func TestIssueCodesValidation(t *testing.T) {
	svc, _ := newTestLicense(t)
	ctx := context.Background()

	_, err := svc.IssueCodes(ctx, 0, 1)
	require.Error(t, err)
	_, err = svc.IssueCodes(ctx, 30, 0)
	require.Error(t, err)
}

func TestIssueCodesBatchSharesIssuanceWindow(t *testing.T) {
	svc, _ := newTestLicense(t)
	ctx := context.Background()

	keys, err := svc.IssueCodes(ctx, 7, 3)
	require.NoError(t, err)
	require.Len(t, keys, 3)

	for _, key := range keys {
		require.Len(t, key.Code, codeLength)
		require.Equal(t, 7, key.Days)
		// issuance window is 30 days regardless of the 7-day grant
		require.WithinDuration(t, time.Now().Add(codeIssueWindow), key.Expires, time.Minute)
	}
	require.NotEqual(t, keys[0].Code, keys[1].Code)
}

func TestRedeemScenario(t *testing.T) {
	svc, _ := newTestLicense(t)
	ctx := context.Background()

	keys, err := svc.IssueCodes(ctx, 30, 3)
	require.NoError(t, err)

	// fresh group: expiry starts from now
	expiry, err := svc.Redeem(ctx, keys[0].Code, "G1")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().AddDate(0, 0, 30), expiry, time.Minute)

	days, err := svc.RemainingDays(ctx, "G1")
	require.NoError(t, err)
	require.InDelta(t, 30, days, 1)

	// second key stacks onto the remaining time
	expiry, err = svc.Redeem(ctx, keys[1].Code, "G1")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().AddDate(0, 0, 60), expiry, time.Minute)

	days, err = svc.RemainingDays(ctx, "G1")
	require.NoError(t, err)
	require.InDelta(t, 60, days, 1)

	// first key is spent for good, even for another group
	_, err = svc.Redeem(ctx, keys[0].Code, "G1")
	require.ErrorIs(t, err, domain.ErrCodeAlreadyUsed)
	_, err = svc.Redeem(ctx, keys[0].Code, "G2")
	require.ErrorIs(t, err, domain.ErrCodeAlreadyUsed)

	days, err = svc.RemainingDays(ctx, "G1")
	require.NoError(t, err)
	require.InDelta(t, 60, days, 1)
}

func TestRedeemUnknownCode(t *testing.T) {
	svc, _ := newTestLicense(t)

	_, err := svc.Redeem(context.Background(), "NOSUCHCODE000001", "G1")
	require.ErrorIs(t, err, domain.ErrCodeInvalidOrExpired)
}

func TestRedeemPastIssuanceWindow(t *testing.T) {
	svc, keys := newTestLicense(t)
	ctx := context.Background()

	now := time.Now()
	stale := &domain.CDKey{
		Code:    "STALEKEY00000001",
		Days:    30,
		Created: now.Add(-40 * 24 * time.Hour),
		Expires: now.Add(-10 * 24 * time.Hour),
	}
	require.NoError(t, keys.Create(ctx, stale))

	ok, err := svc.Redeemable(ctx, stale.Code)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = svc.Redeem(ctx, stale.Code, "G1")
	require.ErrorIs(t, err, domain.ErrCodeInvalidOrExpired)
}

func TestRedeemIntoLapsedLicenseStartsFromNow(t *testing.T) {
	svc, keys := newTestLicense(t)
	ctx := context.Background()
	now := time.Now()

	// group whose license ran out two years ago
	old := &domain.CDKey{Code: "ANCIENTKEY000001", Days: 30, Created: now.AddDate(-2, 0, 0), Expires: now.Add(time.Hour)}
	require.NoError(t, keys.Create(ctx, old))
	require.NoError(t, keys.Redeem(ctx, old.Code, "G1", 30, now.AddDate(-2, 0, 30)))

	issued, err := svc.IssueCodes(ctx, 30, 1)
	require.NoError(t, err)

	expiry, err := svc.Redeem(ctx, issued[0].Code, "G1")
	require.NoError(t, err)
	// the grant counts from now, not from the lapsed expiry
	require.WithinDuration(t, now.AddDate(0, 0, 30), expiry, time.Minute)
}

func TestAuthorizationQueries(t *testing.T) {
	svc, _ := newTestLicense(t)
	ctx := context.Background()

	authed, err := svc.IsAuthorized(ctx, "G1")
	require.NoError(t, err)
	require.False(t, authed)

	days, err := svc.RemainingDays(ctx, "G1")
	require.NoError(t, err)
	require.Zero(t, days)

	issued, err := svc.IssueCodes(ctx, 5, 1)
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, issued[0].Code, "G1")
	require.NoError(t, err)

	authed, err = svc.IsAuthorized(ctx, "G1")
	require.NoError(t, err)
	require.True(t, authed)
}

func TestDeleteCode(t *testing.T) {
	svc, _ := newTestLicense(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.DeleteCode(ctx, "MISSING000000001"), domain.ErrNotFound)

	issued, err := svc.IssueCodes(ctx, 5, 1)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteCode(ctx, issued[0].Code))

	list, err := svc.ListCodes(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestGenerateCodeShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code := generateCode(codeLength)
		require.Len(t, code, codeLength)
		for _, c := range code {
			require.Contains(t, codeAlphabet, string(c))
		}
		require.False(t, seen[code], "codes must not repeat in a small sample")
		seen[code] = true
	}
}
