package bot

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/groupgate/groupgate/internal/domain"
)

func TestRenderIssued(t *testing.T) {
	require.Equal(t, "No keys created.", renderIssued(nil))

	expires := time.Date(2026, 9, 27, 0, 0, 0, 0, time.UTC)
	keys := []domain.CDKey{
		{Code: "AAAA111122223333", Days: 30, Expires: expires},
		{Code: "BBBB111122223333", Days: 30, Expires: expires},
	}

	out := renderIssued(keys)
	require.Contains(t, out, "Created 2 keys for 30 days")
	require.Contains(t, out, "assign before 2026-09-27")
	require.Contains(t, out, "`AAAA111122223333`")
	require.Contains(t, out, "`BBBB111122223333`")
}

func TestRenderCodeList(t *testing.T) {
	require.Equal(t, "No CDKeys.", renderCodeList(nil))

	created := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	expires := created.AddDate(0, 0, 30)
	keys := []domain.CDKey{
		{Code: "FRESHKEY00000001", Days: 7, Created: created, Expires: expires},
		{Code: "SPENTKEY00000001", Days: 30, Created: created, Expires: expires, Used: true, UsedBy: "g1"},
	}

	out := renderCodeList(keys)
	require.Contains(t, out, "`FRESHKEY00000001` - 7 days | unused")
	require.Contains(t, out, "`SPENTKEY00000001` - 30 days | used by g1")
	require.Contains(t, out, "assignable until 2026-08-31")
}

func TestRenderPluginStatesSortedAndMarked(t *testing.T) {
	require.Equal(t, "Group g1 has no plugin states.", renderPluginStates("g1", nil))

	out := renderPluginStates("g1", map[string]bool{
		"bililive":    true,
		"normalmodel": false,
		"aaa":         false,
	})
	require.True(t, strings.HasPrefix(out, "Group g1 plugin states:\n"))
	// sorted by name, state rendered as on/off
	require.Less(t,
		strings.Index(out, "[off] aaa"),
		strings.Index(out, "[on] bililive"),
	)
	require.Contains(t, out, "[off] normalmodel")
}

func TestRedeemErrorReply(t *testing.T) {
	require.Equal(t, "This CDKey has already been used.",
		redeemErrorReply(fmt.Errorf("redeem: %w", domain.ErrCodeAlreadyUsed)))
	require.Equal(t, "CDKey is invalid or expired.",
		redeemErrorReply(fmt.Errorf("redeem: %w", domain.ErrCodeInvalidOrExpired)))
	require.Equal(t, "Failed to redeem the key, try again later.",
		redeemErrorReply(fmt.Errorf("disk on fire")))
}

func TestIsTaxonomy(t *testing.T) {
	require.True(t, isTaxonomy(domain.ErrNotFound))
	require.True(t, isTaxonomy(fmt.Errorf("wrap: %w", domain.ErrCodeAlreadyUsed)))
	require.False(t, isTaxonomy(fmt.Errorf("connection reset")))
}
