package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/groupgate/groupgate/internal/domain"
)

const (
	codeLength = 16

	// Freshly minted keys must be assigned within a month regardless of the
	// grant length they carry.
	codeIssueWindow = 30 * 24 * time.Hour
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// LicenseService owns the cdkey lifecycle: issuance, redemption and the
// group-expiry arithmetic. Expiry is evaluated lazily at query time; nothing
// here runs in the background.
type LicenseService struct {
	keys   domain.CDKeyRepository
	groups domain.GroupRepository
	logger *slog.Logger
}

func NewLicenseService(keys domain.CDKeyRepository, groups domain.GroupRepository, logger *slog.Logger) *LicenseService {
	return &LicenseService{
		keys:   keys,
		groups: groups,
		logger: logger.With("component", "license"),
	}
}

// IssueCodes mints count keys granting days each. The whole batch shares one
// issuance window of now + 30 days. A primary-key collision fails the insert;
// with 36^16 codes that is a retry for the operator, not a code path.
func (s *LicenseService) IssueCodes(ctx context.Context, days, count int) ([]domain.CDKey, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}

	now := time.Now()
	expires := now.Add(codeIssueWindow)

	keys := make([]domain.CDKey, 0, count)
	for i := 0; i < count; i++ {
		key := domain.CDKey{
			Code:    generateCode(codeLength),
			Days:    days,
			Created: now,
			Expires: expires,
		}
		if err := s.keys.Create(ctx, &key); err != nil {
			return nil, fmt.Errorf("failed to issue code %d of %d: %w", i+1, count, err)
		}
		keys = append(keys, key)
	}

	s.logger.Info("codes issued", "days", days, "count", count)
	return keys, nil
}

// Redeemable reports whether the code exists, is unused and is still inside
// its issuance window.
func (s *LicenseService) Redeemable(ctx context.Context, code string) (bool, error) {
	key, err := s.keys.Get(ctx, code)
	if err != nil {
		return false, err
	}
	if key == nil || key.Used {
		return false, nil
	}
	if !key.Expires.IsZero() && !time.Now().Before(key.Expires) {
		return false, nil
	}
	return true, nil
}

// Redeem consumes the code for the group and returns the new expiry. The
// grant always extends forward from whichever is later, the current expiry or
// now: stacking onto a live license, restarting from now on a lapsed one.
func (s *LicenseService) Redeem(ctx context.Context, code, groupID string) (time.Time, error) {
	key, err := s.keys.Get(ctx, code)
	if err != nil {
		return time.Time{}, err
	}

	now := time.Now()
	if key == nil || (!key.Expires.IsZero() && !now.Before(key.Expires)) {
		return time.Time{}, domain.ErrCodeInvalidOrExpired
	}
	if key.Used {
		return time.Time{}, domain.ErrCodeAlreadyUsed
	}

	current, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return time.Time{}, err
	}

	base := now
	if current.Authorized(now) {
		base = *current.Expires
	}
	newExpires := base.AddDate(0, 0, key.Days)

	if err := s.keys.Redeem(ctx, code, groupID, key.Days, newExpires); err != nil {
		return time.Time{}, err
	}

	s.logger.Info("cdkey redeemed", "group", groupID, "days", key.Days, "expires", newExpires)
	return newExpires, nil
}

func (s *LicenseService) IsAuthorized(ctx context.Context, groupID string) (bool, error) {
	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return false, err
	}
	return group.Authorized(time.Now()), nil
}

// RemainingDays returns whole authorized days left, zero for unauthorized or
// unknown groups.
func (s *LicenseService) RemainingDays(ctx context.Context, groupID string) (int, error) {
	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	if !group.Authorized(now) {
		return 0, nil
	}
	days := int(group.Expires.Sub(now).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days, nil
}

func (s *LicenseService) Expiry(ctx context.Context, groupID string) (*time.Time, error) {
	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, nil
	}
	return group.Expires, nil
}

func (s *LicenseService) DeleteCode(ctx context.Context, code string) error {
	return s.keys.Delete(ctx, code)
}

func (s *LicenseService) ListCodes(ctx context.Context) ([]domain.CDKey, error) {
	return s.keys.List(ctx)
}

// ExpiringGroups returns groups whose license lapses within the next given
// number of days, soonest first.
func (s *LicenseService) ExpiringGroups(ctx context.Context, withinDays int) ([]domain.GroupAuth, error) {
	return s.groups.Expiring(ctx, time.Now(), time.Duration(withinDays)*24*time.Hour)
}

func generateCode(length int) string {
	code := make([]byte, 0, length)
	buf := make([]byte, 1)
	for len(code) < length {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
		}
		// rejection sampling keeps the draw uniform over the alphabet
		if int(buf[0]) >= 256-256%len(codeAlphabet) {
			continue
		}
		code = append(code, codeAlphabet[int(buf[0])%len(codeAlphabet)])
	}
	return string(code)
}
