package domain

import "time"

// CDKey is a single-use redemption code. Its own Expires is the issuance
// window: an unredeemed key past that date is dead regardless of Days.
type CDKey struct {
	Code    string
	Days    int
	Created time.Time
	Expires time.Time
	Used    bool
	UsedBy  string
	UsedAt  *time.Time
}

// GroupAuth is the per-group authorization record. A nil Expires or one in
// the past means the group is not licensed.
type GroupAuth struct {
	GroupID  string
	CDKey    string
	Days     int
	Expires  *time.Time
	AuthedAt *time.Time
	Plugins  map[string]bool
}

// Authorized reports whether the group holds a live license at the given time.
func (g *GroupAuth) Authorized(now time.Time) bool {
	return g != nil && g.Expires != nil && g.Expires.After(now)
}

// PluginDescriptor describes one optional plugin known to the bot. Plugins
// absent from a group's state map fall back to DefaultEnabled on the first
// catalog sync, and to disabled before that.
type PluginDescriptor struct {
	Name           string
	DefaultEnabled bool
}

// Verdict is the gating decision for one inbound event.
type Verdict struct {
	Allow  bool
	Reason string
}

func Allowed() Verdict { return Verdict{Allow: true} }

func Denied(reason string) Verdict { return Verdict{Reason: reason} }
