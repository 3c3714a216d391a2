// Package provider defines the usage data shared by every provider and
// acquisition strategy.
package provider

import (
	"context"
	"math"
	"time"
)

// Provider IDs
const (
	Codex  = "codex"
	Claude = "claude"
)

// Window lengths in minutes
const (
	SessionWindowMinutes = 300
	WeeklyWindowMinutes  = 10080
)

// UsageWindow is one rate-limit bucket. Nil fields are unknown, never zero.
type UsageWindow struct {
	UsedPercent   *float64 `json:"usedPercent"`
	WindowMinutes *uint64  `json:"windowMinutes"`
	ResetsAt      *string  `json:"resetsAt"`
}

// RemainingPercent returns 100 minus the used percentage, clamped, or nil
// when usage is unknown
func (w *UsageWindow) RemainingPercent() *float64 {
	if w == nil || w.UsedPercent == nil {
		return nil
	}
	v := Clamp(100 - *w.UsedPercent)
	return &v
}

// IdentityInfo describes the account a result belongs to
type IdentityInfo struct {
	AccountEmail        *string `json:"accountEmail"`
	AccountOrganization *string `json:"accountOrganization"`
	LoginMethod         *string `json:"loginMethod"`
}

// Result is the usage reported by one provider through one strategy
type Result struct {
	Provider         string        `json:"provider"`
	Source           string        `json:"source"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	Primary          *UsageWindow  `json:"primary"`
	Secondary        *UsageWindow  `json:"secondary"`
	Tertiary         *UsageWindow  `json:"tertiary"`
	CreditsRemaining *float64      `json:"creditsRemaining"`
	Identity         *IdentityInfo `json:"identity"`
}

// HasData reports whether the result carries any window or credits
func (r *Result) HasData() bool {
	if r == nil {
		return false
	}
	return r.Primary != nil || r.Secondary != nil || r.Tertiary != nil || r.CreditsRemaining != nil
}

// Windows returns the non-nil windows in primary, secondary, tertiary order
func (r *Result) Windows() []*UsageWindow {
	var out []*UsageWindow
	for _, w := range []*UsageWindow{r.Primary, r.Secondary, r.Tertiary} {
		if w != nil {
			out = append(out, w)
		}
	}
	return out
}

// UsageStats aggregates results from multiple providers
type UsageStats struct {
	Providers []Result `json:"providers"`
	// Missing lists providers for which no strategy produced data
	Missing []string `json:"missing,omitempty"`
}

// OK reports whether at least one provider produced data
func (s *UsageStats) OK() bool {
	return s != nil && len(s.Providers) > 0
}

// MaxUtilization returns the highest used percentage across all providers
func (s *UsageStats) MaxUtilization() float64 {
	var maxUtil float64
	for i := range s.Providers {
		for _, w := range s.Providers[i].Windows() {
			if w.UsedPercent != nil && *w.UsedPercent > maxUtil {
				maxUtil = *w.UsedPercent
			}
		}
	}
	return maxUtil
}

// Class maps a used percentage to a severity class
func Class(used float64) string {
	if used >= 90 {
		return "critical"
	} else if used >= 75 {
		return "warning"
	}
	return "normal"
}

// GetClass returns the severity class of the busiest window
func (s *UsageStats) GetClass() string {
	return Class(s.MaxUtilization())
}

// ProviderByID returns the result for a provider ID
func (s *UsageStats) ProviderByID(id string) *Result {
	for i := range s.Providers {
		if s.Providers[i].Provider == id {
			return &s.Providers[i]
		}
	}
	return nil
}

// Clamp bounds a percentage to [0, 100]. NaN becomes 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

// NewWindow builds a window with a clamped used percentage. used and resetsAt
// may be nil.
func NewWindow(used *float64, minutes uint64, resetsAt *string) *UsageWindow {
	w := &UsageWindow{ResetsAt: resetsAt}
	if used != nil {
		v := Clamp(*used)
		w.UsedPercent = &v
	}
	if minutes > 0 {
		w.WindowMinutes = &minutes
	}
	return w
}

// UnixResetsAt renders a unix timestamp in seconds as RFC3339 UTC
func UnixResetsAt(sec int64) *string {
	s := time.Unix(sec, 0).UTC().Format(time.RFC3339)
	return &s
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}

// Strategy is one way of acquiring a provider's usage. Fetch returns nil
// without error when the channel works but has nothing to report.
type Strategy interface {
	// Source is the label recorded on results from this strategy
	Source() string
	Fetch(ctx context.Context) (*Result, error)
}
