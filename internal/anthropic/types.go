package anthropic

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/denysvitali/codexbar/internal/provider"
)

// Usage is the parsed OAuth usage response
type Usage struct {
	FiveHour       *provider.UsageWindow
	SevenDay       *provider.UsageWindow
	SevenDaySonnet *provider.UsageWindow
	SevenDayOpus   *provider.UsageWindow
	ExtraUsage     *ExtraUsage
}

// ExtraUsage represents additional usage credits beyond the subscription
type ExtraUsage struct {
	IsEnabled    bool
	MonthlyLimit *float64
	UsedCredits  *float64
}

// Remaining returns the monthly limit minus used credits, floored at zero,
// or nil when extra usage is disabled or either figure is missing
func (e *ExtraUsage) Remaining() *float64 {
	if e == nil || !e.IsEnabled || e.MonthlyLimit == nil || e.UsedCredits == nil {
		return nil
	}
	v := math.Max(0, *e.MonthlyLimit-*e.UsedCredits)
	return &v
}

// Tertiary returns the model-specific weekly window, Sonnet before Opus
func (u *Usage) Tertiary() *provider.UsageWindow {
	if u.SevenDaySonnet != nil {
		return u.SevenDaySonnet
	}
	return u.SevenDayOpus
}

// HasWindows reports whether any rate-limit window was present
func (u *Usage) HasWindows() bool {
	return u.FiveHour != nil || u.SevenDay != nil || u.Tertiary() != nil
}

// ParseUsage reads the usage response body
func ParseUsage(body []byte) (*Usage, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, errors.New("expected a JSON object")
	}

	u := &Usage{
		FiveHour:       window(root.Get("five_hour"), provider.SessionWindowMinutes),
		SevenDay:       window(root.Get("seven_day"), provider.WeeklyWindowMinutes),
		SevenDaySonnet: window(root.Get("seven_day_sonnet"), provider.WeeklyWindowMinutes),
		SevenDayOpus:   window(root.Get("seven_day_opus"), provider.WeeklyWindowMinutes),
	}
	if extra := root.Get("extra_usage"); extra.IsObject() {
		u.ExtraUsage = &ExtraUsage{
			IsEnabled:    extra.Get("is_enabled").Bool(),
			MonthlyLimit: number(extra.Get("monthly_limit")),
			UsedCredits:  number(extra.Get("used_credits")),
		}
	}
	return u, nil
}

// window builds a rate window from a usage object. It needs a utilization or
// a reset time to count.
func window(v gjson.Result, minutes uint64) *provider.UsageWindow {
	if !v.IsObject() {
		return nil
	}
	used := number(v.Get("utilization"))

	var resetsAt *string
	switch r := v.Get("resets_at"); r.Type {
	case gjson.String:
		if s := strings.TrimSpace(r.Str); s != "" {
			resetsAt = &s
		}
	case gjson.Number:
		resetsAt = provider.UnixResetsAt(r.Int())
	}

	if used == nil && resetsAt == nil {
		return nil
	}
	return provider.NewWindow(used, minutes, resetsAt)
}

// number accepts a JSON number or a numeric string
func number(v gjson.Result) *float64 {
	switch v.Type {
	case gjson.Number:
		f := v.Num
		return &f
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil || math.IsNaN(f) {
			return nil
		}
		return &f
	}
	return nil
}
