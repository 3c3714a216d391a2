// Package snapshot builds the compact document desktop widgets poll for
// usage data.
package snapshot

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/denysvitali/codexbar/internal/provider"
)

// SchemaVersion is the envelope schema understood by widget consumers
const SchemaVersion = 1

// ErrInvalidInput is returned when usage JSON cannot be decoded
var ErrInvalidInput = errors.New("invalid usage JSON")

// Entry is one provider in a snapshot
type Entry struct {
	Provider                   string                 `json:"provider"`
	Source                     *string                `json:"source"`
	UpdatedAt                  string                 `json:"updatedAt"`
	Primary                    *provider.UsageWindow  `json:"primary"`
	Secondary                  *provider.UsageWindow  `json:"secondary"`
	Tertiary                   *provider.UsageWindow  `json:"tertiary"`
	CreditsRemaining           *float64               `json:"creditsRemaining"`
	CodeReviewRemainingPercent *float64               `json:"codeReviewRemainingPercent"`
	Identity                   *provider.IdentityInfo `json:"identity"`
}

// WidgetSnapshot is the full document
type WidgetSnapshot struct {
	GeneratedAt      string   `json:"generatedAt"`
	EnabledProviders []string `json:"enabledProviders"`
	Entries          []Entry  `json:"entries"`
}

// Envelope wraps a snapshot with its schema version
type Envelope struct {
	SchemaVersion int            `json:"schemaVersion"`
	Snapshot      WidgetSnapshot `json:"snapshot"`
}

// Wrap returns the snapshot inside a versioned envelope
func (s WidgetSnapshot) Wrap() Envelope {
	return Envelope{SchemaVersion: SchemaVersion, Snapshot: s}
}

// New builds a snapshot from resolved usage
func New(stats *provider.UsageStats, now time.Time) WidgetSnapshot {
	snap := WidgetSnapshot{
		GeneratedAt:      now.UTC().Format(time.RFC3339),
		EnabledProviders: []string{},
		Entries:          []Entry{},
	}
	if stats == nil {
		return snap
	}
	for _, r := range stats.Providers {
		e := Entry{
			Provider:         r.Provider,
			UpdatedAt:        r.UpdatedAt.UTC().Format(time.RFC3339),
			Primary:          r.Primary,
			Secondary:        r.Secondary,
			Tertiary:         r.Tertiary,
			CreditsRemaining: r.CreditsRemaining,
			Identity:         r.Identity,
		}
		if r.Source != "" {
			e.Source = provider.Ptr(r.Source)
		}
		snap.add(e)
	}
	return snap
}

func (s *WidgetSnapshot) add(e Entry) {
	s.Entries = append(s.Entries, e)
	s.EnabledProviders = append(s.EnabledProviders, e.Provider)
}

// FromUsageJSON builds a snapshot from the output of `codexbar usage
// --format json`. data may be a single object, an array of objects, or one
// object per line. Values without a provider are skipped.
func FromUsageJSON(data []byte, now time.Time) (WidgetSnapshot, error) {
	values, err := splitValues(data)
	if err != nil {
		return WidgetSnapshot{}, err
	}
	generated := now.UTC().Format(time.RFC3339)
	snap := WidgetSnapshot{GeneratedAt: generated, EnabledProviders: []string{}, Entries: []Entry{}}
	for _, v := range values {
		if e, ok := entryFromPayload(v, generated); ok {
			snap.add(e)
		}
	}
	return snap, nil
}

func splitValues(data []byte) ([]gjson.Result, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}
	if gjson.ValidBytes(trimmed) {
		v := gjson.ParseBytes(trimmed)
		switch {
		case v.IsArray():
			return v.Array(), nil
		case v.IsObject():
			return []gjson.Result{v}, nil
		default:
			return nil, fmt.Errorf("%w: payload must be an object or an array", ErrInvalidInput)
		}
	}

	var values []gjson.Result
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || !gjson.ValidBytes(line) {
			continue
		}
		values = append(values, gjson.ParseBytes(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: unable to parse payload", ErrInvalidInput)
	}
	return values, nil
}

func entryFromPayload(v gjson.Result, fallbackTime string) (Entry, bool) {
	p := v.Get("provider")
	if p.Type != gjson.String {
		return Entry{}, false
	}
	usage := v.Get("usage")

	e := Entry{
		Provider:                   p.String(),
		Source:                     str(v.Get("source")),
		UpdatedAt:                  fallbackTime,
		Primary:                    window(usage.Get("primary")),
		Secondary:                  window(usage.Get("secondary")),
		Tertiary:                   window(usage.Get("tertiary")),
		CreditsRemaining:           number(v.Get("credits.remaining")),
		CodeReviewRemainingPercent: number(v.Get("openaiDashboard.codeReviewRemainingPercent")),
	}
	if s := str(usage.Get("updatedAt")); s != nil {
		e.UpdatedAt = *s
	} else if s := str(v.Get("updatedAt")); s != nil {
		e.UpdatedAt = *s
	}
	if id := usage.Get("identity"); id.IsObject() {
		e.Identity = &provider.IdentityInfo{
			AccountEmail:        str(id.Get("accountEmail")),
			AccountOrganization: str(id.Get("accountOrganization")),
			LoginMethod:         str(id.Get("loginMethod")),
		}
	}
	return e, true
}

func window(v gjson.Result) *provider.UsageWindow {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	w := &provider.UsageWindow{
		UsedPercent: number(v.Get("usedPercent")),
		ResetsAt:    str(v.Get("resetsAt")),
	}
	if m := v.Get("windowMinutes"); m.Exists() {
		switch m.Type {
		case gjson.Number:
			if m.Num >= 0 && m.Num == float64(uint64(m.Num)) {
				w.WindowMinutes = provider.Ptr(uint64(m.Num))
			}
		case gjson.String:
			if n, err := strconv.ParseUint(m.Str, 10, 64); err == nil {
				w.WindowMinutes = &n
			}
		}
	}
	return w
}

func str(v gjson.Result) *string {
	if v.Type != gjson.String {
		return nil
	}
	return provider.Ptr(v.Str)
}

func number(v gjson.Result) *float64 {
	switch v.Type {
	case gjson.Number:
		return provider.Ptr(v.Num)
	case gjson.String:
		if f, err := strconv.ParseFloat(v.Str, 64); err == nil {
			return &f
		}
	}
	return nil
}
