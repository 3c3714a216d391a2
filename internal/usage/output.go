package usage

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/denysvitali/codexbar/internal/provider"
)

// Output formats
const (
	FormatText   = "text"
	FormatJSON   = "json"
	FormatWaybar = "waybar"
)

const (
	barWidth = 20
	barFull  = "█"
	barEmpty = "░"
)

// styles binds lipgloss styles to the output writer so colors are only
// emitted on terminals
type styles struct {
	header   lipgloss.Style
	normal   lipgloss.Style
	warning  lipgloss.Style
	critical lipgloss.Style
	dim      lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header:   r.NewStyle().Foreground(lipgloss.Color("86")).Bold(true),
		normal:   r.NewStyle().Foreground(lipgloss.Color("70")),
		warning:  r.NewStyle().Foreground(lipgloss.Color("214")),
		critical: r.NewStyle().Foreground(lipgloss.Color("196")),
		dim:      r.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

func (s styles) percent(w *provider.UsageWindow) string {
	remaining := w.RemainingPercent()
	if remaining == nil {
		return s.dim.Render("n/a")
	}
	text := fmt.Sprintf("%.0f%% left", *remaining)
	switch provider.Class(*w.UsedPercent) {
	case "critical":
		return s.critical.Render(text)
	case "warning":
		return s.warning.Render(text)
	default:
		return s.normal.Render(text)
	}
}

// WriteText writes one block per provider
func WriteText(w io.Writer, results []provider.Result) error {
	st := newStyles(w)
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintln(&b, st.header.Render(fmt.Sprintf("== %s (%s) ==", r.Provider, r.Source)))
		fmt.Fprintf(&b, "Session: %s\n", st.percent(r.Primary))
		fmt.Fprintf(&b, "Weekly: %s\n", st.percent(r.Secondary))
		if r.CreditsRemaining != nil {
			fmt.Fprintf(&b, "Credits: %.1f\n", *r.CreditsRemaining)
		}
		fmt.Fprintf(&b, "Updated: %s\n", r.UpdatedAt.Format(time.RFC3339))
		fmt.Fprintln(&b)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Payload is the JSON document emitted per provider
type Payload struct {
	Provider string          `json:"provider"`
	Version  string          `json:"version"`
	Source   string          `json:"source"`
	Usage    UsagePayload    `json:"usage"`
	Credits  *CreditsPayload `json:"credits"`
}

// UsagePayload carries the windows and identity of a provider
type UsagePayload struct {
	Primary             *provider.UsageWindow `json:"primary"`
	Secondary           *provider.UsageWindow `json:"secondary"`
	Tertiary            *provider.UsageWindow `json:"tertiary"`
	UpdatedAt           time.Time             `json:"updatedAt"`
	Identity            *IdentityPayload      `json:"identity"`
	AccountEmail        *string               `json:"accountEmail"`
	AccountOrganization *string               `json:"accountOrganization"`
	LoginMethod         *string               `json:"loginMethod"`
}

// IdentityPayload is IdentityInfo tagged with its provider
type IdentityPayload struct {
	ProviderID          string  `json:"providerID"`
	AccountEmail        *string `json:"accountEmail"`
	AccountOrganization *string `json:"accountOrganization"`
	LoginMethod         *string `json:"loginMethod"`
}

// CreditsPayload is the remaining credit balance
type CreditsPayload struct {
	Remaining float64   `json:"remaining"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewPayload converts a result into its JSON payload
func NewPayload(r provider.Result, version string) Payload {
	p := Payload{
		Provider: r.Provider,
		Version:  version,
		Source:   r.Source,
		Usage: UsagePayload{
			Primary:   r.Primary,
			Secondary: r.Secondary,
			Tertiary:  r.Tertiary,
			UpdatedAt: r.UpdatedAt,
		},
	}
	if id := r.Identity; id != nil {
		p.Usage.Identity = &IdentityPayload{
			ProviderID:          r.Provider,
			AccountEmail:        id.AccountEmail,
			AccountOrganization: id.AccountOrganization,
			LoginMethod:         id.LoginMethod,
		}
		p.Usage.AccountEmail = id.AccountEmail
		p.Usage.AccountOrganization = id.AccountOrganization
		p.Usage.LoginMethod = id.LoginMethod
	}
	if r.CreditsRemaining != nil {
		p.Credits = &CreditsPayload{Remaining: *r.CreditsRemaining, UpdatedAt: r.UpdatedAt}
	}
	return p
}

// WriteJSON writes the results as a JSON array of payloads
func WriteJSON(w io.Writer, results []provider.Result, version string, pretty bool) error {
	payloads := make([]Payload, 0, len(results))
	for _, r := range results {
		payloads = append(payloads, NewPayload(r, version))
	}
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(payloads); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// WaybarOutput represents the JSON format expected by waybar custom modules
type WaybarOutput struct {
	Text       string `json:"text"`
	Tooltip    string `json:"tooltip"`
	Class      string `json:"class"`
	Percentage int    `json:"percentage"`
}

// NewWaybarOutput builds a compact bar label and a detailed tooltip
func NewWaybarOutput(stats *provider.UsageStats) WaybarOutput {
	var textParts []string
	tooltip := []string{"AI Usage", ""}

	for _, r := range stats.Providers {
		if r.Primary != nil && r.Primary.UsedPercent != nil {
			textParts = append(textParts, fmt.Sprintf("%s:%.0f%%", providerShortName(r.Provider), *r.Primary.UsedPercent))
		} else if r.Secondary != nil && r.Secondary.UsedPercent != nil {
			textParts = append(textParts, fmt.Sprintf("%s:%.0f%%", providerShortName(r.Provider), *r.Secondary.UsedPercent))
		}

		for _, named := range namedWindows(r) {
			if named.window.UsedPercent == nil {
				continue
			}
			line := fmt.Sprintf("%s %s: %s %.1f%%", ProviderName(r.Provider), named.label, RenderProgressBar(*named.window.UsedPercent), *named.window.UsedPercent)
			if d := TimeUntilReset(named.window); d != nil {
				line += fmt.Sprintf(" (resets in %s)", FormatDuration(*d))
			}
			tooltip = append(tooltip, line)
		}
		if r.CreditsRemaining != nil {
			tooltip = append(tooltip, fmt.Sprintf("%s credits: %.1f", ProviderName(r.Provider), *r.CreditsRemaining))
		}
	}
	for _, id := range stats.Missing {
		tooltip = append(tooltip, fmt.Sprintf("%s: no data", ProviderName(id)))
	}

	return WaybarOutput{
		Text:       strings.Join(textParts, " "),
		Tooltip:    strings.Join(tooltip, "\n"),
		Class:      stats.GetClass(),
		Percentage: int(stats.MaxUtilization()),
	}
}

// WriteWaybar writes usage stats in waybar JSON format
func WriteWaybar(w io.Writer, stats *provider.UsageStats) error {
	if err := json.NewEncoder(w).Encode(NewWaybarOutput(stats)); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// WriteWaybarError writes an error in waybar JSON format
func WriteWaybarError(w io.Writer, msg string) error {
	return json.NewEncoder(w).Encode(WaybarOutput{
		Text:    "AI: n/a",
		Tooltip: msg,
		Class:   "error",
	})
}

type namedWindow struct {
	label  string
	window *provider.UsageWindow
}

func namedWindows(r provider.Result) []namedWindow {
	var out []namedWindow
	if r.Primary != nil {
		out = append(out, namedWindow{"Session", r.Primary})
	}
	if r.Secondary != nil {
		out = append(out, namedWindow{"Weekly", r.Secondary})
	}
	if r.Tertiary != nil {
		out = append(out, namedWindow{"Weekly (model)", r.Tertiary})
	}
	return out
}

// TimeUntilReset returns the duration until the window resets, when its
// reset time is an RFC3339 timestamp
func TimeUntilReset(w *provider.UsageWindow) *time.Duration {
	if w == nil || w.ResetsAt == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *w.ResetsAt)
	if err != nil {
		return nil
	}
	d := time.Until(t)
	return &d
}

// RenderProgressBar renders a progress bar for the given percentage
func RenderProgressBar(percentage float64) string {
	filled := int(percentage / 100 * float64(barWidth))
	filled = max(0, min(filled, barWidth))

	return strings.Repeat(barFull, filled) + strings.Repeat(barEmpty, barWidth-filled)
}

// FormatDuration formats a duration for human-readable output
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	parts := []string{}
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}

	return strings.Join(parts, " ")
}

// ProviderName returns the display name for a provider
func ProviderName(id string) string {
	switch id {
	case provider.Codex:
		return "Codex"
	case provider.Claude:
		return "Claude"
	default:
		return strings.ToUpper(id)
	}
}

func providerShortName(id string) string {
	switch id {
	case provider.Codex:
		return "CX"
	case provider.Claude:
		return "CL"
	case "":
		return "?"
	default:
		return strings.ToUpper(id[:1])
	}
}
