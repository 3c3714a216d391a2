// Package usage resolves provider usage by walking each provider's ordered
// strategies, and renders the results.
package usage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"pkt.systems/pslog"

	"github.com/denysvitali/codexbar/internal/process"
	"github.com/denysvitali/codexbar/internal/provider"
	"github.com/denysvitali/codexbar/internal/scrape"
)

// SourceAuto disables source filtering
const SourceAuto = "auto"

// ErrAllProvidersFailed is matched by AllProvidersFailedError
var ErrAllProvidersFailed = errors.New("no live usage data available")

// AllProvidersFailedError is returned when no requested provider produced data
type AllProvidersFailedError struct {
	Selector string
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("no live usage data available for provider '%s'; ensure corresponding CLI tools are installed and authenticated", e.Selector)
}

// Is makes errors.Is(err, ErrAllProvidersFailed) hold
func (e *AllProvidersFailedError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

// Strategy is one acquisition method for a provider
type Strategy = provider.Strategy

// ProviderStrategies is a provider and its strategies in priority order
type ProviderStrategies struct {
	ID         string
	Strategies []Strategy
}

// Strategy outcomes reported to an Observer
const (
	OutcomeOK          = "ok"
	OutcomeEmpty       = "empty"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Observer is told about every strategy attempt
type Observer interface {
	ObserveStrategy(providerID, source, outcome string, elapsed time.Duration)
}

// Engine resolves usage for a fixed, ordered set of providers
type Engine struct {
	Providers []ProviderStrategies
	// Sources restricts strategies to these source labels. Empty means all.
	Sources []string
	// Observer may be nil
	Observer Observer
}

// NewEngine creates an engine over providers in the given order
func NewEngine(providers ...ProviderStrategies) *Engine {
	return &Engine{Providers: providers}
}

// WithSource restricts the engine to a single source label. "auto" and ""
// clear the filter.
func (e *Engine) WithSource(source string) *Engine {
	source = strings.TrimSpace(strings.ToLower(source))
	if source == "" || source == SourceAuto {
		e.Sources = nil
		return e
	}
	e.Sources = strings.Split(source, ",")
	return e
}

// ProviderIDs returns the configured provider IDs in order
func (e *Engine) ProviderIDs() []string {
	ids := make([]string, 0, len(e.Providers))
	for _, p := range e.Providers {
		ids = append(ids, p.ID)
	}
	return ids
}

// ParseSelector turns "all", "both" or a comma separated list into
// provider IDs in engine order
func (e *Engine) ParseSelector(selector string) ([]string, error) {
	normalized := strings.TrimSpace(strings.ToLower(selector))
	if normalized == "" || normalized == "all" || normalized == "both" {
		return e.ProviderIDs(), nil
	}

	known := e.ProviderIDs()
	var requested []string
	for _, name := range strings.Split(normalized, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !slices.Contains(known, name) {
			return nil, fmt.Errorf("unknown provider '%s'", strings.TrimSpace(selector))
		}
		requested = append(requested, name)
	}
	if len(requested) == 0 {
		return nil, fmt.Errorf("unknown provider '%s'", strings.TrimSpace(selector))
	}

	ids := make([]string, 0, len(requested))
	for _, id := range known {
		if slices.Contains(requested, id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Resolve returns the first usable result of every selected provider.
// Providers are resolved one after another. Partial success is not an
// error; when nothing at all was found the error is an
// *AllProvidersFailedError.
func (e *Engine) Resolve(ctx context.Context, selector string) (*provider.UsageStats, error) {
	ids, err := e.ParseSelector(selector)
	if err != nil {
		return nil, err
	}
	log := pslog.Ctx(ctx)

	stats := &provider.UsageStats{}
	for _, id := range ids {
		result := e.resolveProvider(ctx, e.lookup(id))
		if result == nil {
			log.Warn("provider has no live usage data", "provider", id)
			stats.Missing = append(stats.Missing, id)
			continue
		}
		stats.Providers = append(stats.Providers, *result)
	}

	if !stats.OK() {
		return stats, &AllProvidersFailedError{Selector: selector}
	}
	return stats, nil
}

func (e *Engine) lookup(id string) ProviderStrategies {
	for _, p := range e.Providers {
		if p.ID == id {
			return p
		}
	}
	return ProviderStrategies{ID: id}
}

func (e *Engine) resolveProvider(ctx context.Context, p ProviderStrategies) *provider.Result {
	log := pslog.Ctx(ctx)
	for _, strategy := range p.Strategies {
		source := strategy.Source()
		if len(e.Sources) > 0 && !slices.Contains(e.Sources, source) {
			continue
		}

		start := time.Now()
		result, err := strategy.Fetch(ctx)
		elapsed := time.Since(start)
		if err != nil {
			if isRoutine(err) {
				e.observe(p.ID, source, OutcomeUnavailable, elapsed)
				log.Debug("strategy unavailable, trying next", "provider", p.ID, "source", source, "err", err)
			} else {
				e.observe(p.ID, source, OutcomeError, elapsed)
				log.Warn("strategy failed, trying next", "provider", p.ID, "source", source, "err", err)
			}
			continue
		}
		if !result.HasData() {
			e.observe(p.ID, source, OutcomeEmpty, elapsed)
			log.Debug("strategy returned no data", "provider", p.ID, "source", source)
			continue
		}
		e.observe(p.ID, source, OutcomeOK, elapsed)
		log.Debug("strategy succeeded", "provider", p.ID, "source", source, "elapsed", elapsed)
		return result
	}
	return nil
}

func (e *Engine) observe(providerID, source, outcome string, elapsed time.Duration) {
	if e.Observer != nil {
		e.Observer.ObserveStrategy(providerID, source, outcome, elapsed)
	}
}

// SourcesOf returns the source labels of a provider's strategies in order
func (e *Engine) SourcesOf(id string) []string {
	p := e.lookup(id)
	out := make([]string, 0, len(p.Strategies))
	for _, s := range p.Strategies {
		out = append(out, s.Source())
	}
	return out
}

// isRoutine reports errors that only mean "this channel is not usable here"
func isRoutine(err error) bool {
	return process.IsUnavailable(err) || errors.Is(err, scrape.ErrParseFailure)
}
