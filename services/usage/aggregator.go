package usage

import (
	"sort"
	"sync"
	"time"
)

// Counters accumulates usage for one provider or one provider/model pair
type Counters struct {
	Requests         int64   `json:"requests"`
	Successes        int64   `json:"successes"`
	Failures         int64   `json:"failures"`
	Unpriced         int64   `json:"unpriced"`
	PromptTokens     int64   `json:"promptTokens"`
	CompletionTokens int64   `json:"completionTokens"`
	TotalTokens      int64   `json:"totalTokens"`
	Cost             float64 `json:"cost"`
	TotalDurationMs  int64   `json:"totalDurationMs"`
	AvgDurationMs    float64 `json:"avgDurationMs"`
}

func (c *Counters) add(rec UsageRecord) {
	c.Requests++
	if rec.Success {
		c.Successes++
		if !rec.Priced {
			c.Unpriced++
		}
	} else {
		c.Failures++
	}
	c.PromptTokens += int64(rec.PromptTokens)
	c.CompletionTokens += int64(rec.CompletionTokens)
	c.TotalTokens += int64(rec.TotalTokens)
	c.Cost += rec.Cost
	c.TotalDurationMs += rec.DurationMs
	c.AvgDurationMs = float64(c.TotalDurationMs) / float64(c.Requests)
}

// ModelStats is the usage of one model of a provider
type ModelStats struct {
	Model string `json:"model"`
	Counters
}

// ProviderStats is the usage of one provider with its per-model breakdown
type ProviderStats struct {
	Provider string `json:"provider"`
	Counters
	Models []ModelStats `json:"models"`
}

// Stats is a point-in-time copy of the aggregated usage
type Stats struct {
	Since       time.Time       `json:"since"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Totals      Counters        `json:"totals"`
	Providers   []ProviderStats `json:"providers"`
}

type providerEntry struct {
	counters Counters
	models   map[string]*Counters
}

// Aggregator keeps running usage counters in memory
type Aggregator struct {
	mu        sync.Mutex
	since     time.Time
	totals    Counters
	providers map[string]*providerEntry
	now       func() time.Time
}

// NewAggregator creates an empty Aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{
		since:     time.Now().UTC(),
		providers: make(map[string]*providerEntry),
		now:       time.Now,
	}
}

// Record implements Sink
func (a *Aggregator) Record(rec UsageRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.providers[rec.Provider]
	if !ok {
		entry = &providerEntry{models: make(map[string]*Counters)}
		a.providers[rec.Provider] = entry
	}
	model, ok := entry.models[rec.Model]
	if !ok {
		model = &Counters{}
		entry.models[rec.Model] = model
	}

	a.totals.add(rec)
	entry.counters.add(rec)
	model.add(rec)
}

// Snapshot returns a copy of the counters, providers and models sorted by name
func (a *Aggregator) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := Stats{
		Since:       a.since,
		GeneratedAt: a.now().UTC(),
		Totals:      a.totals,
		Providers:   make([]ProviderStats, 0, len(a.providers)),
	}
	for id, entry := range a.providers {
		ps := ProviderStats{
			Provider: id,
			Counters: entry.counters,
			Models:   make([]ModelStats, 0, len(entry.models)),
		}
		for model, counters := range entry.models {
			ps.Models = append(ps.Models, ModelStats{Model: model, Counters: *counters})
		}
		sort.Slice(ps.Models, func(i, j int) bool { return ps.Models[i].Model < ps.Models[j].Model })
		stats.Providers = append(stats.Providers, ps)
	}
	sort.Slice(stats.Providers, func(i, j int) bool { return stats.Providers[i].Provider < stats.Providers[j].Provider })
	return stats
}

// Reset clears all counters
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.since = a.now().UTC()
	a.totals = Counters{}
	a.providers = make(map[string]*providerEntry)
}
