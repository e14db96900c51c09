package pricing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReferenceCurrency is the currency every computed cost is expressed in
const ReferenceCurrency = "USD"

// defaultModelKey matches any model of a provider without its own entry
const defaultModelKey = "default"

// PriceEntry is the per-token price of one provider model
type PriceEntry struct {
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	InputPerToken  float64 `json:"inputPerToken"`
	OutputPerToken float64 `json:"outputPerToken"`
	Currency       string  `json:"currency"`
}

// ModelPricing defines per-1k token pricing as written in the pricing file
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k"`
	Currency        string  `yaml:"currency,omitempty"`
}

// PricingConfig maps provider -> model -> pricing
type PricingConfig map[string]map[string]ModelPricing

// FileConfig is the layout of the pricing file
type FileConfig struct {
	// ExchangeRates converts one unit of a currency into the reference currency
	ExchangeRates map[string]float64 `yaml:"exchange_rates,omitempty"`
	Pricing       PricingConfig      `yaml:"pricing"`
}

type entryKey struct {
	provider string
	model    string
}

// Table is a read-only price table with exchange rates
type Table struct {
	entries map[entryKey]PriceEntry
	rates   map[string]float64
}

// NewTable builds a table from entries and exchange rates
func NewTable(entries []PriceEntry, rates map[string]float64) *Table {
	t := &Table{
		entries: make(map[entryKey]PriceEntry, len(entries)),
		rates:   map[string]float64{ReferenceCurrency: 1},
	}
	for currency, rate := range rates {
		t.rates[strings.ToUpper(currency)] = rate
	}
	for _, e := range entries {
		if e.Currency == "" {
			e.Currency = ReferenceCurrency
		}
		e.Currency = strings.ToUpper(e.Currency)
		t.entries[entryKey{e.Provider, e.Model}] = e
	}
	return t
}

// Lookup returns the entry for a provider model, falling back to the
// provider's "default" entry.
func (t *Table) Lookup(providerID, modelID string) (PriceEntry, bool) {
	if e, ok := t.entries[entryKey{providerID, modelID}]; ok {
		return e, true
	}
	if e, ok := t.entries[entryKey{providerID, defaultModelKey}]; ok {
		return e, true
	}
	return PriceEntry{}, false
}

// Rate returns the exchange rate from currency to the reference currency
func (t *Table) Rate(currency string) (float64, bool) {
	rate, ok := t.rates[strings.ToUpper(currency)]
	return rate, ok
}

// Entries returns every entry sorted by provider then model
func (t *Table) Entries() []PriceEntry {
	out := make([]PriceEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// WithRate returns a copy of the table with one exchange rate replaced
func (t *Table) WithRate(currency string, rate float64) *Table {
	rates := make(map[string]float64, len(t.rates)+1)
	for k, v := range t.rates {
		rates[k] = v
	}
	rates[strings.ToUpper(currency)] = rate
	return NewTable(t.Entries(), rates)
}

// Overlay returns a copy of the table with file entries added or replaced
func (t *Table) Overlay(cfg FileConfig) *Table {
	entries := make(map[entryKey]PriceEntry, len(t.entries))
	for k, v := range t.entries {
		entries[k] = v
	}
	for provider, models := range cfg.Pricing {
		for model, p := range models {
			entries[entryKey{provider, model}] = PriceEntry{
				Provider:       provider,
				Model:          model,
				InputPerToken:  p.PromptPer1K / 1000,
				OutputPerToken: p.CompletionPer1K / 1000,
				Currency:       p.Currency,
			}
		}
	}

	rates := make(map[string]float64, len(t.rates)+len(cfg.ExchangeRates))
	for k, v := range t.rates {
		rates[k] = v
	}
	for k, v := range cfg.ExchangeRates {
		rates[strings.ToUpper(k)] = v
	}

	list := make([]PriceEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	return NewTable(list, rates)
}

// LoadFile reads a pricing file and overlays it on base
func LoadFile(path string, base *Table) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}

	for provider, models := range cfg.Pricing {
		for model, p := range models {
			if p.PromptPer1K < 0 || p.CompletionPer1K < 0 {
				return nil, fmt.Errorf("pricing for %s/%s cannot be negative", provider, model)
			}
		}
	}
	for currency, rate := range cfg.ExchangeRates {
		if rate <= 0 {
			return nil, fmt.Errorf("exchange rate for %s must be positive", currency)
		}
	}

	return base.Overlay(cfg), nil
}

func per1K(provider, model string, prompt, completion float64, currency string) PriceEntry {
	return PriceEntry{
		Provider:       provider,
		Model:          model,
		InputPerToken:  prompt / 1000,
		OutputPerToken: completion / 1000,
		Currency:       currency,
	}
}

// DefaultCNYRate converts CNY to USD when no rate is configured
const DefaultCNYRate = 0.14

// DefaultTable returns the built-in price table
func DefaultTable() *Table {
	return NewTable(DefaultEntries(), map[string]float64{"CNY": DefaultCNYRate})
}

// DefaultEntries returns the built-in prices, per 1K tokens as published by each vendor
func DefaultEntries() []PriceEntry {
	return []PriceEntry{
		per1K("openai", "gpt-4", 0.03, 0.06, "USD"),
		per1K("openai", "gpt-4-turbo", 0.01, 0.03, "USD"),
		per1K("openai", "gpt-4o", 0.005, 0.015, "USD"),
		per1K("openai", "gpt-4o-mini", 0.00015, 0.0006, "USD"),
		per1K("openai", "gpt-3.5-turbo", 0.0005, 0.0015, "USD"),

		per1K("anthropic", "claude-3-5-sonnet-20241022", 0.003, 0.015, "USD"),
		per1K("anthropic", "claude-3-5-haiku-20241022", 0.0008, 0.004, "USD"),
		per1K("anthropic", "claude-3-opus-20240229", 0.015, 0.075, "USD"),
		per1K("anthropic", "claude-3-haiku-20240307", 0.00025, 0.00125, "USD"),

		per1K("baidu", "ernie-4.0-8k", 0.03, 0.09, "CNY"),
		per1K("baidu", "ernie-3.5-8k", 0.0008, 0.002, "CNY"),
		per1K("baidu", "ernie-speed-128k", 0, 0, "CNY"),
		per1K("baidu", "ernie-lite-8k", 0, 0, "CNY"),

		per1K("alibaba", "qwen-max", 0.02, 0.06, "CNY"),
		per1K("alibaba", "qwen-plus", 0.0008, 0.002, "CNY"),
		per1K("alibaba", "qwen-turbo", 0.0003, 0.0006, "CNY"),

		per1K("zhipu", "glm-4", 0.1, 0.1, "CNY"),
		per1K("zhipu", "glm-4-plus", 0.05, 0.05, "CNY"),
		per1K("zhipu", "glm-4-air", 0.001, 0.001, "CNY"),
		per1K("zhipu", "glm-4-flash", 0, 0, "CNY"),

		per1K("gemini", "gemini-1.5-pro", 0.00125, 0.005, "USD"),
		per1K("gemini", "gemini-1.5-flash", 0.000075, 0.0003, "USD"),
		per1K("gemini", "gemini-2.0-flash", 0.0001, 0.0004, "USD"),

		per1K("bedrock", "anthropic.claude-3-5-sonnet-20241022-v2:0", 0.003, 0.015, "USD"),
		per1K("bedrock", "anthropic.claude-3-haiku-20240307-v1:0", 0.00025, 0.00125, "USD"),
		per1K("bedrock", "amazon.titan-text-express-v1", 0.0002, 0.0006, "USD"),
		per1K("bedrock", "meta.llama3-70b-instruct-v1:0", 0.00265, 0.0035, "USD"),
	}
}
