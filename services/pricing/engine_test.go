package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestEngine_ComputeCost(t *testing.T) {
	engine := NewEngine(NewTable([]PriceEntry{
		per1K("openai", "gpt-4", 0.03, 0.06, "USD"),
	}, nil), zap.NewNop())

	// 5 prompt and 7 completion tokens at 0.03 / 0.06 per 1K
	assert.InDelta(t, 0.00057, engine.ComputeCost("openai", "gpt-4", 5, 7), 1e-12)
	assert.Zero(t, engine.ComputeCost("openai", "gpt-4", 0, 0))
}

func TestEngine_NegativeCountsClamp(t *testing.T) {
	engine := NewEngine(DefaultTable(), zap.NewNop())

	assert.Equal(t,
		engine.ComputeCost("openai", "gpt-4", 0, 10),
		engine.ComputeCost("openai", "gpt-4", -50, 10))
	assert.GreaterOrEqual(t, engine.ComputeCost("openai", "gpt-4", -1, -1), 0.0)
}

func TestEngine_Monotonic(t *testing.T) {
	engine := NewEngine(DefaultTable(), zap.NewNop())

	for _, entry := range engine.Table().Entries() {
		prev := engine.ComputeCost(entry.Provider, entry.Model, 0, 0)
		for n := 1; n <= 5000; n += 499 {
			byPrompt := engine.ComputeCost(entry.Provider, entry.Model, n, 10)
			byCompletion := engine.ComputeCost(entry.Provider, entry.Model, 10, n)
			assert.GreaterOrEqual(t, byPrompt, prev, "%s/%s", entry.Provider, entry.Model)
			assert.GreaterOrEqual(t, byCompletion, prev, "%s/%s", entry.Provider, entry.Model)
			prev = min(byPrompt, byCompletion)
		}
	}
}

func TestEngine_UnknownPrice(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	engine := NewEngine(DefaultTable(), zap.New(core))

	cost, known := engine.Quote("openai", "gpt-99", 100, 100)
	assert.Zero(t, cost)
	assert.False(t, known)
	assert.False(t, engine.Known("openai", "gpt-99"))

	// warned once per model
	engine.ComputeCost("openai", "gpt-99", 1, 1)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "gpt-99", entry.ContextMap()["model"])
}

func TestEngine_CurrencyConversion(t *testing.T) {
	table := NewTable([]PriceEntry{
		per1K("baidu", "ernie-4.0-8k", 0.03, 0.09, "CNY"),
		per1K("other", "m", 1, 1, "EUR"),
	}, map[string]float64{"CNY": 0.5})
	engine := NewEngine(table, zap.NewNop())

	cost, known := engine.Quote("baidu", "ernie-4.0-8k", 1000, 1000)
	assert.True(t, known)
	assert.InDelta(t, (0.03+0.09)*0.5, cost, 1e-12)

	// a currency without a rate behaves like an unknown price
	cost, known = engine.Quote("other", "m", 1000, 1000)
	assert.False(t, known)
	assert.Zero(t, cost)
	assert.False(t, engine.Known("other", "m"))
	assert.True(t, engine.Known("baidu", "ernie-4.0-8k"))
}

func TestEngine_FreeModelIsKnown(t *testing.T) {
	engine := NewEngine(DefaultTable(), zap.NewNop())

	cost, known := engine.Quote("zhipu", "glm-4-flash", 500, 500)
	assert.True(t, known)
	assert.Zero(t, cost)
	assert.True(t, engine.Known("zhipu", "glm-4-flash"))
}

func TestTable_DefaultFallback(t *testing.T) {
	table := NewTable([]PriceEntry{
		per1K("local", "default", 1, 2, ""),
	}, nil)

	entry, ok := table.Lookup("local", "anything")
	require.True(t, ok)
	assert.Equal(t, "USD", entry.Currency)
	assert.InDelta(t, 0.002, entry.OutputPerToken, 1e-12)

	_, ok = table.Lookup("other", "anything")
	assert.False(t, ok)
}

func TestTable_WithRate(t *testing.T) {
	table := DefaultTable().WithRate("cny", 0.2)

	rate, ok := table.Rate("CNY")
	require.True(t, ok)
	assert.Equal(t, 0.2, rate)

	original, _ := DefaultTable().Rate("CNY")
	assert.Equal(t, DefaultCNYRate, original)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	content := `
exchange_rates:
  CNY: 0.15
pricing:
  openai:
    gpt-4:
      prompt_per_1k: 0.02
      completion_per_1k: 0.04
  local:
    default:
      prompt_per_1k: 0.001
      completion_per_1k: 0.002
      currency: CNY
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	table, err := LoadFile(path, DefaultTable())
	require.NoError(t, err)

	gpt4, ok := table.Lookup("openai", "gpt-4")
	require.True(t, ok)
	assert.InDelta(t, 0.00002, gpt4.InputPerToken, 1e-15)

	// untouched defaults survive the overlay
	_, ok = table.Lookup("anthropic", "claude-3-haiku-20240307")
	assert.True(t, ok)

	engine := NewEngine(table, zap.NewNop())
	assert.InDelta(t, 3*0.15, engine.ComputeCost("local", "x", 1000, 1000), 1e-12)
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"), DefaultTable())
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("pricing: [not a map"), 0o600))
	_, err = LoadFile(bad, DefaultTable())
	assert.Error(t, err)

	negative := filepath.Join(dir, "negative.yaml")
	require.NoError(t, os.WriteFile(negative, []byte("pricing:\n  x:\n    y:\n      prompt_per_1k: -1\n"), 0o600))
	_, err = LoadFile(negative, DefaultTable())
	assert.Error(t, err)
}
