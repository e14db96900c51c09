package pricing

import (
	"sync"

	"go.uber.org/zap"
)

// Engine turns token usage into cost using a read-only price table
type Engine struct {
	table  *Table
	logger *zap.Logger

	// warned dedupes the missing-price warning per provider/model
	warned sync.Map
}

// NewEngine creates a cost engine
func NewEngine(table *Table, logger *zap.Logger) *Engine {
	if table == nil {
		table = DefaultTable()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		table:  table,
		logger: logger,
	}
}

// Table returns the price table in use
func (e *Engine) Table() *Table {
	return e.table
}

// ComputeCost returns the cost in the reference currency. Negative counts
// count as zero. An unknown price yields 0 and a warning.
func (e *Engine) ComputeCost(providerID, modelID string, promptTokens, completionTokens int) float64 {
	cost, _ := e.Quote(providerID, modelID, promptTokens, completionTokens)
	return cost
}

// Quote is ComputeCost that also reports whether a price was known
func (e *Engine) Quote(providerID, modelID string, promptTokens, completionTokens int) (float64, bool) {
	promptTokens = max(promptTokens, 0)
	completionTokens = max(completionTokens, 0)

	entry, ok := e.table.Lookup(providerID, modelID)
	if !ok {
		e.warnOnce(providerID, modelID, "no price entry for model")
		return 0, false
	}

	rate, ok := e.table.Rate(entry.Currency)
	if !ok {
		e.warnOnce(providerID, modelID, "no exchange rate for price currency", zap.String("currency", entry.Currency))
		return 0, false
	}

	cost := (float64(promptTokens)*entry.InputPerToken + float64(completionTokens)*entry.OutputPerToken) * rate
	return max(cost, 0), true
}

// Known reports whether Quote would price a provider model
func (e *Engine) Known(providerID, modelID string) bool {
	entry, ok := e.table.Lookup(providerID, modelID)
	if !ok {
		return false
	}
	_, ok = e.table.Rate(entry.Currency)
	return ok
}

func (e *Engine) warnOnce(providerID, modelID, msg string, fields ...zap.Field) {
	if _, loaded := e.warned.LoadOrStore(providerID+"/"+modelID, struct{}{}); loaded {
		return
	}
	e.logger.Warn(msg,
		append([]zap.Field{
			zap.String("provider", providerID),
			zap.String("model", modelID),
		}, fields...)...,
	)
}
