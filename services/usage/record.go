package usage

import (
	"time"

	"go.uber.org/zap"
)

// UsageRecord is one accounted gateway call, successful or not
type UsageRecord struct {
	RequestID        string    `json:"requestId"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Success          bool      `json:"success"`
	ErrorKind        string    `json:"errorKind,omitempty"`
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	TotalTokens      int       `json:"totalTokens"`
	Cost             float64   `json:"cost"`
	Priced           bool      `json:"priced"`
	DurationMs       int64     `json:"durationMs"`
	Timestamp        time.Time `json:"timestamp"`
}

// Sink consumes usage records. Implementations must be safe for concurrent use
// and must not block the caller for long.
type Sink interface {
	Record(rec UsageRecord)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(rec UsageRecord)

// Record calls f(rec)
func (f SinkFunc) Record(rec UsageRecord) {
	f(rec)
}

// Fanout delivers every record to each sink in order
type Fanout []Sink

// Record implements Sink
func (f Fanout) Record(rec UsageRecord) {
	for _, sink := range f {
		if sink != nil {
			sink.Record(rec)
		}
	}
}

// LogSink writes each record as a structured log line
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements Sink
func (s *LogSink) Record(rec UsageRecord) {
	fields := []zap.Field{
		zap.String("request_id", rec.RequestID),
		zap.String("provider", rec.Provider),
		zap.String("model", rec.Model),
		zap.Bool("success", rec.Success),
		zap.Int("total_tokens", rec.TotalTokens),
		zap.Float64("cost", rec.Cost),
		zap.Int64("duration_ms", rec.DurationMs),
	}
	if rec.ErrorKind != "" {
		fields = append(fields, zap.String("error_kind", rec.ErrorKind))
	}
	s.logger.Info("chat usage", fields...)
}
