package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Span represents a logical unit of work tied to a request trace.
type Span struct {
	name   string
	logger *slog.Logger
	start  time.Time
	err    error
}

// StartSpan derives a child span from the provided context. The first span of
// a trace adopts the request id as its trace id when one is present.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := FromContext(ctx)
	parent := traceFromContext(ctx)

	current := trace{traceID: parent.traceID, spanID: uuid.NewString()}
	if current.traceID == "" {
		current.traceID = RequestIDFromContext(ctx)
		if current.traceID == "" {
			current.traceID = uuid.NewString()
		}
		logger = logger.With(slog.String("trace_id", current.traceID))
	}

	logger = logger.With(
		slog.String("span_id", current.spanID),
		slog.String("span_name", name),
	)
	if parent.spanID != "" {
		logger = logger.With(slog.String("parent_span_id", parent.spanID))
	}

	ctx = context.WithValue(ctx, traceKey, current)
	ctx = WithLogger(ctx, logger)

	return ctx, &Span{name: name, logger: logger, start: time.Now()}
}

// Fail records err as the span outcome. A nil error is ignored.
func (s *Span) Fail(err error) {
	if s == nil || err == nil {
		return
	}
	s.err = err
}

// End finalizes the span and emits a completion log entry.
func (s *Span) End() {
	if s == nil {
		return
	}
	elapsed := slog.Duration("duration", time.Since(s.start))
	if s.err != nil {
		s.logger.Warn("span failed", elapsed, slog.Any("error", s.err))
		return
	}
	s.logger.Info("span completed", elapsed)
}
