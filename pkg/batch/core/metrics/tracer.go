package metrics

import (
	"context"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
)

// Tracer is the distributed tracing port of the worker.
type Tracer interface {
	// StartJobSpan starts the span of one job attempt. The returned function ends it.
	StartJobSpan(ctx context.Context, job *model.Job) (context.Context, func())
	// StartSpan starts a child span named name, e.g. "download" or "batch".
	StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func())
	// RecordError records err on the current span.
	RecordError(ctx context.Context, module string, err error)
	// RecordEvent adds an event to the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
