package logging

import (
	"slices"

	"github.com/samber/lo"
	"go.opencensus.io/trace"
)

// SpanExporter writes finished opencensus spans to a Logger at debug level.
type SpanExporter struct {
	logger Logger
}

// NewSpanExporter returns an exporter logging through logger. Register it with
// trace.RegisterExporter.
func NewSpanExporter(logger Logger) *SpanExporter {
	return &SpanExporter{logger: logger}
}

// ExportSpan implements trace.Exporter.
func (e *SpanExporter) ExportSpan(sd *trace.SpanData) {
	fields := []interface{}{
		"trace_id", sd.TraceID.String(),
		"span_id", sd.SpanID.String(),
		"duration", sd.EndTime.Sub(sd.StartTime),
	}
	if sd.ParentSpanID != (trace.SpanID{}) {
		fields = append(fields, "parent_id", sd.ParentSpanID.String())
	}
	if sd.HasRemoteParent {
		fields = append(fields, "remote_parent", true)
	}
	if sd.Status.Code != trace.StatusCodeOK {
		fields = append(fields, "status", sd.Status.Code, "status_message", sd.Status.Message)
	}
	keys := lo.Keys(sd.Attributes)
	slices.Sort(keys)
	for _, k := range keys {
		fields = append(fields, k, sd.Attributes[k])
	}
	e.logger.Debugw(sd.Name, fields...)
}
