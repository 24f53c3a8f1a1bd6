// Package tracer provides a small tracing abstraction over OpenTelemetry.
//
// Services depend on Tracer and Span only, so tests can use NoopTracer and
// the server can swap exporters without touching domain code.
package tracer

import (
	"context"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span. A non-nil err marks the span as failed.
	// End must be called exactly once, typically via defer.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a span. The returned context carries it to child operations.
	//
	//   ctx, span := t.Start(ctx, tracer.SpanDSRVerify, tracer.String(tracer.AttrRequestID, id))
	//   defer func() { span.End(err) }()
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration records value in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Span names for the privacy request lifecycle.
const (
	SpanDSRSubmit    = "dsr.submit"
	SpanDSRResend    = "dsr.resend_verification"
	SpanDSRVerify    = "dsr.verify"
	SpanDSRTransit   = "dsr.transition"
	SpanDSRRecompute = "dsr.recompute_due_date"
	SpanDSRStatus    = "dsr.status"
	SpanConsentSet   = "consent.set"
)

// Attribute keys.
const (
	AttrRequestID   = "dsr.request_id"
	AttrRequestType = "dsr.request_type"
	AttrRegulation  = "dsr.regulation"
	AttrFromStatus  = "dsr.from_status"
	AttrToStatus    = "dsr.to_status"
	AttrSubjectKind = "consent.subject_kind"
	AttrChanged     = "consent.changed_entries"
)

// Event names.
const (
	EventMailSent   = "mail.sent"
	EventMailFailed = "mail.failed"
	EventEmitted    = "consent.emitted"
)
