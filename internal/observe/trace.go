package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/realtalk"

// Attribute keys shared by the telemetry resource and the session span.
const (
	AttrProvider         = attribute.Key("realtalk.provider")
	AttrModel            = attribute.Key("realtalk.model")
	AttrAudioBackend     = attribute.Key("realtalk.audio.backend")
	AttrEndpoint         = attribute.Key("realtalk.endpoint")
	AttrSessionID        = attribute.Key("realtalk.session.id")
	AttrServiceSessionID = attribute.Key("realtalk.session.service_id")
	AttrFinalState       = attribute.Key("realtalk.session.final_state")
)

// StartSessionSpan starts the client span covering one realtime session
// against endpoint. Finish it with [EndSessionSpan].
func StartSessionSpan(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "realtime.session",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrEndpoint.String(endpoint)),
	)
}

// SessionConnected tags span with the client-side session ID.
func SessionConnected(span trace.Span, id string) {
	span.SetAttributes(AttrSessionID.String(id))
	span.AddEvent("connected")
}

// SessionAcknowledged tags span with the ID the service assigned.
func SessionAcknowledged(span trace.Span, serviceID string) {
	span.SetAttributes(AttrServiceSessionID.String(serviceID))
	span.AddEvent("acknowledged")
}

// EndSessionSpan records the final lifecycle state and, for a failed
// session, the error, then ends span.
func EndSessionSpan(span trace.Span, finalState string, err error) {
	span.SetAttributes(AttrFinalState.String(finalState))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Logger returns the default [slog.Logger] enriched with trace_id and span_id
// from the span context in ctx, if any.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
