package token

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "jauth/internal/token"

// Outcome classifies a verification attempt. It is recorded, never returned to callers.
type Outcome string

const (
	OutcomeOK                Outcome = "ok"
	OutcomeCredentialInvalid Outcome = "credential_invalid"
	OutcomeSessionRevoked    Outcome = "session_revoked"
	OutcomeKeyUnavailable    Outcome = "key_unavailable"
	OutcomeStorageFailure    Outcome = "storage_failure"
)

type instruments struct {
	tracer        trace.Tracer
	verifications metric.Int64Counter
	renewals      metric.Int64Counter
}

func newInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*instruments, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	verifications, err := meter.Int64Counter("jauth.token.verifications",
		metric.WithDescription("Token verification attempts by tier, token kind and outcome."))
	if err != nil {
		return nil, err
	}
	renewals, err := meter.Int64Counter("jauth.token.renewals",
		metric.WithDescription("Session renewals that produced a new iteration."))
	if err != nil {
		return nil, err
	}
	return &instruments{
		tracer:        tp.Tracer(instrumentationName),
		verifications: verifications,
		renewals:      renewals,
	}, nil
}

func (i *instruments) record(ctx context.Context, span trace.Span, tier, kind string, outcome Outcome) {
	attrs := []attribute.KeyValue{
		attribute.String("tier", tier),
		attribute.String("kind", kind),
		attribute.String("outcome", string(outcome)),
	}
	i.verifications.Add(ctx, 1, metric.WithAttributes(attrs...))
	span.SetAttributes(attribute.String("jauth.outcome", string(outcome)))
	if outcome == OutcomeStorageFailure {
		span.SetStatus(codes.Error, string(outcome))
	}
}
