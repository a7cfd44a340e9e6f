// Package tracing installs an OTLP/gRPC tracer provider in both binaries.
// Both describe themselves through the same Config: the session CLI with the
// peer role and session id, the relay with its listen port. The relay's
// spans come from its otelgin middleware; the session core creates no spans
// of its own.
package tracing

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Config describes one binary's tracing identity and collector endpoint.
type Config struct {
	// ServiceName distinguishes the two binaries ("konnekt-session",
	// "konnekt-session-relay") in the collector.
	ServiceName string

	// CollectorAddr is the OTLP/gRPC endpoint (host:port).
	CollectorAddr string

	// Insecure selects a plaintext collector connection, for local
	// development collectors without TLS.
	Insecure bool

	// Environment lands in deployment.environment (GO_ENV).
	Environment string

	// SampleRatio in (0, 1) enables parent-based ratio sampling; any other
	// value samples everything.
	SampleRatio float64

	// Attributes carries per-binary identity: RoleAttr, SessionAttr and
	// ListenAttr below.
	Attributes []attribute.KeyValue
}

// RoleAttr tags spans with the peer's authority (host or guest).
func RoleAttr(role string) attribute.KeyValue {
	return attribute.String("konnekt.session.role", role)
}

// SessionAttr tags spans with the session (lobby) id.
func SessionAttr(sessionID string) attribute.KeyValue {
	return attribute.String("konnekt.session.id", sessionID)
}

// ListenAttr tags relay spans with the listen port.
func ListenAttr(port string) attribute.KeyValue {
	return attribute.String("konnekt.relay.port", port)
}

// Init connects to the collector and installs the tracer provider and the
// W3C propagators globally. The caller owns shutting the provider down.
func Init(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	if cfg.CollectorAddr == "" {
		return nil, errors.New("tracing: collector address is required")
	}
	if cfg.ServiceName == "" {
		return nil, errors.New("tracing: service name is required")
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(cfg.CollectorAddr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("tracing: connecting collector %s: %w", cfg.CollectorAddr, err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("tracing: creating exporter: %w", err)
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	attrs = append(attrs, cfg.Attributes...)

	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithProcessPID(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}

func samplerFor(ratio float64) sdktrace.Sampler {
	if ratio > 0 && ratio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
	return sdktrace.AlwaysSample()
}
