// Copyright 2026
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ShutdownFunc releases telemetry resources on process exit.
type ShutdownFunc func(context.Context) error

// Init installs a process-wide TracerProvider so exec/search/schema
// spans have somewhere to go even when no exporter is configured; the
// broker's own spans are always recorded, sampling is left to the
// default (parent-based, always-on) so a client-supplied trace context
// propagates through peer calls.
func Init(serviceName, version string) (ShutdownFunc, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("telemetry: service name is required")
	}
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return func(ctx context.Context) error {
		return tp.Shutdown(ctx)
	}, nil
}

// Tracer returns the named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
