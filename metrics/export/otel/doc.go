// Package otel publishes authcore metrics through an OpenTelemetry Meter.
//
// Each engine counter becomes an Int64ObservableCounter and each latency
// bucket an Int64ObservableGauge. One callback reads a snapshot per
// collection. The caller owns the MeterProvider.
package otel
