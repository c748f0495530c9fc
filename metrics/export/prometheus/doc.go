// Package prometheus renders authcore counters and the validation latency
// histogram in the Prometheus text exposition format.
//
// [Exporter.Handler] is meant to be mounted by the host on its own mux;
// nothing is registered globally and engine state is only read.
package prometheus
