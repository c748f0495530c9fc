// Package internaldefs holds the metric names, help strings and histogram
// bounds shared by the Prometheus and OTel exporters, so both publish the
// same series. Names are stored without the authcore_ namespace; use
// [FullName] when registering.
//
// This package performs no I/O.
package internaldefs
