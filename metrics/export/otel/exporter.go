package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads. [*authcore.Engine] satisfies it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

type counter struct {
	id         authcore.MetricID
	instrument metric.Int64ObservableCounter
}

type histogram struct {
	id      authcore.MetricID
	buckets [internaldefs.BucketCount]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter keeps the callback registration alive until Close.
type Exporter struct {
	source       Source
	registration metric.Registration
	counters     []counter
	histograms   []histogram
	auditDropped metric.Int64ObservableCounter
}

// New registers every authcore instrument on meter.
func New(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:     source,
		counters:   make([]counter, 0, len(internaldefs.Counters)),
		histograms: make([]histogram, 0, len(internaldefs.Histograms)),
	}
	observables := make([]metric.Observable, 0, len(internaldefs.Counters)+len(internaldefs.Histograms)*(internaldefs.BucketCount+1)+1)

	for _, def := range internaldefs.Counters {
		name := internaldefs.FullName(def.Name)
		ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", name, err)
		}
		e.counters = append(e.counters, counter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.Histograms {
		h := histogram{id: def.ID}
		base := internaldefs.FullName(def.Name)
		for i, bound := range internaldefs.Bounds {
			name := base + "_bucket_le_" + bound.Suffix
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative count of "+def.Help))
			if err != nil {
				return nil, fmt.Errorf("create gauge %s: %w", name, err)
			}
			h.buckets[i] = ins
			observables = append(observables, ins)
		}
		count, err := meter.Int64ObservableGauge(base+"_count", metric.WithDescription("Sample count of "+def.Help))
		if err != nil {
			return nil, fmt.Errorf("create gauge %s_count: %w", base, err)
		}
		h.count = count
		observables = append(observables, count)
		e.histograms = append(e.histograms, h)
	}

	dropped, err := meter.Int64ObservableCounter(
		internaldefs.FullName(internaldefs.AuditDropped.Name),
		metric.WithDescription(internaldefs.AuditDropped.Help),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.Cumulative(snapshot.Histograms[h.id])
		for i := range cumulative {
			o.ObserveInt64(h.buckets[i], int64(cumulative[i]))
		}
		o.ObserveInt64(h.count, int64(cumulative[internaldefs.BucketCount-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
