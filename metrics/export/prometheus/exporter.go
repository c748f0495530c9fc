package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
)

// Source is what the exporter reads. [*authcore.Engine] satisfies it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders a [Source] on every scrape.
type Exporter struct {
	source Source
}

// New creates an exporter over source.
func New(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves [Exporter.Render].
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics. With metrics disabled on the engine
// and no dropped audit events the output is empty.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	for _, def := range internaldefs.Counters {
		writeCounter(&b, internaldefs.FullName(def.Name), def.Help, snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.Histograms {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		writeHistogram(&b, internaldefs.FullName(def.Name), def.Help, internaldefs.Cumulative(raw))
	}
	writeCounter(&b, internaldefs.FullName(internaldefs.AuditDropped.Name), internaldefs.AuditDropped.Help, dropped)

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteString("\n# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	writeHeader(b, name, help, "counter")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [internaldefs.BucketCount]uint64) {
	writeHeader(b, name, help, "histogram")
	for i, bound := range internaldefs.Bounds {
		b.WriteString(name)
		b.WriteString(`_bucket{le="`)
		b.WriteString(bound.Le)
		b.WriteString(`"} `)
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}
	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(cumulative[internaldefs.BucketCount-1], 10))
	b.WriteByte('\n')

	// The engine keeps bucket counts only.
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, `\`, `\\`)
	return strings.ReplaceAll(help, "\n", `\n`)
}
