package obs

import (
	"sort"
	"strings"
	"sync"
)

// Label is a key/value pair attached to measurements.
type Label struct {
	Key   string
	Value string
}

// Meter is a very small interface for emitting counters/histograms.
// Implementations may no-op or bridge to a metrics system.
type Meter interface {
	Counter(name string, value float64, labels ...Label)
	Histogram(name string, value float64, labels ...Label)
}

// NopMeter is a Meter that discards all measurements.
type NopMeter struct{}

func (NopMeter) Counter(name string, value float64, labels ...Label)   {}
func (NopMeter) Histogram(name string, value float64, labels ...Label) {}

// MeterOrNop returns m, or NopMeter when m is nil.
func MeterOrNop(m Meter) Meter {
	if m == nil {
		return NopMeter{}
	}
	return m
}

// MemMeter accumulates measurements in memory. Counters are summed and
// histograms keep count and sum, both keyed by name plus sorted labels
// ("name{k=v,...}"). It is safe for concurrent use.
type MemMeter struct {
	mu       sync.Mutex
	counters map[string]float64
	hcount   map[string]int
	hsum     map[string]float64
}

func (m *MemMeter) Counter(name string, value float64, labels ...Label) {
	k := seriesKey(name, labels)
	m.mu.Lock()
	if m.counters == nil {
		m.counters = make(map[string]float64)
	}
	m.counters[k] += value
	m.mu.Unlock()
}

func (m *MemMeter) Histogram(name string, value float64, labels ...Label) {
	k := seriesKey(name, labels)
	m.mu.Lock()
	if m.hcount == nil {
		m.hcount = make(map[string]int)
		m.hsum = make(map[string]float64)
	}
	m.hcount[k]++
	m.hsum[k] += value
	m.mu.Unlock()
}

// CounterValue returns the current value of a counter series.
func (m *MemMeter) CounterValue(name string, labels ...Label) float64 {
	k := seriesKey(name, labels)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[k]
}

// HistogramStats returns the observation count and sum of a histogram series.
func (m *MemMeter) HistogramStats(name string, labels ...Label) (count int, sum float64) {
	k := seriesKey(name, labels)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hcount[k], m.hsum[k]
}

func seriesKey(name string, labels []Label) string {
	if len(labels) == 0 {
		return name
	}
	ls := append([]Label(nil), labels...)
	sort.Slice(ls, func(i, j int) bool { return ls[i].Key < ls[j].Key })
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, l := range ls {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Key)
		b.WriteByte('=')
		b.WriteString(l.Value)
	}
	b.WriteByte('}')
	return b.String()
}
