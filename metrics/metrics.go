// Package metrics exports pipeline activity as prometheus metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trajingest"

const (
	MetricUnits       = "units_total"
	MetricRows        = "rows_total"
	MetricBatches     = "batches_total"
	MetricBatchTime   = "batch_duration_seconds"
	MetricTargetBatch = "target_batch_size"
)

// Recorder receives batch outcomes from a pipeline and keeps them in
// prometheus collectors. It is safe for concurrent use.
type Recorder struct {
	units      *prometheus.CounterVec
	rows       *prometheus.CounterVec
	batches    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	targetSize prometheus.Gauge
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		units: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricUnits,
				Help:      "Source units by outcome.",
			},
			[]string{"lane", "outcome"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricRows,
				Help:      "Rows written to the sink or skipped as malformed.",
			},
			[]string{"lane", "outcome"},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricBatches,
				Help:      "Batches by outcome.",
			},
			[]string{"lane", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      MetricBatchTime,
				Help:      "Time from batch open to commit or rollback.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"outcome"},
		),
		targetSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      MetricTargetBatch,
				Help:      "Current target batch size in units.",
			},
		),
	}
	for _, c := range []prometheus.Collector{r.units, r.rows, r.batches, r.duration, r.targetSize} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) BatchCommitted(lane int, units int, rows int64, d time.Duration) {
	l := strconv.Itoa(lane)
	r.units.WithLabelValues(l, "committed").Add(float64(units))
	r.rows.WithLabelValues(l, "written").Add(float64(rows))
	r.batches.WithLabelValues(l, "committed").Inc()
	r.duration.WithLabelValues("committed").Observe(d.Seconds())
}

func (r *Recorder) BatchRolledBack(lane int, units int, d time.Duration) {
	r.batches.WithLabelValues(strconv.Itoa(lane), "rolled_back").Inc()
	r.duration.WithLabelValues("rolled_back").Observe(d.Seconds())
}

func (r *Recorder) UnitsFailed(lane int, n int) {
	r.units.WithLabelValues(strconv.Itoa(lane), "failed").Add(float64(n))
}

func (r *Recorder) RowsSkipped(lane int, n int64) {
	if n <= 0 {
		return
	}
	r.rows.WithLabelValues(strconv.Itoa(lane), "skipped").Add(float64(n))
}

func (r *Recorder) TargetSize(size int) {
	r.targetSize.Set(float64(size))
}
