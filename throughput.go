package trajingest

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ThroughputSample is the outcome of one committed batch.
type ThroughputSample struct {
	Rows     int64
	Duration time.Duration
}

// RowsPerSecond is the sample's throughput, 0 for an empty duration.
func (s ThroughputSample) RowsPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Rows) / s.Duration.Seconds()
}

// ThroughputController adapts the target batch size to observed throughput.
// The target is shared by all lanes and read when a batch opens.
type ThroughputController struct {
	adaptive bool
	high     float64
	low      float64
	growth   float64
	shrink   float64
	min      int64
	max      int64

	target int64

	mu      sync.Mutex
	window  []ThroughputSample
	next    int
	peak    float64
	trough  float64
	samples int64
}

// NewThroughputController creates a controller starting at cfg.BatchSize.
func NewThroughputController(cfg Config) *ThroughputController {
	size := cfg.ThroughputWindow
	if size < 1 {
		size = 1
	}
	return &ThroughputController{
		adaptive: cfg.Adaptive,
		high:     cfg.HighWatermark,
		low:      cfg.LowWatermark,
		growth:   cfg.GrowthFactor,
		shrink:   cfg.ShrinkFactor,
		min:      int64(cfg.MinBatchSize),
		max:      int64(cfg.MaxBatchSize),
		target:   int64(cfg.BatchSize),
		window:   make([]ThroughputSample, 0, size),
		trough:   math.Inf(1),
	}
}

// Target is the current target batch size.
func (c *ThroughputController) Target() int {
	return int(atomic.LoadInt64(&c.target))
}

// Observe records a committed batch and returns the resulting target size.
// Samples without rows or duration carry no signal and are ignored.
func (c *ThroughputController) Observe(s ThroughputSample) int {
	if s.Rows <= 0 || s.Duration <= 0 {
		return c.Target()
	}
	rate := s.RowsPerSecond()
	c.record(s, rate)
	if !c.adaptive {
		return c.Target()
	}
	for {
		cur := atomic.LoadInt64(&c.target)
		next := c.adjust(cur, rate)
		if next == cur || atomic.CompareAndSwapInt64(&c.target, cur, next) {
			return int(next)
		}
	}
}

func (c *ThroughputController) adjust(cur int64, rate float64) int64 {
	next := cur
	if rate >= c.high {
		next = int64(math.Round(float64(cur) * c.growth))
		if next <= cur {
			next = cur + 1
		}
		if next > c.max {
			next = c.max
		}
	} else if rate <= c.low {
		next = int64(math.Round(float64(cur) * c.shrink))
		if next >= cur {
			next = cur - 1
		}
		if next < c.min {
			next = c.min
		}
	}
	return next
}

func (c *ThroughputController) record(s ThroughputSample, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.window) < cap(c.window) {
		c.window = append(c.window, s)
	} else {
		c.window[c.next] = s
	}
	c.next = (c.next + 1) % cap(c.window)
	if rate > c.peak {
		c.peak = rate
	}
	if rate < c.trough {
		c.trough = rate
	}
	c.samples++
}

// Average is the throughput over the samples in the window, in rows per second.
func (c *ThroughputController) Average() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var rows int64
	var d time.Duration
	for _, s := range c.window {
		rows += s.Rows
		d += s.Duration
	}
	return ThroughputSample{Rows: rows, Duration: d}.RowsPerSecond()
}

// Extremes returns the peak and trough throughput of all samples observed, 0 when there are none.
func (c *ThroughputController) Extremes() (peak, trough float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.samples == 0 {
		return 0, 0
	}
	return c.peak, c.trough
}
