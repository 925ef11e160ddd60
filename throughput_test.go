package trajingest

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/bmizerany/assert"
)

func controllerConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 50
	cfg.MinBatchSize = 1
	cfg.MaxBatchSize = 500
	cfg.HighWatermark = 25000
	cfg.LowWatermark = 5000
	cfg.GrowthFactor = 1.2
	cfg.ShrinkFactor = 0.8
	cfg.ThroughputWindow = 4
	return cfg
}

func TestThroughputController_Grow(t *testing.T) {
	c := NewThroughputController(controllerConfig())
	assert.Equal(t, 50, c.Target())
	next := c.Observe(ThroughputSample{Rows: 30000, Duration: time.Second})
	assert.Equal(t, 60, next)
	assert.Equal(t, 60, c.Target())

	// between the watermarks nothing changes
	assert.Equal(t, 60, c.Observe(ThroughputSample{Rows: 10000, Duration: time.Second}))
}

func TestThroughputController_Shrink(t *testing.T) {
	c := NewThroughputController(controllerConfig())
	assert.Equal(t, 40, c.Observe(ThroughputSample{Rows: 1000, Duration: time.Second}))
	assert.Equal(t, 32, c.Observe(ThroughputSample{Rows: 5000, Duration: time.Second}))
}

func TestThroughputController_Bounds(t *testing.T) {
	cfg := controllerConfig()
	cfg.BatchSize = 2
	cfg.MinBatchSize = 2
	cfg.MaxBatchSize = 3
	c := NewThroughputController(cfg)
	// 2*1.2 rounds to 2, growth is at least one
	assert.Equal(t, 3, c.Observe(ThroughputSample{Rows: 100000, Duration: time.Second}))
	assert.Equal(t, 3, c.Observe(ThroughputSample{Rows: 100000, Duration: time.Second}))
	assert.Equal(t, 2, c.Observe(ThroughputSample{Rows: 1, Duration: time.Second}))
	assert.Equal(t, 2, c.Observe(ThroughputSample{Rows: 1, Duration: time.Second}))
}

func TestThroughputController_StaysInRange(t *testing.T) {
	cfg := controllerConfig()
	cfg.MinBatchSize = 5
	cfg.MaxBatchSize = 80
	c := NewThroughputController(cfg)
	rnd := rand.New(rand.NewSource(7))
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		seed := rnd.Int63()
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 2000; i++ {
				size := c.Observe(ThroughputSample{Rows: r.Int63n(60000), Duration: time.Second})
				if size < 5 || size > 80 {
					t.Errorf("target size %d out of range", size)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.T(t, c.Target() >= 5 && c.Target() <= 80)
}

func TestThroughputController_Fixed(t *testing.T) {
	cfg := controllerConfig()
	cfg.Adaptive = false
	c := NewThroughputController(cfg)
	assert.Equal(t, 50, c.Observe(ThroughputSample{Rows: 1000000, Duration: time.Second}))
	assert.Equal(t, 50, c.Observe(ThroughputSample{Rows: 1, Duration: time.Second}))
	peak, trough := c.Extremes()
	assert.Equal(t, float64(1000000), peak)
	assert.Equal(t, float64(1), trough)
}

func TestThroughputController_Window(t *testing.T) {
	c := NewThroughputController(controllerConfig())
	assert.Equal(t, float64(0), c.Average())
	peak, trough := c.Extremes()
	assert.Equal(t, float64(0), peak)
	assert.Equal(t, float64(0), trough)

	for i := 0; i < 4; i++ {
		c.Observe(ThroughputSample{Rows: 1000, Duration: time.Second})
	}
	assert.Equal(t, float64(1000), c.Average())
	// the window keeps the last 4 samples
	for i := 0; i < 4; i++ {
		c.Observe(ThroughputSample{Rows: 3000, Duration: time.Second})
	}
	assert.Equal(t, float64(3000), c.Average())

	// samples without signal are ignored
	before := c.Target()
	assert.Equal(t, before, c.Observe(ThroughputSample{Rows: 0, Duration: time.Second}))
	assert.Equal(t, before, c.Observe(ThroughputSample{Rows: 10, Duration: 0}))
	assert.Equal(t, float64(3000), c.Average())
}
