package trajingest

import (
	"context"
	"sync"
	"testing"

	"github.com/bmizerany/assert"
)

func TestLanePool_Go(t *testing.T) {
	ctx := context.Background()
	pool, err := newLanePool(2)
	assert.Equal(t, nil, err)

	fu := pool.Go(ctx, "ok", func() BatchError {
		return nil
	})
	assert.Equal(t, nil, fu.Wait())

	fu = pool.Go(ctx, "stopped", func() BatchError {
		return StopError
	})
	assert.Equal(t, ErrCodeStop, fu.Wait().Code())

	fu = pool.Go(ctx, "panics", func() BatchError {
		var m []string
		_ = m[0]
		return nil
	})
	err = fu.Wait()
	assert.NotEqual(t, nil, err)
	assert.Equal(t, ErrCodeLane, ErrorCode(err))

	pool.Release()
	fu = pool.Go(ctx, "released", func() BatchError {
		return nil
	})
	assert.Equal(t, ErrCodeLane, ErrorCode(fu.Wait()))
}

func TestLanePool_Concurrent(t *testing.T) {
	ctx := context.Background()
	pool, err := newLanePool(4)
	assert.Equal(t, nil, err)
	defer pool.Release()

	var started, release sync.WaitGroup
	started.Add(4)
	release.Add(1)
	futures := make([]*laneFuture, 4)
	for i := range futures {
		futures[i] = pool.Go(ctx, laneName("pool", i), func() BatchError {
			started.Done()
			release.Wait()
			return nil
		})
	}
	// all lanes run at once
	started.Wait()
	assert.Equal(t, 4, pool.Running())
	release.Done()
	for _, fu := range futures {
		assert.Equal(t, nil, fu.Wait())
	}
}
