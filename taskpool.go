package trajingest

import (
	"context"
	"runtime/debug"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
)

// lanePool runs lanes on a bounded ants pool, one worker per lane.
type lanePool struct {
	pool *ants.Pool
}

func newLanePool(size int) (*lanePool, error) {
	pool, err := ants.NewPool(size, ants.WithPreAlloc(false))
	if err != nil {
		return nil, errors.Wrap(err, "create lane pool")
	}
	return &lanePool{
		pool: pool,
	}, nil
}

// laneFuture is the pending outcome of one lane.
type laneFuture struct {
	done chan struct{}
	err  BatchError
}

// Wait blocks until the lane has returned.
func (f *laneFuture) Wait() BatchError {
	<-f.done
	return f.err
}

// Go runs fn on the pool. A panic in fn is logged and reported as a lane error.
func (p *lanePool) Go(ctx context.Context, name string, fn func() BatchError) *laneFuture {
	f := &laneFuture{done: make(chan struct{})}
	err := p.pool.Submit(func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "panic in lane:%v, err:%v, stack:%v", name, r, string(debug.Stack()))
				f.err = NewBatchError(ErrCodeLane, "lane:%v panic:%v", name, r)
			}
		}()
		f.err = fn()
	})
	if err != nil {
		f.err = NewBatchError(ErrCodeLane, "submit lane:%v err:%v", name, err)
		close(f.done)
	}
	return f
}

func (p *lanePool) Running() int {
	return p.pool.Running()
}

func (p *lanePool) Release() {
	p.pool.Release()
}
