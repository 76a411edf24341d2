package utils

import (
	"sync"

	"github.com/frostbyte73/core"
	"github.com/gammazero/deque"

	"github.com/livekit/protocol/logger"
)

// OpsQueue runs queued ops one at a time on a single goroutine, in enqueue order.
// Enqueue never blocks and never drops while the queue is running.
type OpsQueue struct {
	logger logger.Logger
	name   string

	lock    sync.Mutex
	cond    *sync.Cond
	ops     deque.Deque[func()]
	started bool
	stopped core.Fuse
	drained core.Fuse
}

func NewOpsQueue(logger logger.Logger, name string) *OpsQueue {
	oq := &OpsQueue{
		logger: logger,
		name:   name,
	}
	oq.cond = sync.NewCond(&oq.lock)
	return oq
}

func (oq *OpsQueue) SetLogger(logger logger.Logger) {
	oq.logger = logger
}

func (oq *OpsQueue) Start() {
	oq.lock.Lock()
	if oq.started {
		oq.lock.Unlock()
		return
	}
	oq.started = true
	oq.lock.Unlock()

	go oq.process()
}

// Stop lets already queued ops run, then exits the worker. Ops enqueued after Stop are ignored.
func (oq *OpsQueue) Stop() {
	oq.lock.Lock()
	oq.stopped.Break()
	oq.cond.Broadcast()
	oq.lock.Unlock()
}

// Done is closed once the worker has exited
func (oq *OpsQueue) Done() <-chan struct{} {
	return oq.drained.Watch()
}

// Enqueue returns false if the queue has been stopped
func (oq *OpsQueue) Enqueue(op func()) bool {
	oq.lock.Lock()
	defer oq.lock.Unlock()

	if oq.stopped.IsBroken() {
		oq.logger.Debugw("ops queue stopped, dropping op", "name", oq.name)
		return false
	}

	oq.ops.PushBack(op)
	oq.cond.Signal()
	return true
}

func (oq *OpsQueue) Len() int {
	oq.lock.Lock()
	defer oq.lock.Unlock()

	return oq.ops.Len()
}

func (oq *OpsQueue) process() {
	defer oq.drained.Break()

	for {
		oq.lock.Lock()
		for oq.ops.Len() == 0 && !oq.stopped.IsBroken() {
			oq.cond.Wait()
		}
		if oq.ops.Len() == 0 {
			oq.lock.Unlock()
			return
		}
		op := oq.ops.PopFront()
		oq.lock.Unlock()

		oq.run(op)
	}
}

func (oq *OpsQueue) run(op func()) {
	defer func() {
		if r := recover(); r != nil {
			oq.logger.Errorw("ops queue op panicked", nil, "name", oq.name, "panic", r)
		}
	}()
	op()
}
