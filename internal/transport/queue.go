package transport

import "sync"

// callbackQueue serializes consumer callback invocations onto a single
// goroutine.
//
// Consumer handlers must never run on the state machine loop: a slow handler
// would stall heartbeats and reconnect timers. Serializing them on one
// dedicated goroutine also preserves notification ordering (a message
// notification always precedes the recommendations notification derived from
// the same frame).
type callbackQueue struct {
	q    chan func()
	stop chan struct{}
	once sync.Once
}

func newCallbackQueue(size int) *callbackQueue {
	if size <= 0 {
		size = 256
	}
	d := &callbackQueue{
		q:    make(chan func(), size),
		stop: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *callbackQueue) run() {
	for {
		select {
		case <-d.stop:
			return
		case fn := <-d.q:
			if fn != nil {
				fn()
			}
		}
	}
}

// do schedules fn. It blocks if the queue is full rather than dropping a
// notification.
func (d *callbackQueue) do(fn func()) {
	if d == nil || fn == nil {
		return
	}
	select {
	case d.q <- fn:
	case <-d.stop:
	}
}

// close stops the callback goroutine. Pending callbacks are discarded.
func (d *callbackQueue) close() {
	d.once.Do(func() { close(d.stop) })
}
