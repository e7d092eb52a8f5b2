package router

import (
	"io"
	"sync"
	"time"
)

// headerWatch fires when a forwarded request goes timeout without progress
// before the backend answers. Progress is the backend consuming the request
// body; the watch is stopped once response headers arrive. The transport's
// ResponseHeaderTimeout only starts counting after the body is written.
type headerWatch struct {
	mutex   sync.Mutex
	timeout time.Duration
	timer   *time.Timer
	stopped bool
}

// newHeaderWatch arms a watch calling fire after timeout. A zero timeout
// disables it and returns nil, which is safe to use.
func newHeaderWatch(timeout time.Duration, fire func()) *headerWatch {
	if timeout <= 0 {
		return nil
	}

	return &headerWatch{
		timeout: timeout,
		timer:   time.AfterFunc(timeout, fire),
	}
}

// touch restarts the countdown unless the watch was stopped.
func (hw *headerWatch) touch() {
	if hw == nil {
		return
	}

	hw.mutex.Lock()
	defer hw.mutex.Unlock()

	if !hw.stopped {
		hw.timer.Reset(hw.timeout)
	}
}

// stop disarms the watch for good.
func (hw *headerWatch) stop() {
	if hw == nil {
		return
	}

	hw.mutex.Lock()
	defer hw.mutex.Unlock()

	hw.stopped = true
	hw.timer.Stop()
}

// watchedBody touches the watch on every read the transport makes while
// writing the request upstream.
type watchedBody struct {
	io.ReadCloser
	watch *headerWatch
}

func (b *watchedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.watch.touch()
	}
	return n, err
}
