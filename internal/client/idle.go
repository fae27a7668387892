package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrIdleTimeout marks a transfer that moved no bytes for the request timeout
var ErrIdleTimeout = errors.New("transfer idle timeout")

// watchdog cancels a call once neither body has moved a byte for d.
// It bounds stalls, not total transfer time.
type watchdog struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	d      time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func newWatchdog(parent context.Context, d time.Duration) *watchdog {
	ctx, cancel := context.WithCancelCause(parent)
	w := &watchdog{ctx: ctx, cancel: cancel, d: d}
	w.timer = time.AfterFunc(d, func() {
		cancel(fmt.Errorf("%w: no data for %s", ErrIdleTimeout, d))
	})
	return w
}

func (w *watchdog) touch() {
	w.mu.Lock()
	w.timer.Reset(w.d)
	w.mu.Unlock()
}

func (w *watchdog) stop() {
	w.mu.Lock()
	w.timer.Stop()
	w.mu.Unlock()
	w.cancel(nil)
}

// explain swaps a transport error for the idle cause when the watchdog fired
func (w *watchdog) explain(err error) error {
	if cause := context.Cause(w.ctx); errors.Is(cause, ErrIdleTimeout) {
		return cause
	}
	return err
}

// watchedBody resets the watchdog on every read. The response side also
// releases it on Close.
type watchedBody struct {
	io.ReadCloser
	w       *watchdog
	release bool
}

func (b *watchedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.w.touch()
	}
	if err != nil && err != io.EOF {
		err = b.w.explain(err)
	}
	return n, err
}

func (b *watchedBody) Close() error {
	err := b.ReadCloser.Close()
	if b.release {
		b.w.stop()
	}
	return err
}
