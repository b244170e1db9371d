// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package filetable

import (
	"log/slog"
	"sync"
)

// Finalizer runs slow close work off the caller's goroutine. Tasks
// are flush-and-close closures that may block on storage I/O; their
// completion order is not guaranteed. Task failures are logged and
// swallowed — the kernel-visible operation already succeeded by the
// time a task runs.
type Finalizer struct {
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func() error
	busy    int
	stopped bool

	workerDone chan struct{}
}

// NewFinalizer starts a finalizer with one worker goroutine.
func NewFinalizer(logger *slog.Logger) *Finalizer {
	f := &Finalizer{
		logger:     logger,
		workerDone: make(chan struct{}),
	}
	f.cond = sync.NewCond(&f.mu)
	go f.run()
	return f
}

// Submit enqueues a task without waiting for it to run. After Close
// the task runs inline on the caller's goroutine instead.
func (f *Finalizer) Submit(task func() error) {
	f.mu.Lock()
	if f.stopped {
		// Shutdown already drained the queue; run inline so the
		// object still gets closed.
		f.mu.Unlock()
		if err := task(); err != nil {
			f.logger.Warn("finalize after shutdown failed", "error", err)
		}
		return
	}
	f.queue = append(f.queue, task)
	f.cond.Broadcast()
	f.mu.Unlock()
}

// Quiesce blocks until every previously submitted task has finished.
func (f *Finalizer) Quiesce() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.queue) > 0 || f.busy > 0 {
		f.cond.Wait()
	}
}

// Close drains the queue synchronously and stops the worker. No
// object may outlive the table, so shutdown always waits.
func (f *Finalizer) Close() {
	f.Quiesce()
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	f.cond.Broadcast()
	f.mu.Unlock()
	<-f.workerDone
}

func (f *Finalizer) run() {
	defer close(f.workerDone)
	for {
		f.mu.Lock()
		for len(f.queue) == 0 && !f.stopped {
			f.cond.Wait()
		}
		if len(f.queue) == 0 && f.stopped {
			f.mu.Unlock()
			return
		}
		task := f.queue[0]
		f.queue = f.queue[1:]
		f.busy++
		f.mu.Unlock()

		if err := task(); err != nil {
			f.logger.Warn("finalize failed", "error", err)
		}

		f.mu.Lock()
		f.busy--
		f.cond.Broadcast()
		f.mu.Unlock()
	}
}
