package subprocess

import (
	"sync/atomic"

	"github.com/nixpig/subprocd/internal/eventloop"
)

var instance atomic.Pointer[Manager]

// Init creates the process-wide Manager. It must be called exactly once,
// before Get; a second call panics.
func Init(loop *eventloop.Loop, opts ...Option) *Manager {
	m := New(loop, opts...)

	if !instance.CompareAndSwap(nil, m) {
		panic("subprocess: Init called more than once")
	}

	return m
}

// Get returns the Manager created by Init. It panics if Init hasn't been
// called.
func Get() *Manager {
	m := instance.Load()
	if m == nil {
		panic("subprocess: Get called before Init")
	}

	return m
}
