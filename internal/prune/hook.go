package prune

import (
	"sort"
	"sync"
)

// ExitHooks holds the functions to run when the process terminates
// abnormally, for example on SIGTERM. A running prune registers the release
// of its locks here for the duration of the run.
type ExitHooks struct {
	mu    sync.Mutex
	next  int
	hooks map[int]func()
}

// NewExitHooks creates an empty registry.
func NewExitHooks() *ExitHooks {
	return &ExitHooks{hooks: make(map[int]func())}
}

// Register adds fn and returns the function that removes it again.
func (h *ExitHooks) Register(fn func()) (unregister func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.hooks[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.hooks, id)
		h.mu.Unlock()
	}
}

// Run calls every registered hook, most recent first, and clears the registry.
func (h *ExitHooks) Run() {
	h.mu.Lock()
	ids := make([]int, 0, len(h.hooks))
	for id := range h.hooks {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	fns := make([]func(), len(ids))
	for i, id := range ids {
		fns[i] = h.hooks[id]
	}
	h.hooks = make(map[int]func())
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// RunOnPanic runs the hooks when the calling goroutine is panicking, then
// resumes the panic. It only works deferred directly:
//
//	defer hooks.RunOnPanic()
func (h *ExitHooks) RunOnPanic() {
	if r := recover(); r != nil {
		h.Run()
		panic(r)
	}
}

// Len returns the number of registered hooks.
func (h *ExitHooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hooks)
}
