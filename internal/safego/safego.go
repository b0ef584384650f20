// Package safego launches background goroutines that cannot take the process down with them.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn on a new goroutine, recovering and logging any panic.
func Go(fn func()) {
	GoNamed("", fn)
}

// GoNamed is Go with a task name attached to the panic log line, for jobs and shippers.
func GoNamed(name string, fn func()) {
	go func() {
		defer Recover(name)
		fn()
	}()
}

// Recover logs a recovered panic with its stack. Use it as `defer safego.Recover("task")`
// at the top of goroutines started with a plain go statement.
func Recover(name string) {
	if r := recover(); r != nil {
		attrs := []any{"panic", r, "stack", string(debug.Stack())}
		if name != "" {
			attrs = append(attrs, "task", name)
		}
		slog.Error("recovered panic in background goroutine", attrs...)
	}
}
