// Package groutine starts named goroutines. The name is attached as a pprof
// label and stored in the context, so stack dumps and profiles show which
// node, lane or monitor a goroutine belongs to.
package groutine

import (
	"context"
	"fmt"
	"runtime/debug"
	"runtime/pprof"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// PanicHandler receives a recovered panic value and the stack it came from.
type PanicHandler func(name string, recovered any, stack []byte)

// Go starts fn on a new goroutine labelled with name. A nil parentCtx is
// treated as context.Background().
//
//	groutine.Go(ctx, "lane-3", func(ctx context.Context) {
//	    // work
//	})
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	GoSafe(parentCtx, name, nil, fn)
}

// GoSafe is Go with panic recovery. A nil onPanic leaves panics unrecovered.
func GoSafe(parentCtx context.Context, name string, onPanic PanicHandler, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		if onPanic != nil {
			defer func() {
				if r := recover(); r != nil {
					onPanic(name, r, debug.Stack())
				}
			}()
		}
		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(goroutineNameKey).(string); ok {
		return v
	}
	return ""
}

// PanicError wraps a recovered panic value.
type PanicError struct {
	Name      string
	Recovered any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("goroutine %q panicked: %v", e.Name, e.Recovered)
}
