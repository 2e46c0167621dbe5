//go:build cgo && whispercpp

package engine

import (
	"context"
	"runtime/cgo"
	"unsafe"
)

// handleContext recovers the context stored behind a cgo.Handle pointer passed
// to whisper as abort callback user data. Stale handles yield ok=false.
func handleContext(userData unsafe.Pointer) (ctx context.Context, ok bool) {
	if userData == nil {
		return nil, false
	}
	handle := *(*cgo.Handle)(userData)
	if handle == 0 {
		return nil, false
	}
	defer func() {
		if recover() != nil {
			ctx, ok = nil, false
		}
	}()
	ctx, ok = handle.Value().(context.Context)
	return ctx, ok
}

func shouldAbort(userData unsafe.Pointer) bool {
	ctx, ok := handleContext(userData)
	if !ok {
		return false
	}
	return ctx.Err() != nil
}
