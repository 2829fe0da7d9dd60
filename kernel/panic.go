package kernel

import (
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// PanicInfo describes an unrecoverable failure.
type PanicInfo struct {
	Task  string
	Value any
	File  string
	Line  int
	Stack []byte
}

var (
	panicActive atomic.Bool
	panicOnce   sync.Once

	panicHandler atomic.Value // func(PanicInfo)
)

// InPanicMode reports whether Abort has been called.
func InPanicMode() bool {
	return panicActive.Load()
}

// SetPanicHandler installs a process-wide abort handler.
//
// The handler is invoked at most once (on the first abort). It must not panic.
func SetPanicHandler(fn func(PanicInfo)) {
	panicHandler.Store(fn)
}

// Abort reports value through the panic handler and halts the calling
// goroutine forever. The source location of the caller is recorded.
func Abort(task string, value any) {
	info := PanicInfo{Task: task, Value: value}
	if _, file, line, ok := runtime.Caller(1); ok {
		info.File = file
		info.Line = line
	}
	triggerPanic(info)
	select {}
}

// AbortRecovered is Abort for a value recovered in a deferred call. The
// recorded location is the statement that panicked.
func AbortRecovered(task string, value any) {
	info := PanicInfo{Task: task, Value: value}
	if file, line, ok := panicSite(); ok {
		info.File, info.Line = file, line
	} else if _, file, line, ok := runtime.Caller(1); ok {
		info.File, info.Line = file, line
	}
	triggerPanic(info)
	select {}
}

// panicSite walks the calling goroutine's stack to the first frame below
// runtime.gopanic that is not in the runtime.
func panicSite() (string, int, bool) {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	unwinding := false
	for {
		f, more := frames.Next()
		if unwinding && !strings.HasPrefix(f.Function, "runtime.") {
			return f.File, f.Line, true
		}
		if f.Function == "runtime.gopanic" {
			unwinding = true
		}
		if !more {
			return "", 0, false
		}
	}
}

func triggerPanic(info PanicInfo) {
	panicOnce.Do(func() {
		panicActive.Store(true)
		info.Stack = captureStack()
		if v := panicHandler.Load(); v != nil {
			if fn, ok := v.(func(PanicInfo)); ok && fn != nil {
				fn(info)
			}
		}
	})
}
