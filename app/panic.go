package app

import (
	"fmt"
	"strings"

	"smartcfg/hal"
	"smartcfg/kernel"
)

func installPanicHandler(h hal.HAL, halt func()) {
	kernel.SetPanicHandler(func(info kernel.PanicInfo) {
		if l := h.Logger(); l != nil {
			l.WriteLineString(fmt.Sprintf("Panic: task=%q panic=%v", info.Task, info.Value))
			if info.File != "" {
				l.WriteLineString(fmt.Sprintf("at %s:%d", info.File, info.Line))
			}
			if len(info.Stack) > 0 {
				for _, line := range strings.Split(string(info.Stack), "\n") {
					if line == "" {
						continue
					}
					l.WriteLineString(line)
				}
			} else {
				l.WriteLineString("stack: unavailable")
			}
		}
		if halt != nil {
			halt()
		}
	})
}
