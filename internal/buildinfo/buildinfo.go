package buildinfo

import (
	"sync"

	"github.com/google/uuid"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Commit is set at build time via -ldflags.
var Commit = "unknown"

// Date is set at build time via -ldflags.
var Date = "unknown"

// Short returns a compact build identifier for the boot banner and logs.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	return "dev"
}

var bootID = sync.OnceValue(func() string { return uuid.NewString() })

// BootID identifies this run of the firmware. It is fixed for the life of
// the process.
func BootID() string { return bootID() }
