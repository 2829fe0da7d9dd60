package rtos

import (
	"errors"
	"fmt"

	"smartcfg/kernel"
)

var (
	ErrNameEncoding        = errors.New("rtos: task name contains a NUL byte")
	ErrNilWork             = errors.New("rtos: nil work")
	ErrCouldNotAllocate    = errors.New("rtos: could not allocate required memory")
	ErrScheduler           = errors.New("rtos: scheduler call failed")
	ErrNotFound            = errors.New("rtos: no task for the calling context")
	ErrNoName              = errors.New("rtos: task has no name")
	ErrNotCurrent          = errors.New("rtos: task is not the calling task")
	ErrNotificationPending = errors.New("rtos: notification already pending")
	ErrTimeout             = errors.New("rtos: timed out")
	ErrInvalidBits         = errors.New("rtos: invalid event group bits")
)

func statusError(st kernel.Status) error {
	if st == kernel.StatusCouldNotAllocate {
		return ErrCouldNotAllocate
	}
	return fmt.Errorf("%w: %s", ErrScheduler, st)
}
