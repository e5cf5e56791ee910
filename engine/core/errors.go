package core

import (
	"github.com/pkg/errors"
)

var (
	// ErrInitialization is returned when a required GPU or platform object cannot be created.
	ErrInitialization = errors.New("initialization failed")
	// ErrSwapchainOutOfDate means the swapchain no longer matches the surface and must be recreated.
	ErrSwapchainOutOfDate = errors.New("swapchain out of date")
	ErrDeviceLost         = errors.New("device lost")
	ErrFenceTimeout       = errors.New("fence wait timed out")
	ErrSubmitFailed       = errors.New("queue submission failed")
	// ErrNotFound is a lookup miss on a named mesh, material or texture.
	ErrNotFound = errors.New("resource not found")
	ErrUnknown  = errors.New("unknown")
)

// IsRecoverable reports whether err can be handled by recreating the swapchain.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrSwapchainOutOfDate)
}

// IsFatal reports whether err must stop the run loop.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !IsRecoverable(err) && !errors.Is(err, ErrNotFound)
}
