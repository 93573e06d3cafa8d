package scheduler

import "errors"

var (
	// ErrAlreadyRunning is returned by Start on a runner that is already started
	ErrAlreadyRunning = errors.New("runner is already running")

	// ErrNotRunning is returned by Stop on a runner that was never started
	ErrNotRunning = errors.New("runner is not running")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)
