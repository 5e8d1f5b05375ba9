package pipeline

import (
	"errors"
	"fmt"
)

// Failure categories recorded on unit results. Match with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrIO            = errors.New("io error")
	ErrExternalTool  = errors.New("external tool failure")
	ErrNetwork       = errors.New("network failure")
	ErrNoTrackers    = errors.New("no trackers configured")

	ErrNotStartable = errors.New("task cannot be started")
	ErrTaskNotFound = errors.New("task not found")
	ErrDuplicateID  = errors.New("task already submitted")
)

func wrapUnit(kind error, stage Stage, unit string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s %s", kind, stage, unit)
	}
	return fmt.Errorf("%w: %s %s: %w", kind, stage, unit, err)
}
