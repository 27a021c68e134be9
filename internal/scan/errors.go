package scan

import "errors"

var (
	ErrScanNotFound    = errors.New("scan not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrFindingNotFound = errors.New("finding not found")

	// ErrInvalidProject is returned when a project root cannot be registered.
	ErrInvalidProject = errors.New("invalid project")
	ErrScanNotRunning = errors.New("scan is not running")
	ErrAIDisabled     = errors.New("ai verification is not configured")
)
