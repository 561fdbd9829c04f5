package executor

import "errors"

var (
	// ErrInvalidConfig indicates a builder or config section with
	// inconsistent settings.
	ErrInvalidConfig = errors.New("invalid executor config")

	// ErrDuplicateName indicates an executor name already in the registry.
	ErrDuplicateName = errors.New("executor name already registered")

	// ErrUnknownKind indicates an unsupported executor type in config.
	ErrUnknownKind = errors.New("unknown executor type")
)
