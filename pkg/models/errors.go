package models

import "errors"

// Common errors for controller entities.
var (
	// Compute errors
	ErrComputeNotFound    = errors.New("compute not found")
	ErrDuplicateCompute   = errors.New("compute already registered")
	ErrComputeInUse       = errors.New("compute has nodes in opened projects")
	ErrComputeUnreachable = errors.New("compute is unreachable")

	// Project errors
	ErrProjectNotFound   = errors.New("project not found")
	ErrDuplicateProject  = errors.New("project already exists")
	ErrProjectNotOpened  = errors.New("project is not opened")
	ErrProjectRunning    = errors.New("project has running nodes")
	ErrProjectLocked     = errors.New("project is locked by another operation")

	// Node errors
	ErrNodeNotFound     = errors.New("node not found")
	ErrDuplicateName    = errors.New("node name already used in this project")
	ErrNodeRunning      = errors.New("node is running")
	ErrInvalidStateMove = errors.New("illegal node state transition")

	// Link errors
	ErrLinkNotFound    = errors.New("link not found")
	ErrPortInUse       = errors.New("port already used by another link")
	ErrSameNodeLoop    = errors.New("both link endpoints are on the same node")
	ErrAlreadyCaptured = errors.New("a capture is already running on this link")
	ErrNotCapturing    = errors.New("no capture is running on this link")

	// Drawing errors
	ErrDrawingNotFound = errors.New("drawing not found")

	// Snapshot errors
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// Setting errors
	ErrSettingNotFound = errors.New("setting not found")

	// Port allocation errors
	ErrNoPortAvailable      = errors.New("no port available in the configured range")
	ErrPortAlreadyAllocated = errors.New("port is already allocated")

	// ErrValidation marks bad caller input. Wrap it with context:
	// fmt.Errorf("unknown filter %q: %w", key, ErrValidation).
	ErrValidation = errors.New("validation error")
)
