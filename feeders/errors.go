package feeders

import "errors"

// Static error definitions for feeders to comply with linting rules
var (
	// ErrInvalidStructure indicates the feed target is not a pointer to a struct
	ErrInvalidStructure = errors.New("feeders: target must be a pointer to a struct")

	// ErrEmptyPrefix indicates the env feeder was built without a prefix
	ErrEmptyPrefix = errors.New("feeders: env prefix cannot be empty")

	// ErrFieldNotSettable indicates a tagged field cannot be assigned
	ErrFieldNotSettable = errors.New("feeders: field cannot be set")
)
