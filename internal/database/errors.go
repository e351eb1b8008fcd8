package database

import "errors"

var (
	ErrNotFound               = errors.New("database: record not found")
	ErrCapacityConflict       = errors.New("database: slot capacity conflict")
	ErrConcurrentModification = errors.New("database: concurrent modification")
	ErrBuildQuery             = errors.New("database: build query")
)
