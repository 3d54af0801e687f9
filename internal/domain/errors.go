package domain

import "errors"

var (
	// ErrNotFound is returned by stores when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStarExists is returned when an exchange already carries a star marker.
	ErrStarExists = errors.New("star marker already exists")
)
