package registry

import "errors"

// Admission and lookup errors
var (
	// ErrInvalidCapacity is returned when a registration offers no CPUs.
	ErrInvalidCapacity = errors.New("invalid capacity")

	// ErrInsufficientLeadTime is returned when a registration's availability
	// window ends before the minimum lead time.
	ErrInsufficientLeadTime = errors.New("insufficient lead time")

	// ErrOutOfRange is returned when a record index does not exist.
	ErrOutOfRange = errors.New("provider index out of range")

	// ErrAlreadyEngaged is returned when engaging a record that is already
	// bound to a session.
	ErrAlreadyEngaged = errors.New("provider already engaged")

	// ErrNotEngaged is returned when releasing a record that is not engaged.
	ErrNotEngaged = errors.New("provider not engaged")
)
