package journal

import "errors"

var (
	// ErrInvalidEntry is returned when an entry lacks its event type or device id.
	ErrInvalidEntry = errors.New("journal: entry requires event type and device id")

	// ErrInvalidFilter is returned when a filter names an unknown event type.
	ErrInvalidFilter = errors.New("journal: unknown event type in filter")
)
