package homie

import "errors"

// Domain errors for the homie package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, homie.ErrDeviceNotFound) {
//	    // device unknown or still incomplete
//	}
var (
	// ErrMalformedTopic is returned when a topic does not have the
	// <root>/<deviceId>/<rest> shape. The message is not applied.
	ErrMalformedTopic = errors.New("homie: malformed topic")

	// ErrDeviceNotFound is returned when a device id is unknown or the
	// device has not yet received all of its mandatory attributes.
	ErrDeviceNotFound = errors.New("homie: device not found")

	// ErrNodeNotFound is returned when a node id does not exist on a device.
	ErrNodeNotFound = errors.New("homie: node not found")

	// ErrPropertyNotFound is returned when a property id does not exist on a node.
	ErrPropertyNotFound = errors.New("homie: property not found")

	// ErrObserverFailed wraps an error returned or panic raised by an
	// observer during event delivery.
	ErrObserverFailed = errors.New("homie: observer failed")
)
