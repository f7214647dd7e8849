package homie

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the externally visible view of assembled Homie devices.
//
// It is the single ingestion entry point for transport messages
// (HandleMessage), the query surface for complete devices, and the
// subscription surface of the event bus.
//
// Thread Safety:
//   - All public methods are safe for concurrent use.
//   - HandleMessage calls are serialised; events are dispatched on the
//     calling goroutine in emission order, after the model lock is
//     released, so observers may query the registry.
type Registry struct {
	ingestMu sync.Mutex // serialises HandleMessage, held across dispatch

	mu      sync.RWMutex // protects records
	records map[string]deviceRecord

	bus    *EventBus
	logger Logger
}

// NewRegistry creates an empty registry with its own event bus.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]deviceRecord),
		bus:     NewEventBus(),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry and its event bus. It may be
// called while messages are being ingested.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
	r.bus.SetLogger(logger)
}

// SetFailureHook sets a callback invoked whenever an observer fails.
func (r *Registry) SetFailureHook(hook func(error)) {
	r.bus.SetFailureHook(hook)
}

// Subscribe registers an observer for model events. Registering the same
// observer twice is a no-op.
func (r *Registry) Subscribe(o Observer) {
	r.bus.Subscribe(o)
}

// Unsubscribe removes an observer and reports whether it was registered.
// Once Unsubscribe returns the observer receives no further events.
func (r *Registry) Unsubscribe(o Observer) bool {
	return r.bus.Unsubscribe(o)
}

// HandleMessage ingests one (topic, payload) pair from the transport.
//
// The topic must have the form <root>/<deviceId>/<rest>; otherwise
// ErrMalformedTopic is returned and nothing is applied. Messages for
// incomplete devices are buffered; the message that completes the mandatory
// attribute set promotes the device. Messages for complete devices are
// applied directly.
//
// The signature matches mqtt.MessageHandler so the registry can be
// subscribed to the transport directly.
func (r *Registry) HandleMessage(topic string, payload []byte) error {
	deviceID, rest, err := SplitTopic(topic)
	if err != nil {
		return err
	}

	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()

	events := r.apply(deviceID, rest, string(payload))
	for _, evt := range events {
		r.bus.Emit(evt)
	}
	return nil
}

// apply mutates the model under the write lock and returns the events to
// dispatch.
func (r *Registry) apply(deviceID, rest, payload string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch rec := r.records[deviceID].(type) {
	case *readyDevice:
		events := rec.device.apply(rest, payload, false)
		if len(events) == 0 {
			r.logger.Debug("homie message ignored", "device_id", deviceID, "topic", rest)
		}
		return events

	case *pendingDevice:
		rec.store(rest, payload)
		return r.tryPromote(deviceID, rec)

	default:
		pending := newPendingDevice()
		pending.store(rest, payload)
		r.records[deviceID] = pending
		return r.tryPromote(deviceID, pending)
	}
}

// tryPromote replaces a pending record with a ready one once it is complete.
func (r *Registry) tryPromote(deviceID string, pending *pendingDevice) []Event {
	if !pending.complete() {
		return nil
	}

	device, events := pending.promote(deviceID)
	r.records[deviceID] = &readyDevice{device: device}

	r.logger.Info("homie device discovered",
		"device_id", deviceID,
		"name", device.Name,
		"homie", device.HomieVersion,
		"nodes", len(device.NodeIDs),
	)
	return events
}

// GetDevice returns a complete device by id.
// Returns ErrDeviceNotFound if the device is unknown or incomplete.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id].(*readyDevice)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return rec.device.DeepCopy(), nil
}

// GetNode returns a node of a complete device.
// The returned node is a deep copy.
func (r *Registry) GetNode(deviceID, nodeID string) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[deviceID].(*readyDevice)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	node, err := rec.device.Node(nodeID)
	if err != nil {
		return nil, err
	}
	return node.DeepCopy(), nil
}

// GetProperty returns a property of a node of a complete device.
// The returned property is a deep copy.
func (r *Registry) GetProperty(deviceID, nodeID, propertyID string) (*Property, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[deviceID].(*readyDevice)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	node, err := rec.device.Node(nodeID)
	if err != nil {
		return nil, err
	}
	prop, err := node.Property(propertyID)
	if err != nil {
		return nil, err
	}
	return prop.DeepCopy(), nil
}

// Devices returns all complete devices sorted by id.
// The returned devices are deep copies.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]*Device, 0, len(r.records))
	for _, rec := range r.records {
		if ready, ok := rec.(*readyDevice); ok {
			devices = append(devices, ready.device.DeepCopy())
		}
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// DeviceCount returns the number of complete devices.
func (r *Registry) DeviceCount() int {
	return r.count(func(rec deviceRecord) bool {
		_, ok := rec.(*readyDevice)
		return ok
	})
}

// PendingCount returns the number of devices still waiting for mandatory
// attributes.
func (r *Registry) PendingCount() int {
	return r.count(func(rec deviceRecord) bool {
		_, ok := rec.(*pendingDevice)
		return ok
	})
}

func (r *Registry) count(match func(deviceRecord) bool) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.records {
		if match(rec) {
			n++
		}
	}
	return n
}
