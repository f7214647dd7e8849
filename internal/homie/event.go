package homie

// EventType identifies the kind of model change an Event describes.
type EventType string

// Event types emitted by the registry.
const (
	DeviceDiscovered   EventType = "device_discovered"
	DeviceUpdated      EventType = "device_updated"
	NodeDiscovered     EventType = "node_discovered"
	NodeUpdated        EventType = "node_updated"
	PropertyDiscovered EventType = "property_discovered"
	PropertyUpdated    EventType = "property_updated"
)

// AllEventTypes lists every event type in a stable order.
var AllEventTypes = []EventType{
	DeviceDiscovered,
	DeviceUpdated,
	NodeDiscovered,
	NodeUpdated,
	PropertyDiscovered,
	PropertyUpdated,
}

// String implements fmt.Stringer.
func (t EventType) String() string {
	return string(t)
}

// Event describes one change to the device model.
//
// Device is always set. Node is set for node and property events; Property
// and PropertyName for property events. AttributeName is set when the change
// was an attribute message, and UpdatedValue carries the new value for
// *_UPDATED events (the parsed value for property value messages).
//
// The referenced model objects are live: observers may read them during
// OnEvent but must not retain or mutate them. Use DeepCopy to keep a snapshot.
type Event struct {
	Type          EventType
	Device        *Device
	Node          *Node
	Property      *Property
	AttributeName string
	PropertyName  string
	UpdatedValue  any
}

// DeviceID returns the id of the device the event concerns.
func (e Event) DeviceID() string {
	if e.Device == nil {
		return ""
	}
	return e.Device.ID
}

// NodeID returns the id of the node the event concerns, or "".
func (e Event) NodeID() string {
	if e.Node == nil {
		return ""
	}
	return e.Node.ID
}

// rank orders promotion events: device first, then nodes, then properties.
func (t EventType) rank() int {
	switch t {
	case DeviceDiscovered, DeviceUpdated:
		return 0
	case NodeDiscovered, NodeUpdated:
		return 1
	default:
		return 2
	}
}
