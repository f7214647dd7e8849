package homie

import (
	"fmt"
	"slices"
)

// State is the lifecycle state a device reports in $state. Values are stored
// as delivered; unknown states are kept verbatim.
type State string

// Device states defined by the Homie convention.
const (
	StateInit         State = "init"
	StateReady        State = "ready"
	StateDisconnected State = "disconnected"
	StateSleeping     State = "sleeping"
	StateLost         State = "lost"
	StateAlert        State = "alert"
)

// Device attribute names.
const (
	AttrHomie = "$homie"
	AttrName  = "$name"
	AttrState = "$state"
	AttrNodes = "$nodes"
)

// mandatoryAttributes is the set a device needs before it is complete, in the
// order they are applied on promotion. $nodes comes last so node declarations
// land after the device identity fields.
var mandatoryAttributes = []string{AttrName, AttrHomie, AttrState, AttrNodes}

// Device is a complete Homie device and the nodes it owns.
type Device struct {
	ID           string           `json:"id"`
	HomieVersion string           `json:"homie_version"`
	Name         string           `json:"name"`
	State        State            `json:"state"`
	NodeIDs      []string         `json:"node_ids"`
	Nodes        map[string]*Node `json:"nodes"`

	// Attributes holds every other device attribute ($implementation,
	// $fw/version, $stats/uptime, ...) keyed by its device-relative topic.
	Attributes map[string]string `json:"attributes,omitempty"`
}

func newDevice(id string) *Device {
	return &Device{
		ID:         id,
		Nodes:      make(map[string]*Node),
		Attributes: make(map[string]string),
	}
}

// Node returns the node with the given id.
// Returns ErrNodeNotFound if the device has no such node.
func (d *Device) Node(id string) (*Node, error) {
	n, ok := d.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNodeNotFound, d.ID, id)
	}
	return n, nil
}

// DeclaresNode reports whether id is listed in the device's $nodes.
func (d *Device) DeclaresNode(id string) bool {
	return slices.Contains(d.NodeIDs, id)
}

// DeepCopy returns an independent copy of the device, its nodes and their
// properties.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	cp.NodeIDs = append([]string(nil), d.NodeIDs...)
	cp.Nodes = make(map[string]*Node, len(d.Nodes))
	for id, n := range d.Nodes {
		cp.Nodes[id] = n.DeepCopy()
	}
	cp.Attributes = make(map[string]string, len(d.Attributes))
	for k, v := range d.Attributes {
		cp.Attributes[k] = v
	}
	return &cp
}

// setAttribute applies a device attribute keyed by its device-relative topic.
func (d *Device) setAttribute(attr, value string) {
	switch attr {
	case AttrHomie:
		d.HomieVersion = value
	case AttrName:
		d.Name = value
	case AttrState:
		d.State = State(value)
	case AttrNodes:
		d.NodeIDs = ParseIDList(value)
	default:
		d.Attributes[attr] = value
	}
}

// apply routes one device-relative message into the model and returns the
// events it produced. While initializing, device attribute changes are
// applied silently; the caller emits DEVICE_DISCOVERED instead.
func (d *Device) apply(rest, payload string, initializing bool) []Event {
	sub := classify(rest)

	switch sub.kind {
	case kindDeviceAttribute:
		d.setAttribute(sub.attribute, payload)
		if initializing {
			return nil
		}
		return []Event{{
			Type:          DeviceUpdated,
			Device:        d,
			AttributeName: sub.attribute,
			UpdatedValue:  payload,
		}}

	case kindNodeAttribute:
		node, created, ok := d.node(sub.nodeID)
		if !ok {
			return nil
		}
		node.setAttribute(sub.attribute, payload)
		if created {
			return []Event{{Type: NodeDiscovered, Device: d, Node: node}}
		}
		return []Event{{
			Type:          NodeUpdated,
			Device:        d,
			Node:          node,
			AttributeName: sub.attribute,
			UpdatedValue:  payload,
		}}

	case kindPropertyValue, kindPropertyAttribute:
		return d.applyProperty(sub, payload)
	}

	return nil
}

// applyProperty handles property value and property attribute messages.
func (d *Device) applyProperty(sub subTopic, payload string) []Event {
	node, nodeCreated, ok := d.node(sub.nodeID)
	if !ok {
		return nil
	}

	var events []Event
	if nodeCreated {
		events = append(events, Event{Type: NodeDiscovered, Device: d, Node: node})
	}

	prop, created := node.property(sub.property)
	evt := Event{
		Type:         PropertyUpdated,
		Device:       d,
		Node:         node,
		Property:     prop,
		PropertyName: sub.property,
	}
	if sub.kind == kindPropertyValue {
		evt.UpdatedValue = prop.setValue(payload)
	} else {
		prop.setAttribute(sub.attribute, payload)
		evt.AttributeName = sub.attribute
		evt.UpdatedValue = payload
	}
	if created {
		evt.Type = PropertyDiscovered
		evt.AttributeName = ""
		evt.UpdatedValue = nil
	}

	return append(events, evt)
}

// node returns the node with the given id, creating it when the device
// declares it in $nodes. ok is false for undeclared nodes.
func (d *Device) node(id string) (n *Node, created, ok bool) {
	if n, exists := d.Nodes[id]; exists {
		return n, false, true
	}
	if !d.DeclaresNode(id) {
		return nil, false, false
	}
	n = newNode(d.ID, id)
	d.Nodes[id] = n
	return n, true, true
}
