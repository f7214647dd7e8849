package homie

import "fmt"

// Node attribute names.
const (
	AttrNodeName       = "$name"
	AttrNodeType       = "$type"
	AttrNodeProperties = "$properties"
)

// Node groups the properties of one logical part of a device.
type Node struct {
	ID          string               `json:"id"`
	DeviceID    string               `json:"device_id"`
	Name        string               `json:"name,omitempty"`
	Type        string               `json:"type,omitempty"`
	PropertyIDs []string             `json:"property_ids,omitempty"`
	Properties  map[string]*Property `json:"properties"`

	// Attributes holds node attributes the model has no field for.
	Attributes map[string]string `json:"attributes,omitempty"`

	// settable records ids declared with the legacy ":settable" suffix.
	settable map[string]bool
}

func newNode(deviceID, id string) *Node {
	return &Node{
		ID:         id,
		DeviceID:   deviceID,
		Properties: make(map[string]*Property),
	}
}

// Property returns the property with the given id.
// Returns ErrPropertyNotFound if the node has no such property.
func (n *Node) Property(id string) (*Property, error) {
	p, ok := n.Properties[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPropertyNotFound, n.ID, id)
	}
	return p, nil
}

// setAttribute applies a "$"-prefixed node attribute.
func (n *Node) setAttribute(attr, value string) {
	switch attr {
	case AttrNodeName:
		n.Name = value
	case AttrNodeType:
		n.Type = value
	case AttrNodeProperties:
		n.PropertyIDs, n.settable = parsePropertyList(value)
		for id := range n.settable {
			if p, ok := n.Properties[id]; ok {
				p.Settable = true
			}
		}
	default:
		if n.Attributes == nil {
			n.Attributes = make(map[string]string)
		}
		n.Attributes[attr] = value
	}
}

// property returns the property with the given id, creating it when absent.
// created reports whether the property was materialised by this call.
func (n *Node) property(id string) (p *Property, created bool) {
	if p, ok := n.Properties[id]; ok {
		return p, false
	}
	p = newProperty(id)
	if n.settable[id] {
		p.Settable = true
	}
	n.Properties[id] = p
	return p, true
}

// DeepCopy returns an independent copy of the node and its properties.
func (n *Node) DeepCopy() *Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.PropertyIDs = append([]string(nil), n.PropertyIDs...)
	cp.Properties = make(map[string]*Property, len(n.Properties))
	for id, p := range n.Properties {
		cp.Properties[id] = p.DeepCopy()
	}
	if n.Attributes != nil {
		cp.Attributes = make(map[string]string, len(n.Attributes))
		for k, v := range n.Attributes {
			cp.Attributes[k] = v
		}
	}
	if n.settable != nil {
		cp.settable = make(map[string]bool, len(n.settable))
		for k, v := range n.settable {
			cp.settable[k] = v
		}
	}
	return &cp
}
