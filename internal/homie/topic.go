package homie

import (
	"fmt"
	"strings"
)

// Topic separators and markers of the Homie convention.
const (
	topicSeparator = "/"
	attributeMark  = "$"
	listSeparator  = ","
	setSuffix      = "set"
)

// SplitTopic decomposes "<root>/<deviceId>/<rest...>" into the device id and
// the device-relative remainder.
//
// Returns ErrMalformedTopic when the topic has fewer than two separators or
// the device id is empty.
func SplitTopic(topic string) (deviceID, rest string, err error) {
	parts := strings.SplitN(topic, topicSeparator, 3)
	if len(parts) < 3 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	if parts[1] == "" {
		return "", "", fmt.Errorf("%w: empty device id in %q", ErrMalformedTopic, topic)
	}
	return parts[1], parts[2], nil
}

// isAttribute reports whether a topic segment is a "$"-prefixed attribute.
func isAttribute(segment string) bool {
	return strings.HasPrefix(segment, attributeMark)
}

// ParseIDList splits a comma-separated id list such as the payload of $nodes.
// Whitespace around entries is trimmed and empty entries are dropped.
func ParseIDList(payload string) []string {
	fields := strings.Split(payload, listSeparator)
	ids := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			ids = append(ids, f)
		}
	}
	return ids
}

// parsePropertyList parses a $properties payload. Entries may carry the legacy
// ":settable" suffix, in which case the id is added to the settable set.
func parsePropertyList(payload string) (ids []string, settable map[string]bool) {
	settable = make(map[string]bool)
	for _, entry := range ParseIDList(payload) {
		id, flag, found := strings.Cut(entry, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if found && strings.TrimSpace(flag) == "settable" {
			settable[id] = true
		}
		ids = append(ids, id)
	}
	return ids, settable
}

// messageKind classifies a device-relative sub-topic.
type messageKind int

const (
	kindUnknown messageKind = iota
	kindDeviceAttribute
	kindNodeAttribute
	kindPropertyValue
	kindPropertyAttribute
	kindPropertySet
)

// subTopic is a classified device-relative topic.
type subTopic struct {
	kind      messageKind
	nodeID    string
	property  string
	attribute string
}

// classify maps a device-relative sub-topic onto its shape:
//
//	$attr[/...]       device attribute (keyed by the full sub-topic)
//	node/$attr        node attribute
//	node/prop         property value
//	node/prop/$attr   property attribute
//	node/prop/set     command topic
func classify(rest string) subTopic {
	parts := strings.Split(rest, topicSeparator)
	if isAttribute(parts[0]) {
		return subTopic{kind: kindDeviceAttribute, attribute: rest}
	}
	if parts[0] == "" {
		return subTopic{kind: kindUnknown}
	}

	switch len(parts) {
	case 2:
		if isAttribute(parts[1]) {
			return subTopic{kind: kindNodeAttribute, nodeID: parts[0], attribute: parts[1]}
		}
		if parts[1] == "" {
			return subTopic{kind: kindUnknown}
		}
		return subTopic{kind: kindPropertyValue, nodeID: parts[0], property: parts[1]}
	case 3:
		if parts[1] == "" || isAttribute(parts[1]) {
			return subTopic{kind: kindUnknown}
		}
		if isAttribute(parts[2]) {
			return subTopic{kind: kindPropertyAttribute, nodeID: parts[0], property: parts[1], attribute: parts[2]}
		}
		if parts[2] == setSuffix {
			return subTopic{kind: kindPropertySet, nodeID: parts[0], property: parts[1]}
		}
	}
	return subTopic{kind: kindUnknown}
}
