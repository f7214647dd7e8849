package mqtt

import "strings"

// ServiceStatusPrefix is the base of the topics on which Homie Core announces
// its own liveness. It sits outside every Homie root so the registry never
// sees it.
const ServiceStatusPrefix = "homiecore/status"

// Topics builds topics under a Homie root.
//
//	topics := mqtt.Topics{Root: "homie"}
//	topics.AllDevices()                    // "homie/#"
//	topics.DeviceAttribute("sensor1", "$state") // "homie/sensor1/$state"
type Topics struct {
	Root string
}

// AllDevices returns the wildcard covering every device under the root.
func (t Topics) AllDevices() string {
	return t.Root + "/#"
}

// Device returns the wildcard covering a single device.
func (t Topics) Device(deviceID string) string {
	return t.Root + "/" + deviceID + "/#"
}

// DeviceAttribute returns the topic of a device-level "$" attribute.
func (t Topics) DeviceAttribute(deviceID, attr string) string {
	return t.Root + "/" + deviceID + "/" + attr
}

// Property returns the value topic of a property.
func (t Topics) Property(deviceID, nodeID, propertyID string) string {
	return t.Root + "/" + deviceID + "/" + nodeID + "/" + propertyID
}

// Contains reports whether topic lies under the root.
func (t Topics) Contains(topic string) bool {
	return strings.HasPrefix(topic, t.Root+"/")
}

// ServiceStatus returns the retained status topic of a Homie Core instance.
//
// Example: homiecore/status/homiecore-01
func (Topics) ServiceStatus(clientID string) string {
	return ServiceStatusPrefix + "/" + clientID
}
