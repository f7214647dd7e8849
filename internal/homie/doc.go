// Package homie assembles Homie devices from a stream of retained MQTT
// messages and broadcasts typed change events.
//
// Devices publish their structure as a tree of topics:
//
//	homie/<device>/$homie|$name|$state|$nodes|...   device attributes
//	homie/<device>/<node>/$name|$type|$properties   node attributes
//	homie/<device>/<node>/<property>                property value
//	homie/<device>/<node>/<property>/$datatype|...  property attributes
//
// Messages arrive in any order. The Registry buffers the fragments of each
// device until $homie, $name, $state and $nodes have all been seen, then
// builds the Device, replays the buffered fragments and emits
// DEVICE_DISCOVERED followed by the node and property discovery events.
// From then on every message is applied directly and produces an
// *_UPDATED (or, for new nodes and properties, *_DISCOVERED) event.
//
// # Architecture
//
//	transport ──▶ Registry.HandleMessage ──▶ SplitTopic
//	                       │
//	                       ▼
//	        ┌──────────────────────────────┐
//	        │ per-device record            │
//	        │  pendingDevice ──promote──▶  │
//	        │  readyDevice (Device model)  │
//	        └──────────────────────────────┘
//	                       │ []Event
//	                       ▼
//	                   EventBus ──▶ observers
//
// # Usage
//
//	registry := homie.NewRegistry()
//	registry.SetLogger(log)
//	registry.Subscribe(homie.ObserverFunc(func(evt homie.Event) error {
//	    log.Info("homie event", "type", evt.Type, "device", evt.DeviceID())
//	    return nil
//	}))
//
//	// Feed from the MQTT client
//	client.Subscribe("homie/#", 1, registry.HandleMessage)
//
//	dev, err := registry.GetDevice("sensor1")
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Ingestion is serialised so the
// per-device application order equals the ingestion order, and observers are
// called synchronously on the ingesting goroutine.
package homie
