// Package mqtt provides MQTT client connectivity for Homie Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Subscriptions to the Homie tree, restored after reconnect
//   - Ordered, panic-safe message delivery to handlers
//   - Last Will and Testament (LWT) plus retained online/offline status
//
// # Architecture
//
// Homie devices publish retained messages under a root topic. Homie Core
// subscribes to "<root>/#" and hands every message to the device registry.
//
//	Homie devices → MQTT Broker → mqtt.Client → homie.Registry
//
// Homie Core does not publish into the Homie tree. Its only outbound
// messages are status documents on homiecore/status/{client_id}.
//
// # Security Considerations
//
//   - Enable TLS for deployments outside a trusted network (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Root: cfg.MQTT.Homie.RootTopic}
//	err = client.Subscribe(topics.AllDevices(), byte(cfg.MQTT.QoS), registry.HandleMessage)
package mqtt
