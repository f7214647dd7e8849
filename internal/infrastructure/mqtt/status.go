package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// maxPayloadSize bounds outbound payloads (1MB), in line with typical broker limits.
const maxPayloadSize = 1 << 20

// Service status values published on ServiceStatus topics.
const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// Reasons attached to offline status payloads.
const (
	reasonUnexpected = "unexpected_disconnect"
	reasonShutdown   = "graceful_shutdown"
)

// StatusPayload is the retained JSON document announcing Homie Core liveness.
type StatusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// buildStatusPayload renders a status document stamped with the current time.
func buildStatusPayload(status, clientID, reason string) []byte {
	data, err := json.Marshal(StatusPayload{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Only strings are marshalled; this cannot fail.
		panic(err)
	}
	return data
}

// publish sends a status message. Homie Core never publishes into the Homie
// tree, so this stays internal to the package.
func (c *Client) publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// publishOnlineStatus announces that this instance is online.
func (c *Client) publishOnlineStatus() {
	topic := Topics{}.ServiceStatus(c.cfg.Broker.ClientID)
	payload := buildStatusPayload(statusOnline, c.cfg.Broker.ClientID, "")
	if err := c.publish(topic, payload, byte(c.cfg.QoS), true); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("publishing online status failed", "topic", topic, "error", err)
		}
	}
}
