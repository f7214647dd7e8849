package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/homie-core/internal/infrastructure/config"
)

// Client consumes a Homie tree from an MQTT broker.
//
// Homie Core is a read-only participant: apart from its own retained
// liveness document it never publishes. The client keeps the set of topic
// filters it was asked to follow and re-establishes them whenever paho
// reconnects, which makes the broker replay the retained Homie state.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	feeds feedSet

	online atomic.Bool

	hooksMu      sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)

	logger atomic.Pointer[loggerRef]
}

// Logger is the subset of logging.Logger (and *slog.Logger) the client uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type loggerRef struct{ Logger }

// MessageHandler receives one message from a followed topic filter.
//
// With ordered delivery enabled, handlers run one at a time in arrival order,
// so a slow handler delays every later message. A returned error is logged
// and does not affect acknowledgement. The signature matches
// homie.Registry.HandleMessage.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by cfg and waits for the first
// connection. The retained offline document is registered as the LWT, and the
// online document is published from the connect handler.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	c := &Client{cfg: cfg}

	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, o *pahomqtt.ClientOptions) {
		if log := c.getLogger(); log != nil {
			log.Warn("mqtt reconnecting", "client_id", o.ClientID, "filters", c.feeds.len())
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// paho runs the connect handler on its own goroutine.
	c.online.Store(true)

	return c, nil
}

// connected runs on every successful (re)connect.
func (c *Client) connected() {
	c.online.Store(true)
	c.refollow()
	c.publishOnlineStatus()

	c.hooksMu.RLock()
	hook := c.onConnect
	c.hooksMu.RUnlock()
	if hook != nil {
		hook()
	}
}

// lost runs when paho reports the connection gone.
func (c *Client) lost(err error) {
	c.online.Store(false)

	c.hooksMu.RLock()
	hook := c.onDisconnect
	c.hooksMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// Close publishes the graceful offline document and disconnects. Calling
// Close on a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		topic := Topics{}.ServiceStatus(c.cfg.Broker.ClientID)
		payload := buildStatusPayload(statusOffline, c.cfg.Broker.ClientID, reasonShutdown)
		// The LWT covers a failed publish.
		_ = c.publish(topic, payload, byte(c.cfg.QoS), true)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.online.Store(false)

	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.online.Load() && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback run after every connect and reconnect, once
// the followed filters have been re-established.
func (c *Client) SetOnConnect(callback func()) {
	c.hooksMu.Lock()
	c.onConnect = callback
	c.hooksMu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.hooksMu.Lock()
	c.onDisconnect = callback
	c.hooksMu.Unlock()
}

// SetLogger sets the logger for handler failures and reconnect activity.
// Pass nil to silence the client.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		c.logger.Store(nil)
		return
	}
	c.logger.Store(&loggerRef{logger})
}

func (c *Client) getLogger() Logger {
	if ref := c.logger.Load(); ref != nil {
		return ref.Logger
	}
	return nil
}

// wrapHandler adapts a MessageHandler to paho, recovering panics so one bad
// payload cannot stop delivery.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if log := c.getLogger(); log != nil {
					log.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if log := c.getLogger(); log != nil {
				log.Warn("mqtt handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
