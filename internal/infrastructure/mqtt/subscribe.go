package mqtt

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// feed is one followed topic filter.
type feed struct {
	qos     byte
	handler MessageHandler
}

// feedSet tracks followed filters so they survive reconnects. The zero value
// is ready to use.
type feedSet struct {
	mu    sync.RWMutex
	feeds map[string]feed
}

func (s *feedSet) put(filter string, f feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feeds == nil {
		s.feeds = make(map[string]feed)
	}
	s.feeds[filter] = f
}

func (s *feedSet) remove(filter string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.feeds[filter]
	delete(s.feeds, filter)
	return ok
}

func (s *feedSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.feeds)
}

// filters returns the followed filters in sorted order.
func (s *feedSet) filters() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.feeds))
	for filter := range s.feeds {
		out = append(out, filter)
	}
	slices.Sort(out)
	return out
}

func (s *feedSet) get(filter string) (feed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.feeds[filter]
	return f, ok
}

// validateFilter applies the MQTT topic filter rules: "#" only as the whole
// last level, "+" only as a whole level.
func validateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: %q misplaces '#'", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: %q misplaces '+'", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// Subscribe follows a topic filter, typically Topics.AllDevices, delivering
// every matching message to handler. The broker replays retained Homie state
// immediately and again after every reconnect; the registry treats those
// replays as redeliveries.
//
// Following a filter that is already followed replaces its handler.
//
// Example:
//
//	topics := mqtt.Topics{Root: "homie"}
//	err := client.Subscribe(topics.AllDevices(), 1, registry.HandleMessage)
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := c.follow(filter, feed{qos: qos, handler: handler}); err != nil {
		return err
	}
	c.feeds.put(filter, feed{qos: qos, handler: handler})
	return nil
}

// Unsubscribe stops following a filter. While disconnected the filter is
// only forgotten, so it is not re-established on reconnect. Unsubscribing a
// filter that is not followed is a no-op.
func (c *Client) Unsubscribe(filter string) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	if !c.feeds.remove(filter) || !c.IsConnected() {
		return nil
	}

	token := c.client.Unsubscribe(filter)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// Subscriptions returns the followed filters in sorted order.
func (c *Client) Subscriptions() []string {
	return c.feeds.filters()
}

// follow subscribes one filter at the broker.
func (c *Client) follow(filter string, f feed) error {
	token := c.client.Subscribe(filter, f.qos, c.wrapHandler(f.handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// refollow re-establishes every followed filter after a reconnect, in filter
// order so replays arrive in a stable sequence.
func (c *Client) refollow() {
	log := c.getLogger()
	restored := 0
	for _, filter := range c.feeds.filters() {
		f, ok := c.feeds.get(filter)
		if !ok {
			continue
		}
		if err := c.follow(filter, f); err != nil {
			if log != nil {
				log.Warn("mqtt resubscribe failed", "filter", filter, "error", err)
			}
			continue
		}
		restored++
	}
	if log != nil && restored > 0 {
		log.Info("mqtt subscriptions restored", "count", restored)
	}
}
