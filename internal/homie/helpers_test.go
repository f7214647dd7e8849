package homie

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recorder is an Observer that keeps every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(evt Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) types() []EventType {
	events := r.all()
	types := make([]EventType, len(events))
	for i, evt := range events {
		types[i] = evt.Type
	}
	return types
}

func (r *recorder) ofType(t EventType) []Event {
	var out []Event
	for _, evt := range r.all() {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// message is one (topic, payload) pair for ingestion.
type message struct {
	topic   string
	payload string
}

func ingest(t *testing.T, r *Registry, msgs ...message) {
	t.Helper()
	for _, m := range msgs {
		require.NoError(t, r.HandleMessage(m.topic, []byte(m.payload)), "topic %s", m.topic)
	}
}

// sensorMessages is the five-message sensor1 scenario.
func sensorMessages() []message {
	return []message{
		{"devices/sensor1/$name", "Sensor"},
		{"devices/sensor1/$homie", "4.0"},
		{"devices/sensor1/$state", "ready"},
		{"devices/sensor1/$nodes", "dht"},
		{"devices/sensor1/dht/temperature", "19.8"},
	}
}
