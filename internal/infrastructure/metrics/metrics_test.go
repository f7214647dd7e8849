package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/homie-core/internal/homie"
)

type fixedCounter struct {
	complete, pending int
}

func (f fixedCounter) DeviceCount() int  { return f.complete }
func (f fixedCounter) PendingCount() int { return f.pending }

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()

	require.NotNil(t, r.MessagesIngested)
	require.NotNil(t, r.MessagesRejected)
	require.NotNil(t, r.EventsTotal)
	require.NotNil(t, r.ObserverFailures)
	require.NotNil(t, r.HTTPRequestsTotal)
	require.NotNil(t, r.registry)
}

func TestNewRegistry_Independent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.MessagesIngested.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.MessagesIngested))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.MessagesIngested))
}

func TestInstrument(t *testing.T) {
	r := NewRegistry()
	handler := r.Instrument(func(topic string, _ []byte) error {
		switch topic {
		case "bad":
			return homie.ErrMalformedTopic
		case "boom":
			return errors.New("boom")
		}
		return nil
	})

	require.NoError(t, handler("homie/sensor1/$name", nil))
	require.NoError(t, handler("homie/sensor1/$state", nil))
	assert.ErrorIs(t, handler("bad", nil), homie.ErrMalformedTopic)
	assert.Error(t, handler("boom", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.MessagesIngested))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.MessagesRejected.WithLabelValues(ReasonMalformed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.MessagesRejected.WithLabelValues(ReasonError)))
}

func TestInstrument_WithHomieRegistry(t *testing.T) {
	r := NewRegistry()
	registry := homie.NewRegistry()
	handler := r.Instrument(registry.HandleMessage)

	assert.Error(t, handler("homie", []byte("x")))
	require.NoError(t, handler("homie/sensor1/$name", []byte("Sensor")))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.MessagesIngested))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.MessagesRejected.WithLabelValues(ReasonMalformed)))
}

func TestOnEvent_CountsByType(t *testing.T) {
	r := NewRegistry()
	registry := homie.NewRegistry()
	registry.Subscribe(r)

	for _, m := range [][2]string{
		{"homie/sensor1/$name", "Sensor"},
		{"homie/sensor1/$homie", "4.0"},
		{"homie/sensor1/$state", "ready"},
		{"homie/sensor1/$nodes", "dht"},
		{"homie/sensor1/dht/temperature", "19.8"},
		{"homie/sensor1/dht/temperature", "20.1"},
	} {
		require.NoError(t, registry.HandleMessage(m[0], []byte(m[1])))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(r.EventsTotal.WithLabelValues("device_discovered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.EventsTotal.WithLabelValues("node_discovered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.EventsTotal.WithLabelValues("property_discovered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.EventsTotal.WithLabelValues("property_updated")))
}

func TestRecordObserverFailure(t *testing.T) {
	r := NewRegistry()
	registry := homie.NewRegistry()
	registry.SetFailureHook(r.RecordObserverFailure)
	registry.Subscribe(homie.ObserverFunc(func(homie.Event) error {
		return errors.New("observer down")
	}))

	for _, m := range [][2]string{
		{"homie/d/$name", "D"},
		{"homie/d/$homie", "4.0"},
		{"homie/d/$state", "ready"},
		{"homie/d/$nodes", ""},
	} {
		require.NoError(t, registry.HandleMessage(m[0], []byte(m[1])))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(r.ObserverFailures))
}

func TestRegisterDevices(t *testing.T) {
	r := NewRegistry()
	r.RegisterDevices(fixedCounter{complete: 3, pending: 2})

	expected := `
# HELP homiecore_devices_complete Devices that have received every mandatory attribute
# TYPE homiecore_devices_complete gauge
homiecore_devices_complete 3
# HELP homiecore_devices_pending Devices still waiting for mandatory attributes
# TYPE homiecore_devices_pending gauge
homiecore_devices_pending 2
`
	err := testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected),
		"homiecore_devices_complete", "homiecore_devices_pending")
	assert.NoError(t, err)
}

func TestRecordHTTPRequest(t *testing.T) {
	r := NewRegistry()

	r.RecordHTTPRequest("GET", "/api/v1/devices", 200, 10*time.Millisecond)
	r.RecordHTTPRequest("GET", "/api/v1/devices", 200, 20*time.Millisecond)
	r.RecordHTTPRequest("GET", "/api/v1/devices/{id}", 404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/devices", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/devices/{id}", "404")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.HTTPRequestDuration))
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.MessagesIngested.Add(5)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "homiecore_messages_ingested_total 5")
	assert.Contains(t, string(body), "go_goroutines")
}
