package homie

import "slices"

// deviceRecord is the per-device assembly state. It is either a
// *pendingDevice (fragments buffered, mandatory attributes incomplete) or a
// *readyDevice (complete, messages applied directly).
type deviceRecord interface {
	isDeviceRecord()
}

// pendingDevice buffers raw fragments by device-relative topic until the
// mandatory attributes have all been seen.
type pendingDevice struct {
	fragments map[string]string
	order     []string // first-seen order of fragment keys
}

// readyDevice wraps a complete device.
type readyDevice struct {
	device *Device
}

func (*pendingDevice) isDeviceRecord() {}
func (*readyDevice) isDeviceRecord()   {}

func newPendingDevice() *pendingDevice {
	return &pendingDevice{fragments: make(map[string]string)}
}

// store buffers a fragment. A repeated key overwrites the payload but keeps
// its original position.
func (p *pendingDevice) store(rest, payload string) {
	if _, seen := p.fragments[rest]; !seen {
		p.order = append(p.order, rest)
	}
	p.fragments[rest] = payload
}

// complete reports whether every mandatory attribute has been buffered.
func (p *pendingDevice) complete() bool {
	for _, attr := range mandatoryAttributes {
		if _, ok := p.fragments[attr]; !ok {
			return false
		}
	}
	return true
}

// promote builds the device from the buffered fragments.
//
// The mandatory attributes are applied first in mandatoryAttributes order,
// then every other fragment in first-seen order. Only discoveries are
// reported for the replay: the returned events start with DEVICE_DISCOVERED,
// followed by NODE_DISCOVERED and then PROPERTY_DISCOVERED events, each group
// in replay order.
func (p *pendingDevice) promote(id string) (*Device, []Event) {
	device := newDevice(id)

	for _, attr := range mandatoryAttributes {
		device.setAttribute(attr, p.fragments[attr])
	}

	var replayed []Event
	for _, rest := range p.order {
		if slices.Contains(mandatoryAttributes, rest) {
			continue
		}
		for _, evt := range device.apply(rest, p.fragments[rest], true) {
			if evt.Type == NodeDiscovered || evt.Type == PropertyDiscovered {
				replayed = append(replayed, evt)
			}
		}
	}

	// Stable sort keeps replay order within each group.
	slices.SortStableFunc(replayed, func(a, b Event) int {
		return a.Type.rank() - b.Type.rank()
	})

	events := make([]Event, 0, len(replayed)+1)
	events = append(events, Event{Type: DeviceDiscovered, Device: device})
	return device, append(events, replayed...)
}
