package journal

import (
	"context"
	"slices"
	"time"

	"github.com/nerrad567/homie-core/internal/homie"
)

// writeTimeout bounds a single journal insert during event dispatch.
const writeTimeout = 2 * time.Second

// discoveryTypes are the events the journal keeps. Value updates are not
// persisted.
var discoveryTypes = []homie.EventType{
	homie.DeviceDiscovered,
	homie.NodeDiscovered,
	homie.PropertyDiscovered,
}

// Recorder is a homie.Observer that writes discovery events to a Repository.
type Recorder struct {
	repo Repository
	now  func() time.Time
}

// NewRecorder creates a Recorder writing to repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// OnEvent implements homie.Observer. Non-discovery events are ignored.
func (r *Recorder) OnEvent(evt homie.Event) error {
	if !slices.Contains(discoveryTypes, evt.Type) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	entry := entryFromEvent(evt)
	entry.CreatedAt = r.now()
	return r.repo.Create(ctx, &entry)
}

// entryFromEvent snapshots the discovered object's attributes.
func entryFromEvent(evt homie.Event) Entry {
	entry := Entry{
		EventType: evt.Type,
		DeviceID:  evt.DeviceID(),
		NodeID:    evt.NodeID(),
	}

	switch evt.Type {
	case homie.DeviceDiscovered:
		d := evt.Device
		entry.Name = d.Name
		entry.Details = map[string]any{
			"homie": d.HomieVersion,
			"state": string(d.State),
			"nodes": d.NodeIDs,
		}
	case homie.NodeDiscovered:
		n := evt.Node
		entry.Name = n.Name
		entry.Details = map[string]any{
			"type":       n.Type,
			"properties": n.PropertyIDs,
		}
	case homie.PropertyDiscovered:
		p := evt.Property
		entry.PropertyID = p.ID
		entry.Name = p.Name
		entry.Details = map[string]any{
			"datatype": string(p.DataType),
			"unit":     p.Unit,
			"settable": p.Settable,
		}
	}
	return entry
}
