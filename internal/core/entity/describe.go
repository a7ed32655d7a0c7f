package entity

import (
	"slices"

	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
)

func State(e Entity) domain.EntityState {
	desc := e.Description()
	return domain.EntityState{
		Id:         desc.Id,
		Name:       desc.Name,
		DeviceId:   desc.Device.Id,
		Capability: string(desc.Capability),
		Key:        string(desc.Key),
		State:      e.StatePayload(),
		Available:  e.Available(),
		Options:    slices.Clone(desc.Options),
	}
}

// Components maps entities to HA discovery components. The first entity of each device
// carries the full device description, the rest only its id.
func Components(entities []Entity) domain.DiscoveryComponents {
	var comps domain.DiscoveryComponents
	seen := map[string]bool{}
	for _, e := range entities {
		desc := e.Description()
		device := desc.Device
		if seen[device.Id] {
			device = domain.IdDevice(device)
		}
		seen[device.Id] = true
		uid := domain.UniqueId(device.Id, desc.Id)

		switch desc.Capability {
		case CapabilitySwitch:
			comps.Switches = append(comps.Switches, domain.GenericSwitch{
				Device:      device,
				Id:          desc.Id,
				Name:        desc.Name,
				UniqueId:    uid,
				DeviceClass: desc.DeviceClass,
				Icon:        desc.Icon,
			})
		case CapabilitySelect:
			comps.Selects = append(comps.Selects, domain.GenericSelect{
				Device:         device,
				Id:             desc.Id,
				Name:           desc.Name,
				UniqueId:       uid,
				EntityCategory: desc.EntityCategory,
				Icon:           desc.Icon,
				Options:        slices.Clone(desc.Options),
			})
		case CapabilityBinarySensor, CapabilitySensor:
			comps.Sensors = append(comps.Sensors, domain.GenericSensor{
				Device:            device,
				Id:                desc.Id,
				SensorType:        string(desc.Capability),
				Name:              desc.Name,
				UniqueId:          uid,
				UnitOfMeasurement: desc.UnitOfMeasurement,
				StateClass:        desc.StateClass,
				DeviceClass:       desc.DeviceClass,
				EntityCategory:    desc.EntityCategory,
				Icon:              desc.Icon,
			})
		}
	}
	return comps
}

// StateEvents returns the current state event of every entity.
func StateEvents(entities []Entity) []domain.SensorUpdateEvent {
	events := make([]domain.SensorUpdateEvent, 0, len(entities))
	for _, e := range entities {
		events = append(events, e.StateEvent())
	}
	return events
}
