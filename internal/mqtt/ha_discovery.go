package mqtt

import (
	"fmt"
	"slices"

	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
)

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice         `json:"device"`
	StateTopic        string                    `json:"state_topic"`
	CommandTopic      string                    `json:"command_topic,omitempty"`
	StateClass        string                    `json:"state_class,omitempty"`
	DeviceClass       string                    `json:"device_class,omitempty"`
	UnitOfMeasurement string                    `json:"unit_of_measurement,omitempty"`
	AvTopic           string                    `json:"availability_topic,omitempty"`
	Availability      []HADiscoveryAvailability `json:"availability,omitempty"`
	AvailabilityMode  string                    `json:"availability_mode,omitempty"`
	EntityCategory    string                    `json:"entity_category,omitempty"`
	Name              string                    `json:"name"`
	UniqueId          string                    `json:"unique_id"`
	Platform          string                    `json:"platform"`
	EnabledByDefault  *bool                     `json:"enabled_by_default,omitempty"`
	PayloadOn         string                    `json:"payload_on,omitempty"`
	PayloadOff        string                    `json:"payload_off,omitempty"`
	Icon              string                    `json:"icon,omitempty"`
	Options           []string                  `json:"options,omitempty"`
}

type HADiscoveryAvailability struct {
	Topic string `json:"topic"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

func (c *MQTTClient) HADiscoverySensorTopic(sensor domain.GenericSensor) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", c.discoveryTopic(), sensor.SensorType, sensor.Device.Id, sensor.Id)
}

func (c *MQTTClient) HADiscoverySwitchTopic(sw domain.GenericSwitch) string {
	return fmt.Sprintf("%s/switch/%s/%s/config", c.discoveryTopic(), sw.Device.Id, sw.Id)
}

func (c *MQTTClient) HADiscoverySelectTopic(sel domain.GenericSelect) string {
	return fmt.Sprintf("%s/select/%s/%s/config", c.discoveryTopic(), sel.Device.Id, sel.Id)
}

// availability makes an entity unavailable when either the bridge or its device is offline.
func (c *MQTTClient) availability(device domain.Device, id string) ([]HADiscoveryAvailability, string, string) {
	switch {
	case id == domain.SENSOR_ID_BRIDGE_STATE:
		// reports offline itself
		return nil, "", ""
	case device.Id == "":
		return nil, "", c.BridgeStateTopic()
	}
	return []HADiscoveryAvailability{
		{Topic: c.BridgeStateTopic()},
		{Topic: c.DeviceAvailabilityTopic(device.Id)},
	}, "all", ""
}

func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor) HADiscoveryConfig {
	var topic string
	switch {
	case sensor.Id == domain.SENSOR_ID_BRIDGE_STATE:
		topic = client.BridgeStateTopic()
	case sensor.SensorType == domain.SENSOR_TYPE_BINARY:
		topic = client.BinarySensorStateTopic(sensor.Id)
	default:
		topic = client.SensorStateTopic(sensor.Id)
	}
	availability, mode, avTopic := client.availability(sensor.Device, sensor.Id)
	disConfig := HADiscoveryConfig{
		Device:            device(sensor.Device),
		StateTopic:        topic,
		StateClass:        sensor.StateClass,
		DeviceClass:       sensor.DeviceClass,
		UnitOfMeasurement: sensor.UnitOfMeasurement,
		AvTopic:           avTopic,
		Availability:      availability,
		AvailabilityMode:  mode,
		EntityCategory:    sensor.EntityCategory,
		Name:              sensor.Name,
		UniqueId:          sensor.UniqueId,
		Icon:              sensor.Icon,
		EnabledByDefault:  sensor.EnabledByDefault,
		Platform:          "mqtt",
	}
	if sensor.Id == domain.SENSOR_ID_BRIDGE_STATE {
		disConfig.PayloadOn = MQTT_PAYLOAD_ONLINE
		disConfig.PayloadOff = MQTT_PAYLOAD_OFFLINE
	} else if sensor.SensorType == domain.SENSOR_TYPE_BINARY {
		disConfig.PayloadOn = MQTT_PAYLOAD_ON
		disConfig.PayloadOff = MQTT_PAYLOAD_OFF
	}
	return disConfig
}

func GenericSwitchToHADiscoveryMessage(client *MQTTClient, sw domain.GenericSwitch) HADiscoveryConfig {
	availability, mode, avTopic := client.availability(sw.Device, sw.Id)
	return HADiscoveryConfig{
		Device:           device(sw.Device),
		StateTopic:       client.SwitchStateTopic(sw.Id),
		CommandTopic:     client.SwitchCommandTopic(sw.Id),
		DeviceClass:      sw.DeviceClass,
		AvTopic:          avTopic,
		Availability:     availability,
		AvailabilityMode: mode,
		Name:             sw.Name,
		UniqueId:         sw.UniqueId,
		Icon:             sw.Icon,
		Platform:         "mqtt",
		PayloadOn:        MQTT_PAYLOAD_ON,
		PayloadOff:       MQTT_PAYLOAD_OFF,
	}
}

func GenericSelectToHADiscoveryMessage(client *MQTTClient, sel domain.GenericSelect) HADiscoveryConfig {
	availability, mode, avTopic := client.availability(sel.Device, sel.Id)
	return HADiscoveryConfig{
		Device:           device(sel.Device),
		StateTopic:       client.SelectStateTopic(sel.Id),
		CommandTopic:     client.SelectCommandTopic(sel.Id),
		AvTopic:          avTopic,
		Availability:     availability,
		AvailabilityMode: mode,
		EntityCategory:   sel.EntityCategory,
		Name:             sel.Name,
		UniqueId:         sel.UniqueId,
		Icon:             sel.Icon,
		Platform:         "mqtt",
		Options:          slices.Clone(sel.Options),
	}
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
