package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE     = "bridge"
	STATE_CLASS_MEASUREMENT    = "measurement"
	STATE_CLASS_TOTAL          = "total"
	DEVICE_CLASS_BATTERY       = "battery"
	DEVICE_CLASS_CONNECTIVITY  = "connectivity"
	DEVICE_CLASS_DURATION      = "duration"
	DEVICE_CLASS_SWITCH        = "switch"
	ENTITY_CATEGORY_DIAGNOSTIC = "diagnostic"
	ENTITY_CATEGORY_CONFIG     = "config"
	SENSOR_TYPE_SENSOR         = "sensor"
	SENSOR_TYPE_BINARY         = "binary_sensor"
)

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string // sensor, binary_sensor
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string
	DeviceClass       string
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
}

type GenericSwitch struct {
	Device      Device
	Id          string
	Name        string
	UniqueId    string
	DeviceClass string
	Icon        string
}

type GenericSelect struct {
	Device         Device
	Id             string
	Name           string
	UniqueId       string
	EntityCategory string
	Icon           string
	Options        []string
}

// DiscoveryComponents groups everything announced for one or more devices.
type DiscoveryComponents struct {
	Sensors  []GenericSensor
	Switches []GenericSwitch
	Selects  []GenericSelect
}

func (c *DiscoveryComponents) Append(other DiscoveryComponents) {
	c.Sensors = append(c.Sensors, other.Sensors...)
	c.Switches = append(c.Switches, other.Switches...)
	c.Selects = append(c.Selects, other.Selects...)
}

func (c DiscoveryComponents) Len() int {
	return len(c.Sensors) + len(c.Switches) + len(c.Selects)
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("devbridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "DevBridge",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("DevBridge %s", md5HashShort(baseTopic)),
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CATEGORY_DIAGNOSTIC,
		UniqueId:       UniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

// IdDevice strips a device down to what HA needs to link further entities to it.
func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func UniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

// DeviceId builds a stable, topic safe device id from a prefix and a vendor identifier.
func DeviceId(prefix, identifier string) string {
	return fmt.Sprintf("%s_%s", prefix, md5HashShort(identifier))
}

func md5HashShort(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])[0:8]
}
