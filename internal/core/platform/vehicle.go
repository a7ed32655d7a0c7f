package platform

import (
	"context"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/core/coordinator"
	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/core/entity"
	"github.com/berfenger/devbridge2mqtt/pkg/tessie"
)

const (
	KeyDefrostMode             coordinator.FieldKey = "climate_state_defrost_mode"
	KeySentryMode              coordinator.FieldKey = "vehicle_state_sentry_mode"
	KeyValetMode               coordinator.FieldKey = "vehicle_state_valet_mode"
	KeySteeringWheelHeater     coordinator.FieldKey = "climate_state_steering_wheel_heater"
	KeyChargeEnableRequest     coordinator.FieldKey = "charge_state_charge_enable_request"
	KeyUserChargeEnableRequest coordinator.FieldKey = "charge_state_user_charge_enable_request"
	KeyBatteryLevel            coordinator.FieldKey = "charge_state_battery_level"
	KeyChargingState           coordinator.FieldKey = "charge_state_charging_state"
	KeyDisplayName             coordinator.FieldKey = "display_name"
	KeyCarType                 coordinator.FieldKey = "vehicle_config_car_type"
	KeyCarVersion              coordinator.FieldKey = "vehicle_state_car_version"
	KeySeatHeaterLeft          coordinator.FieldKey = "climate_state_seat_heater_left"
	KeySeatHeaterRight         coordinator.FieldKey = "climate_state_seat_heater_right"
	KeySeatHeaterRearLeft      coordinator.FieldKey = "climate_state_seat_heater_rear_left"
	KeySeatHeaterRearCenter    coordinator.FieldKey = "climate_state_seat_heater_rear_center"
	KeySeatHeaterRearRight     coordinator.FieldKey = "climate_state_seat_heater_rear_right"
	KeySeatHeaterThirdRowLeft  coordinator.FieldKey = "climate_state_seat_heater_third_row_left"
	KeySeatHeaterThirdRowRight coordinator.FieldKey = "climate_state_seat_heater_third_row_right"
)

// SeatHeaterOptions is ordered by heater level.
var SeatHeaterOptions = []string{"off", "low", "medium", "high"}

type vehicleSwitch struct {
	key  coordinator.FieldKey
	id   string
	name string
	icon string
	on   tessie.Command
	off  tessie.Command
}

var vehicleSwitches = []vehicleSwitch{
	{KeyDefrostMode, "defrost_mode", "Defrost mode", "mdi:car-defrost-front", tessie.CommandStartDefrost, tessie.CommandStopDefrost},
	{KeySentryMode, "sentry_mode", "Sentry mode", "mdi:shield-car", tessie.CommandEnableSentryMode, tessie.CommandDisableSentryMode},
	{KeyValetMode, "valet_mode", "Valet mode", "mdi:account-tie-hat", tessie.CommandEnableValetMode, tessie.CommandDisableValetMode},
	{KeySteeringWheelHeater, "steering_wheel_heater", "Steering wheel heater", "mdi:steering", tessie.CommandStartSteeringWheelHeater, tessie.CommandStopSteeringWheelHeater},
}

var chargeSwitch = vehicleSwitch{KeyChargeEnableRequest, "charge", "Charge", "mdi:ev-station", tessie.CommandStartCharging, tessie.CommandStopCharging}

type seatHeater struct {
	key  coordinator.FieldKey
	seat tessie.Seat
	name string
}

// not every vehicle has a rear center seat or a third row
var seatHeaters = []seatHeater{
	{KeySeatHeaterLeft, tessie.SeatFrontLeft, "Seat heater left"},
	{KeySeatHeaterRight, tessie.SeatFrontRight, "Seat heater right"},
	{KeySeatHeaterRearLeft, tessie.SeatRearLeft, "Seat heater rear left"},
	{KeySeatHeaterRearCenter, tessie.SeatRearCenter, "Seat heater rear center"},
	{KeySeatHeaterRearRight, tessie.SeatRearRight, "Seat heater rear right"},
	{KeySeatHeaterThirdRowLeft, tessie.SeatThirdRowLeft, "Seat heater third row left"},
	{KeySeatHeaterThirdRowRight, tessie.SeatThirdRowRight, "Seat heater third row right"},
}

type VehicleSetup struct {
	client       tessie.VehicleClient
	vehicle      tessie.Vehicle
	deviceId     string
	pollInterval time.Duration
}

func NewVehicleSetup(client tessie.VehicleClient, vehicle tessie.Vehicle, pollInterval time.Duration) *VehicleSetup {
	return &VehicleSetup{
		client:       client,
		vehicle:      vehicle,
		deviceId:     domain.DeviceId("tessie", vehicle.VIN),
		pollInterval: pollInterval,
	}
}

func (v *VehicleSetup) DeviceID() string {
	return v.deviceId
}

func (v *VehicleSetup) PollInterval() time.Duration {
	return v.pollInterval
}

func (v *VehicleSetup) Close() error {
	return nil
}

func (v *VehicleSetup) Fetch(ctx context.Context) (coordinator.Snapshot, error) {
	state, err := v.client.GetState(ctx, v.vehicle.VIN)
	if err != nil {
		return nil, err
	}
	snapshot := make(coordinator.Snapshot, len(state))
	for k, value := range state {
		snapshot[coordinator.FieldKey(k)] = value
	}
	return snapshot, nil
}

func (v *VehicleSetup) DeviceInfo(snapshot coordinator.Snapshot) domain.Device {
	device := domain.Device{
		Id:           v.deviceId,
		Name:         v.vehicle.DisplayName,
		Manufacturer: "Tesla",
	}
	if name, ok := snapshot[KeyDisplayName].(string); ok && name != "" {
		device.Name = name
	}
	if model, ok := snapshot[KeyCarType].(string); ok {
		device.Model = model
	}
	if version, ok := snapshot[KeyCarVersion].(string); ok {
		device.Version = version
	}
	return device
}

func (v *VehicleSetup) Entities(source entity.Source, device domain.Device) []entity.Entity {
	var entities []entity.Entity

	for _, sw := range vehicleSwitches {
		if !source.Has(sw.key) {
			continue
		}
		entities = append(entities, entity.NewSwitch(source, v.switchDescription(sw, device), v.command(sw.on), v.command(sw.off)))
	}

	if source.Has(chargeSwitch.key) {
		entities = append(entities, entity.NewCompositeSwitch(source, v.switchDescription(chargeSwitch, device),
			KeyUserChargeEnableRequest, v.command(chargeSwitch.on), v.command(chargeSwitch.off)))
	}

	for _, sh := range seatHeaters {
		if !source.Has(sh.key) {
			continue
		}
		entities = append(entities, entity.NewSelect(source, entity.Description{
			Id:     entityId(v.deviceId, "seat_heater_"+string(sh.seat)),
			Name:   sh.name,
			Key:    sh.key,
			Device: device,
			Icon:   "mdi:car-seat-heater",
		}, SeatHeaterOptions, v.seatHeat(sh.seat)))
	}

	if source.Has(KeyBatteryLevel) {
		entities = append(entities, entity.NewSensor(source, entity.Description{
			Id:                entityId(v.deviceId, "battery_level"),
			Name:              "Battery level",
			Key:               KeyBatteryLevel,
			Device:            device,
			DeviceClass:       domain.DEVICE_CLASS_BATTERY,
			StateClass:        domain.STATE_CLASS_MEASUREMENT,
			UnitOfMeasurement: "%",
		}))
	}
	if source.Has(KeyChargingState) {
		entities = append(entities, entity.NewSensor(source, entity.Description{
			Id:     entityId(v.deviceId, "charging_state"),
			Name:   "Charging state",
			Key:    KeyChargingState,
			Device: device,
			Icon:   "mdi:ev-plug-type2",
		}))
	}

	return entities
}

func (v *VehicleSetup) switchDescription(sw vehicleSwitch, device domain.Device) entity.Description {
	return entity.Description{
		Id:          entityId(v.deviceId, sw.id),
		Name:        sw.name,
		Key:         sw.key,
		Device:      device,
		DeviceClass: domain.DEVICE_CLASS_SWITCH,
		Icon:        sw.icon,
	}
}

func (v *VehicleSetup) command(cmd tessie.Command) entity.CommandFunc {
	return func(ctx context.Context) error {
		return v.client.Command(ctx, v.vehicle.VIN, cmd)
	}
}

func (v *VehicleSetup) seatHeat(seat tessie.Seat) entity.OptionFunc {
	return func(ctx context.Context, level int) error {
		return v.client.SetSeatHeat(ctx, v.vehicle.VIN, seat, level)
	}
}

// ensure interface compliance
var _ DeviceSetup = (*VehicleSetup)(nil)
