package tessie

import "context"

// Seat identifies a seat heater zone as accepted by set_seat_heat.
type Seat string

const (
	SeatFrontLeft     Seat = "front_left"
	SeatFrontRight    Seat = "front_right"
	SeatRearLeft      Seat = "rear_left"
	SeatRearCenter    Seat = "rear_center"
	SeatRearRight     Seat = "rear_right"
	SeatThirdRowLeft  Seat = "third_row_left"
	SeatThirdRowRight Seat = "third_row_right"
)

// Command is a parameterless vehicle command.
type Command string

const (
	CommandStartDefrost             Command = "start_defrost"
	CommandStopDefrost              Command = "stop_defrost"
	CommandEnableSentryMode         Command = "enable_sentry"
	CommandDisableSentryMode        Command = "disable_sentry"
	CommandEnableValetMode          Command = "enable_valet"
	CommandDisableValetMode         Command = "disable_valet"
	CommandStartSteeringWheelHeater Command = "start_steering_wheel_heater"
	CommandStopSteeringWheelHeater  Command = "stop_steering_wheel_heater"
	CommandStartCharging            Command = "start_charging"
	CommandStopCharging             Command = "stop_charging"
	commandSetSeatHeat              Command = "set_seat_heat"
)

const (
	SeatHeaterLevelOff  = 0
	SeatHeaterLevelHigh = 3
)

type Vehicle struct {
	VIN         string
	DisplayName string
}

// State is a vehicle state flattened into "<section>_<field>" keys,
// e.g. "climate_state_seat_heater_left".
type State map[string]any

type VehicleClient interface {
	ListVehicles(ctx context.Context) ([]Vehicle, error)
	GetState(ctx context.Context, vin string) (State, error)
	Command(ctx context.Context, vin string, cmd Command) error
	SetSeatHeat(ctx context.Context, vin string, seat Seat, level int) error
}
