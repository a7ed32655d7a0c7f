package tessie

import (
	"context"
	"errors"
	"sync"
)

// TestVehicleClient is an in-memory vehicle API used by tests and dry runs.
type TestVehicleClient struct {
	mu       sync.Mutex
	vehicles []Vehicle
	states   map[string]State
	calls    []TestCall

	failState   error
	failCommand error
}

type TestCall struct {
	VIN     string
	Command Command
	Seat    Seat
	Level   int
}

func CreateTestVehicleClient() *TestVehicleClient {
	return &TestVehicleClient{
		vehicles: []Vehicle{{VIN: "LRW3F7EK4NC000001", DisplayName: "Frosty"}},
		states: map[string]State{
			"LRW3F7EK4NC000001": TestVehicleState(),
		},
	}
}

// TestVehicleState returns a flattened state of a five seat vehicle.
func TestVehicleState() State {
	return State{
		"display_name":                            "Frosty",
		"vehicle_config_car_type":                 "model3",
		"climate_state_defrost_mode":              float64(0),
		"climate_state_steering_wheel_heater":     false,
		"climate_state_seat_heater_left":          float64(0),
		"climate_state_seat_heater_right":         float64(1),
		"climate_state_seat_heater_rear_left":     float64(0),
		"climate_state_seat_heater_rear_center":   float64(0),
		"climate_state_seat_heater_rear_right":    float64(3),
		"vehicle_state_sentry_mode":               true,
		"vehicle_state_valet_mode":                false,
		"charge_state_charge_enable_request":      false,
		"charge_state_battery_level":              float64(76),
		"charge_state_charging_state":             "Disconnected",
		"vehicle_state_software_update_version":   "",
		"vehicle_state_car_version":               "2024.26.7",
		"charge_state_user_charge_enable_request": nil,
	}
}

func (c *TestVehicleClient) SetVehicle(vehicle Vehicle, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vehicles = append(c.vehicles, vehicle)
	c.states[vehicle.VIN] = state
}

func (c *TestVehicleClient) SetField(vin string, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == nil {
		delete(c.states[vin], key)
		return
	}
	c.states[vin][key] = value
}

// FailNext makes state reads and commands fail with the given errors until reset with nil.
func (c *TestVehicleClient) FailNext(stateErr error, commandErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failState = stateErr
	c.failCommand = commandErr
}

func (c *TestVehicleClient) Calls() []TestCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TestCall(nil), c.calls...)
}

func (c *TestVehicleClient) ListVehicles(_ context.Context) ([]Vehicle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Vehicle(nil), c.vehicles...), nil
}

func (c *TestVehicleClient) GetState(ctx context.Context, vin string) (State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failState != nil {
		return nil, c.failState
	}
	state, ok := c.states[vin]
	if !ok {
		return nil, errors.New("vehicle not found")
	}
	out := State{}
	for k, v := range state {
		if v != nil {
			out[k] = v
		}
	}
	return out, nil
}

func (c *TestVehicleClient) Command(ctx context.Context, vin string, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, TestCall{VIN: vin, Command: cmd})
	return c.failCommand
}

func (c *TestVehicleClient) SetSeatHeat(ctx context.Context, vin string, seat Seat, level int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, TestCall{VIN: vin, Command: commandSetSeatHeat, Seat: seat, Level: level})
	return c.failCommand
}

// ensure interface compliance
var _ VehicleClient = (*TestVehicleClient)(nil)
