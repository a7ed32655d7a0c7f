package tessie

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testServer(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := CreateClient(srv.URL, "secret", 2*time.Second, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestFlatten(t *testing.T) {

	assert := assert.New(t)

	state := Flatten(map[string]any{
		"display_name": "Frosty",
		"climate_state": map[string]any{
			"seat_heater_left":            float64(2),
			"seat_heater_third_row_right": nil,
		},
		"charge_state": map[string]any{
			"user_charge_enable_request": true,
		},
	})

	assert.Equal("Frosty", state["display_name"])
	assert.Equal(float64(2), state["climate_state_seat_heater_left"])
	assert.Equal(true, state["charge_state_user_charge_enable_request"])
	_, ok := state["climate_state_seat_heater_third_row_right"]
	assert.False(ok, "null fields are absent")
}

func TestGetState(t *testing.T) {

	client := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/VIN1/state", r.URL.Path)
		w.Write([]byte(`{"vehicle_state":{"sentry_mode":true},"climate_state":{"defrost_mode":0}}`))
	})

	state, err := client.GetState(context.Background(), "VIN1")
	require.NoError(t, err)
	assert.Equal(t, true, state["vehicle_state_sentry_mode"])
	assert.Equal(t, float64(0), state["climate_state_defrost_mode"])
}

func TestListVehicles(t *testing.T) {

	client := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vehicles", r.URL.Path)
		w.Write([]byte(`{"results":[{"vin":"VIN1","last_state":{"display_name":"Frosty"}},{"vin":"VIN2","last_state":{}}]}`))
	})

	vehicles, err := client.ListVehicles(context.Background())
	require.NoError(t, err)
	require.Len(t, vehicles, 2)
	assert.Equal(t, Vehicle{VIN: "VIN1", DisplayName: "Frosty"}, vehicles[0])
	assert.Equal(t, "VIN2", vehicles[1].VIN)
}

func TestSetSeatHeat(t *testing.T) {

	client := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/VIN1/command/set_seat_heat", r.URL.Path)
		assert.Equal(t, "rear_center", r.URL.Query().Get("seat"))
		assert.Equal(t, "2", r.URL.Query().Get("level"))
		assert.Equal(t, "true", r.URL.Query().Get("wait_for_completion"))
		w.Write([]byte(`{"result":true}`))
	})

	err := client.SetSeatHeat(context.Background(), "VIN1", SeatRearCenter, 2)
	assert.NoError(t, err)

	err = client.SetSeatHeat(context.Background(), "VIN1", SeatRearCenter, 4)
	assert.Error(t, err, "level out of range")
}

func TestCommandRejected(t *testing.T) {

	client := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":false}`))
	})

	err := client.Command(context.Background(), "VIN1", CommandStartDefrost)
	assert.True(t, errors.Is(err, ErrCommandRejected))
}

func TestCommandHTTPError(t *testing.T) {

	client := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "asleep", http.StatusRequestTimeout)
	})

	err := client.Command(context.Background(), "VIN1", CommandStopCharging)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "408")
}

func TestCreateClientRequiresToken(t *testing.T) {
	_, err := CreateClient("", " ", time.Second, zap.NewNop())
	assert.Error(t, err)
}
