package actor

import (
	"testing"
	"time"

	adactor "github.com/berfenger/devbridge2mqtt/internal/adapter/actor"
	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/core/entity"
	"github.com/berfenger/devbridge2mqtt/internal/core/platform"
	"github.com/berfenger/devbridge2mqtt/internal/metrics"
	"github.com/berfenger/devbridge2mqtt/internal/mqtt"
	"github.com/berfenger/devbridge2mqtt/internal/util"
	"github.com/berfenger/devbridge2mqtt/internal/util/actorutil"
	"github.com/berfenger/devbridge2mqtt/pkg/igd"
	"github.com/berfenger/devbridge2mqtt/pkg/tessie"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testVIN = "LRW3F7EK4NC000001"

func TestMasterActor(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.MQTT.HADiscoveryEnable = true
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	context := as.Root

	vehicles := tessie.CreateTestVehicleClient()
	vehicleSetup := platform.NewVehicleSetup(vehicles, tessie.Vehicle{VIN: testVIN, DisplayName: "Frosty"}, time.Minute)
	gatewaySetup := platform.NewGatewaySetup(igd.CreateTestGatewayClient(), cfg.Gateway.ControlURL, time.Minute)
	setups := []platform.DeviceSetup{vehicleSetup, gatewaySetup}

	recorder := &adactor.TestPublishRecorder{}
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, setups, &eventstream.EventStream{}, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, recorder, logger)
		}, nil, metrics.NewMetrics(), logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	require.NoError(t, err)

	listEntities := func() []domain.EntityState {
		res, err := context.RequestFuture(pid, domain.ListEntitiesRequest{}, 5*time.Second).Result()
		require.NoError(t, err)
		return res.(domain.ListEntitiesResponse).Entities
	}
	// 12 vehicle entities, 3 gateway entities
	assert.Eventually(t, func() bool { return len(listEntities()) == 15 }, 5*time.Second, 50*time.Millisecond)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(t, healthResp.Healthy, "healthy is true")
	assert.Equal(t, "devices ready 2/2", healthResp.State)

	// kept for a restarted discovery actor
	res, err = context.RequestFuture(pid, domain.ReadyDevicesRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.Len(t, res.(domain.ReadyDevicesResponse).Devices, 2)

	sentry := vehicleSetup.DeviceID() + "_sentry_mode"

	// HTTP style command
	res, err = context.RequestFuture(pid, domain.EntityCommandRequest{CommandId: "1", EntityId: sentry, Payload: "off"}, 5*time.Second).Result()
	require.NoError(t, err)
	cmdResp := res.(domain.EntityCommandResponse)
	require.NoError(t, cmdResp.GetResponseError())
	assert.Equal(t, entity.PayloadOff, cmdResp.Entity.State)
	assert.Equal(t, tessie.CommandDisableSentryMode, vehicles.Calls()[0].Command)

	res, err = context.RequestFuture(pid, domain.GetEntityRequest{EntityId: sentry}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.Equal(t, entity.PayloadOff, res.(domain.GetEntityResponse).Entity.State)

	// unknown entity
	res, err = context.RequestFuture(pid, domain.EntityCommandRequest{EntityId: "nope", Payload: "on"}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(t, res.(domain.EntityCommandResponse).GetResponseError(), domain.ErrEntityNotFound)

	// invalid option never reaches the vehicle
	seat := vehicleSetup.DeviceID() + "_seat_heater_front_left"
	res, err = context.RequestFuture(pid, domain.EntityCommandRequest{EntityId: seat, Payload: "max"}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(t, res.(domain.EntityCommandResponse).GetResponseError(), entity.ErrInvalidOption)
	assert.Len(t, vehicles.Calls(), 1)

	// MQTT command
	context.Send(pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{EntityId: seat, Command: mqtt.COMMAND_SELECT, Payload: "low"}})
	assert.Eventually(t, func() bool {
		calls := vehicles.Calls()
		return len(calls) == 2 && calls[1].Seat == tessie.SeatFrontLeft && calls[1].Level == 1
	}, 2*time.Second, 20*time.Millisecond)

	// states and discovery reach MQTT
	assert.Eventually(t, func() bool {
		msg, ok := recorder.Last("devbridge/select/" + seat + "/state")
		return ok && msg.Payload == "low"
	}, 2*time.Second, 20*time.Millisecond)
	msg, ok := recorder.Last("devbridge/device/" + gatewaySetup.DeviceID() + "/availability")
	require.True(t, ok)
	assert.Equal(t, mqtt.MQTT_PAYLOAD_ONLINE, msg.Payload)
	assert.Eventually(t, func() bool {
		// bridge sensor plus 15 entities
		return recorder.CountPrefix("homeassistant/") == 16
	}, 2*time.Second, 20*time.Millisecond)

	context.Stop(pid)
}

func TestMasterActorWithoutDevices(t *testing.T) {

	cfg := util.LoadTestConfig()
	logger := zap.NewNop()
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, nil, &eventstream.EventStream{}, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, &adactor.TestPublishRecorder{}, logger)
		}, nil, metrics.NewMetrics(), logger)
	}))

	res, err := as.Root.RequestFuture(pid, domain.ListEntitiesRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.Empty(t, res.(domain.ListEntitiesResponse).Entities)

	res, err = as.Root.RequestFuture(pid, domain.GetEntityRequest{EntityId: "x"}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(t, res.(domain.GetEntityResponse).GetResponseError(), domain.ErrEntityNotFound)
}
