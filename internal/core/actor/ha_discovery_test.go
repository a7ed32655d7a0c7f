package actor

import (
	"testing"
	"time"

	adactor "github.com/berfenger/devbridge2mqtt/internal/adapter/actor"
	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/util"
	"github.com/berfenger/devbridge2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHADiscoveryActorCatchesUpReadyDevices(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.MQTT.HADiscoveryRepublishCron = ""
	logger := zap.NewNop()

	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	context := as.Root

	device := domain.Device{Id: "tessie_1", Name: "Frosty", Manufacturer: "Tesla"}
	ready := domain.DeviceReadyEvent{
		DeviceId: device.Id,
		Components: domain.DiscoveryComponents{
			Sensors:  []domain.GenericSensor{{Device: device, Id: "tessie_1_battery_level", SensorType: domain.SENSOR_TYPE_SENSOR}},
			Switches: []domain.GenericSwitch{{Device: domain.IdDevice(device), Id: "tessie_1_sentry_mode"}},
		},
	}

	recorder := &adactor.TestPublishRecorder{}
	discovery := make(chan *actor.PID, 1)
	readyRequests := make(chan struct{}, 4)
	context.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		switch ctx.Message().(type) {
		case *actor.Started:
			mqttPID := ctx.Spawn(actor.PropsFromProducer(func() actor.Actor {
				return adactor.NewTestMQTTActor(&cfg, &eventstream.EventStream{}, recorder, logger)
			}))
			discovery <- ctx.Spawn(actor.PropsFromProducer(func() actor.Actor {
				return NewHADiscoveryActor(&cfg, mqttPID, logger)
			}))
		case domain.ReadyDevicesRequest:
			readyRequests <- struct{}{}
			// the device became ready before the discovery actor existed
			ctx.Respond(domain.ReadyDevicesResponse{Devices: []domain.DeviceReadyEvent{ready}})
		}
	}))

	pid := <-discovery

	select {
	case <-readyRequests:
	case <-time.After(2 * time.Second):
		t.Fatal("discovery actor did not ask for ready devices")
	}

	assert.Eventually(t, func() bool {
		// bridge sensor plus two device components
		return recorder.CountPrefix("homeassistant/") == 3
	}, 2*time.Second, 20*time.Millisecond)

	msg, ok := recorder.Last("homeassistant/switch/tessie_1/tessie_1_sentry_mode/config")
	require.True(t, ok)
	assert.True(t, msg.Retain)
	msg, ok = recorder.Last("homeassistant/sensor/tessie_1/tessie_1_battery_level/config")
	require.True(t, ok)
	assert.Contains(t, msg.Payload, `"via_device":"`+domain.BridgeDevice(cfg.MQTT.BaseTopic).Id+`"`)

	assert.Eventually(t, func() bool {
		res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
		if err != nil {
			return false
		}
		return res.(domain.ActorHealthResponse).State == "devices=1 last_published=2"
	}, 2*time.Second, 20*time.Millisecond)

	// a later ready event for a known device updates it in place
	context.Send(pid, ready)
	assert.Eventually(t, func() bool {
		return recorder.CountPrefix("homeassistant/") == 5
	}, 2*time.Second, 20*time.Millisecond)
	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.Contains(t, res.(domain.ActorHealthResponse).State, "devices=1 ")
}
