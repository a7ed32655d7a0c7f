package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/config"
	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testPointWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushed int
}

func (w *testPointWriter) WritePoint(point *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, point)
}

func (w *testPointWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushed++
}

func (w *testPointWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.points)
}

func TestEventToPointData(t *testing.T) {

	assert := assert.New(t)

	tags, fields, ok := EventToPointData(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "tessie_1_battery_level"},
		Value:                  80.5,
	})
	assert.True(ok)
	assert.Equal(map[string]string{"entity": "tessie_1_battery_level", "kind": "float"}, tags)
	assert.Equal(map[string]any{"value": 80.5}, fields)

	_, fields, ok = EventToPointData(domain.SelectUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "seat"},
		Value:                  "low",
	})
	assert.True(ok)
	assert.Equal(map[string]any{"option": "low"}, fields)

	tags, fields, ok = EventToPointData(domain.DeviceAvailabilityEvent{DeviceId: "igd_1", Available: false})
	assert.True(ok)
	assert.Equal("igd_1", tags["device"])
	assert.Equal(map[string]any{"available": false}, fields)

	_, _, ok = EventToPointData(domain.BridgeStateUpdateEvent{Value: true})
	assert.False(ok)
}

func TestHistoryActor(t *testing.T) {

	logger := zap.NewNop()
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	context := as.Root

	es := &eventstream.EventStream{}
	writer := &testPointWriter{}
	closed := make(chan struct{})
	cfg := config.HistoryConfig{Enable: true, Bucket: "devbridge"}

	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewHistoryActor(&cfg, es, writer, func() { close(closed) }, logger)
	}))

	// subscription is active once the actor answers
	_, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)

	es.Publish(domain.SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "tessie_1_sentry_mode"},
		Value:                  true,
	})
	es.Publish(domain.DeviceReadyEvent{DeviceId: "tessie_1"})
	es.Publish(domain.DeviceAvailabilityEvent{DeviceId: "tessie_1", Available: true})

	assert.Eventually(t, func() bool { return writer.count() == 2 }, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, context.StopFuture(pid).Wait())
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("writer not closed")
	}
	assert.Equal(t, 1, writer.flushed)
}
