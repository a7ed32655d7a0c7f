package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/core/entity"
	"github.com/berfenger/devbridge2mqtt/internal/core/platform"
	"github.com/berfenger/devbridge2mqtt/internal/metrics"
	"github.com/berfenger/devbridge2mqtt/internal/util"
	"github.com/berfenger/devbridge2mqtt/internal/util/actorutil"
	"github.com/berfenger/devbridge2mqtt/pkg/relayboard"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventCollector struct {
	mu     sync.Mutex
	events []any
}

func collectEvents(es *eventstream.EventStream) *eventCollector {
	c := &eventCollector{}
	es.Subscribe(func(evt any) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, evt)
	})
	return c
}

func (c *eventCollector) availability(deviceId string) []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []bool
	for _, e := range c.events {
		if ev, ok := e.(domain.DeviceAvailabilityEvent); ok && ev.DeviceId == deviceId {
			out = append(out, ev.Available)
		}
	}
	return out
}

func (c *eventCollector) ready() []domain.DeviceReadyEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.DeviceReadyEvent
	for _, e := range c.events {
		if ev, ok := e.(domain.DeviceReadyEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (c *eventCollector) lastSwitch(id string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if ev, ok := c.events[i].(domain.SwitchSensorUpdateEvent); ok && ev.Id == id {
			return ev.Value, true
		}
	}
	return false, false
}

func spawnCoordinator(t *testing.T, setup platform.DeviceSetup) (*actor.RootContext, *actor.PID, *eventCollector) {
	cfg := util.LoadTestConfig()
	logger := zap.NewNop()
	as := actorutil.NewActorSystemWithZapLogger(logger)
	t.Cleanup(as.Shutdown)

	es := &eventstream.EventStream{}
	events := collectEvents(es)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewCoordinatorActor(&cfg, setup, es, metrics.NewMetrics(), logger)
	}))
	return as.Root, pid, events
}

func health(t *testing.T, root *actor.RootContext, pid *actor.PID) domain.ActorHealthResponse {
	res, err := root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	return resp
}

func TestCoordinatorActorBecomesReady(t *testing.T) {

	board := relayboard.CreateTestRelayBoardReader(2)
	setup := platform.NewRelayBoardSetup(board, "test:502/1", time.Hour)
	root, pid, events := spawnCoordinator(t, setup)

	assert.Eventually(t, func() bool { return health(t, root, pid).Healthy }, 2*time.Second, 20*time.Millisecond)

	ready := events.ready()
	require.Len(t, ready, 1)
	assert.Equal(t, setup.DeviceID(), ready[0].DeviceId)
	assert.Len(t, ready[0].Components.Switches, 2)
	assert.Equal(t, []bool{true}, events.availability(setup.DeviceID()))

	res, err := root.RequestFuture(pid, domain.ListEntitiesRequest{}, time.Second).Result()
	require.NoError(t, err)
	list := res.(domain.ListEntitiesResponse)
	require.Len(t, list.Entities, 2)
	assert.Equal(t, entity.PayloadOff, list.Entities[0].State)
}

func TestCoordinatorActorRetriesFirstRefresh(t *testing.T) {

	board := relayboard.CreateTestRelayBoardReader(1)
	board.SetError(errors.New("connection refused"))
	setup := platform.NewRelayBoardSetup(board, "test:502/1", time.Hour)
	root, pid, events := spawnCoordinator(t, setup)

	resp := health(t, root, pid)
	assert.False(t, resp.Healthy)
	assert.Equal(t, COORDINATOR_STATE_STARTING, resp.State)

	res, err := root.RequestFuture(pid, domain.EntityCommandRequest{EntityId: "x", Payload: "on"}, time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(t, res.(domain.EntityCommandResponse).GetResponseError(), domain.ErrDeviceNotReady)

	// backoff retry picks up the recovered board
	board.SetError(nil)
	assert.Eventually(t, func() bool { return health(t, root, pid).Healthy }, 3*time.Second, 50*time.Millisecond)
	assert.Len(t, events.ready(), 1)
}

func TestCoordinatorActorCommand(t *testing.T) {

	board := relayboard.CreateTestRelayBoardReader(2)
	setup := platform.NewRelayBoardSetup(board, "test:502/1", time.Hour)
	root, pid, events := spawnCoordinator(t, setup)
	assert.Eventually(t, func() bool { return health(t, root, pid).Healthy }, 2*time.Second, 20*time.Millisecond)

	id := setup.DeviceID() + "_coil_1"
	res, err := root.RequestFuture(pid, domain.EntityCommandRequest{CommandId: "c1", EntityId: id, Payload: "on"}, 2*time.Second).Result()
	require.NoError(t, err)
	resp := res.(domain.EntityCommandResponse)
	require.NoError(t, resp.GetResponseError())
	assert.Equal(t, "c1", resp.CommandId)
	assert.Equal(t, entity.PayloadOn, resp.Entity.State)

	coils, err := board.ReadCoils()
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, coils)

	// optimistic write is published
	assert.Eventually(t, func() bool {
		v, ok := events.lastSwitch(id)
		return ok && v
	}, time.Second, 20*time.Millisecond)

	res, err = root.RequestFuture(pid, domain.EntityCommandRequest{EntityId: id, Payload: "maybe"}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(t, res.(domain.EntityCommandResponse).GetResponseError(), entity.ErrInvalidPayload)

	res, err = root.RequestFuture(pid, domain.GetEntityRequest{EntityId: "unknown"}, time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(t, res.(domain.GetEntityResponse).GetResponseError(), domain.ErrEntityNotFound)
}

func TestCoordinatorActorCommandFailure(t *testing.T) {

	board := relayboard.CreateTestRelayBoardReader(1)
	setup := platform.NewRelayBoardSetup(board, "test:502/1", time.Hour)
	root, pid, _ := spawnCoordinator(t, setup)
	assert.Eventually(t, func() bool { return health(t, root, pid).Healthy }, 2*time.Second, 20*time.Millisecond)

	board.SetError(errors.New("illegal data address"))
	res, err := root.RequestFuture(pid, domain.EntityCommandRequest{EntityId: setup.DeviceID() + "_coil_0", Payload: "on"}, 2*time.Second).Result()
	require.NoError(t, err)
	resp := res.(domain.EntityCommandResponse)
	assert.ErrorIs(t, resp.GetResponseError(), entity.ErrCommandFailed)
	assert.Equal(t, entity.PayloadOff, resp.Entity.State)
}

func TestCoordinatorActorDropsExpiredCommand(t *testing.T) {

	board := relayboard.CreateTestRelayBoardReader(1)
	setup := platform.NewRelayBoardSetup(board, "test:502/1", time.Hour)
	root, pid, events := spawnCoordinator(t, setup)
	assert.Eventually(t, func() bool { return health(t, root, pid).Healthy }, 2*time.Second, 20*time.Millisecond)

	// the command waits behind a slow refresh until its caller has given up
	board.SetReadDelay(time.Second)
	root.Send(pid, refreshTick{})

	id := setup.DeviceID() + "_coil_0"
	res, err := root.RequestFuture(pid, domain.EntityCommandRequest{
		CommandId: "late",
		EntityId:  id,
		Payload:   "on",
		Deadline:  time.Now().Add(200 * time.Millisecond),
	}, 3*time.Second).Result()
	require.NoError(t, err)
	resp := res.(domain.EntityCommandResponse)
	assert.ErrorIs(t, resp.GetResponseError(), context.DeadlineExceeded)
	assert.Equal(t, entity.PayloadOff, resp.Entity.State)

	board.SetReadDelay(0)
	coils, err := board.ReadCoils()
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, coils)
	v, ok := events.lastSwitch(id)
	assert.True(t, ok)
	assert.False(t, v)

	// a command within its deadline still runs
	res, err = root.RequestFuture(pid, domain.EntityCommandRequest{
		EntityId: id,
		Payload:  "on",
		Deadline: time.Now().Add(2 * time.Second),
	}, 3*time.Second).Result()
	require.NoError(t, err)
	require.NoError(t, res.(domain.EntityCommandResponse).GetResponseError())
	coils, err = board.ReadCoils()
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, coils)
}
