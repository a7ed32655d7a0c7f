package actor

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	adactor "github.com/berfenger/devbridge2mqtt/internal/adapter/actor"
	"github.com/berfenger/devbridge2mqtt/internal/config"
	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/core/platform"
	"github.com/berfenger/devbridge2mqtt/internal/metrics"
	. "github.com/berfenger/devbridge2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type HistoryActorProvider func(*eventstream.EventStream) *adactor.HistoryActor

type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck   healthCheckResult
	eventStream          *eventstream.EventStream
	eventStreamSub       *eventstream.Subscription
	metrics              *metrics.Metrics
	setups               []platform.DeviceSetup
	mqttActor            *actor.PID
	haDiscoveryActor     *actor.PID
	historyActor         *actor.PID
	coordinators         map[string]*actor.PID
	entityOwners         map[string]string
	readyDevices         []domain.DeviceReadyEvent
	mqttActorProvider    MQTTActorProvider
	historyActorProvider HistoryActorProvider
	logger               *zap.Logger
}

type healthCheckResult struct {
	mqttActorHealthy bool
	devicesReady     int
	checksReceived   int
	checksExpected   int
	respondTo        *actor.PID
}

type deviceReady struct {
	event domain.DeviceReadyEvent
}

// NewMasterOfPuppetsActor creates the root of the bridge. historyActorProvider may be nil.
func NewMasterOfPuppetsActor(config config.Config, setups []platform.DeviceSetup, eventStream *eventstream.EventStream,
	mqttActorProvider MQTTActorProvider, historyActorProvider HistoryActorProvider, metrics *metrics.Metrics, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:               config,
		behavior:             actor.NewBehavior(),
		stash:                &Stash{},
		logger:               ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:          eventStream,
		metrics:              metrics,
		setups:               setups,
		coordinators:         map[string]*actor.PID{},
		entityOwners:         map[string]string{},
		mqttActorProvider:    mqttActorProvider,
		historyActorProvider: historyActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset(0)

		// entity routing is learnt from ready devices
		self := ctx.Self()
		root := ctx.ActorSystem().Root
		state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
			if ev, ok := value.(domain.DeviceReadyEvent); ok {
				root.Send(self, deviceReady{event: ev})
			}
		})

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start History child
		if state.historyActorProvider != nil {
			historyActorPID, err := state.startHistoryActor(ctx)
			if err != nil {
				panic(err)
			}
			state.historyActor = historyActorPID
		}

		// devices start once MQTT is up so their first states are not lost
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 15*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
	case domain.ActorHealthResponse:
		if msg.Id != domain.ACTOR_ID_MQTT {
			return
		}
		if !msg.Healthy {
			state.logger.Error("master@starting mqtt not healthy")
			panic(errors.New("mqtt not healthy"))
		}

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			haDiscPID, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
			state.haDiscoveryActor = haDiscPID
		}

		// start one coordinator per device
		for _, setup := range state.setups {
			pid, err := state.startCoordinatorActor(ctx, setup)
			if err != nil {
				panic(err)
			}
			state.coordinators[setup.DeviceID()] = pid
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset(1 + len(state.coordinators))
		state.currentHealthCheck.respondTo = ctx.Sender()
		// MQTT Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		// Coordinator Actor Requests
		for deviceId, pid := range state.coordinators {
			name := CoordinatorActorName(deviceId)
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      name,
					Healthy: false,
					State:   "timeout",
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		// redirect parsedCommand to the owner of the entity
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd := ParsedMQTTCommandToCommand(*msg.Command)
			if pid, ok := state.owner(cmd.EntityId); ok {
				ctx.Send(pid, cmd)
			} else {
				state.logger.Warn("master@default command for unknown entity", zap.String("entity", cmd.EntityId))
			}
		}
	case domain.EntityCommandRequest:
		if pid, ok := state.owner(msg.EntityId); ok {
			ctx.Forward(pid)
			return
		}
		ForRequest(msg).Respond(ctx, domain.EntityCommandResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: domain.ErrEntityNotFound},
			CommandId:          msg.CommandId,
		})
	case domain.GetEntityRequest:
		if pid, ok := state.owner(msg.EntityId); ok {
			ctx.Forward(pid)
			return
		}
		ForRequest(msg).Respond(ctx, domain.GetEntityResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: domain.ErrEntityNotFound},
		})
	case domain.ListEntitiesRequest:
		state.listEntities(ctx, ForRequest(msg).ReplyTo(ctx))
	case deviceReady:
		state.onDeviceReady(ctx, msg.event)
	case domain.ReadyDevicesRequest:
		// a (re)started discovery actor catches up from here
		ForRequest(msg).Respond(ctx, domain.ReadyDevicesResponse{Devices: slices.Clone(state.readyDevices)})
	case *actor.Terminated:
		// if MQTT stops, terminate
		if msg.Who.Equal(state.mqttActor) {
			state.logger.Error("master@default mqtt terminated")
			panic(errors.New("mqtt terminated"))
		}
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("master@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.CancelReceiveTimeout()
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Id == domain.ACTOR_ID_MQTT {
			state.currentHealthCheck.mqttActorHealthy = msg.Healthy
		} else if msg.Healthy {
			state.currentHealthCheck.devicesReady++
		}
		if state.currentHealthCheck.allReceived() {
			ctx.CancelReceiveTimeout()
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	case deviceReady:
		state.onDeviceReady(ctx, msg.event)
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) onDeviceReady(ctx actor.Context, ev domain.DeviceReadyEvent) {
	for _, id := range componentIds(ev.Components) {
		state.entityOwners[id] = ev.DeviceId
	}
	idx := slices.IndexFunc(state.readyDevices, func(d domain.DeviceReadyEvent) bool { return d.DeviceId == ev.DeviceId })
	if idx >= 0 {
		state.readyDevices[idx] = ev
	} else {
		state.readyDevices = append(state.readyDevices, ev)
	}
	state.logger.Info("master@default device ready", zap.String("device", ev.DeviceId), zap.Int("entities", ev.Components.Len()))
	if state.haDiscoveryActor != nil {
		ctx.Send(state.haDiscoveryActor, ev)
	}
}

func (state *MasterOfPuppetsActor) owner(entityId string) (*actor.PID, bool) {
	deviceId, ok := state.entityOwners[entityId]
	if !ok {
		return nil, false
	}
	pid, ok := state.coordinators[deviceId]
	return pid, ok
}

// listEntities gathers the entities of every coordinator. Coordinators that do not answer
// in time are left out.
func (state *MasterOfPuppetsActor) listEntities(ctx actor.Context, replyTo *actor.PID) {
	if len(state.coordinators) == 0 {
		SendResponse(ctx, replyTo, domain.ListEntitiesResponse{Entities: []domain.EntityState{}})
		return
	}
	pending := len(state.coordinators)
	all := []domain.EntityState{}
	for _, pid := range state.coordinators {
		ctx.ReenterAfter(ctx.RequestFuture(pid, domain.ListEntitiesRequest{}, 2*time.Second), func(res any, err error) {
			pending--
			if resp, ok := res.(domain.ListEntitiesResponse); ok && err == nil {
				all = append(all, resp.Entities...)
			}
			if pending == 0 {
				slices.SortFunc(all, func(a, b domain.EntityState) int {
					return strings.Compare(a.Id, b.Id)
				})
				SendResponse(ctx, replyTo, domain.ListEntitiesResponse{Entities: all})
			}
		})
	}
}

func (state *MasterOfPuppetsActor) startCoordinatorActor(ctx actor.Context, setup platform.DeviceSetup) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	coordinatorProps := actor.PropsFromProducer(func() actor.Actor {
		return NewCoordinatorActor(&state.config, setup, state.eventStream, state.metrics, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(coordinatorProps, CoordinatorActorName(setup.DeviceID()))
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *MasterOfPuppetsActor) startHistoryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(3, 10*time.Second, decider)

	historyProps := actor.PropsFromProducer(func() actor.Actor {
		return state.historyActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(historyProps, domain.ACTOR_ID_HISTORY)
}

func (state *MasterOfPuppetsActor) stop() {
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
}

func componentIds(c domain.DiscoveryComponents) []string {
	ids := make([]string, 0, c.Len())
	for _, s := range c.Sensors {
		ids = append(ids, s.Id)
	}
	for _, s := range c.Switches {
		ids = append(ids, s.Id)
	}
	for _, s := range c.Selects {
		ids = append(ids, s.Id)
	}
	return ids
}

func (state *healthCheckResult) reset(expected int) {
	state.mqttActorHealthy = false
	state.devicesReady = 0
	state.checksReceived = 0
	state.checksExpected = expected
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived >= state.checksExpected
}

// allHealthy requires a connected MQTT actor. Devices still starting do not make the bridge unhealthy.
func (state *healthCheckResult) allHealthy() bool {
	return state.mqttActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
		State:   fmt.Sprintf("devices ready %d/%d", state.devicesReady, state.checksExpected-1),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
