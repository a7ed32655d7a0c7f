package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/config"
	"github.com/berfenger/devbridge2mqtt/internal/core/coordinator"
	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/core/entity"
	"github.com/berfenger/devbridge2mqtt/internal/core/platform"
	"github.com/berfenger/devbridge2mqtt/internal/metrics"
	"github.com/berfenger/devbridge2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	COORDINATOR_STATE_STARTING    = "starting"
	COORDINATOR_STATE_READY       = "ready"
	COORDINATOR_STATE_UNAVAILABLE = "unavailable"
)

// CoordinatorActor owns the DataCoordinator of one device. Refreshes and commands of the
// device are processed one at a time.
type CoordinatorActor struct {
	config      *config.Config
	behavior    actor.Behavior
	stash       *actorutil.Stash
	scheduler   *scheduler.TimerScheduler
	cancelTick  scheduler.CancelFunc
	eventStream *eventstream.EventStream
	metrics     *metrics.Metrics

	setup       platform.DeviceSetup
	coordinator *coordinator.DataCoordinator
	backoff     coordinator.Backoff
	failures    int
	ready       bool
	available   bool
	device      domain.Device
	entities    []entity.Entity
	unsubscribe func()

	logger *zap.Logger
}

type refreshTick struct {
}

type refreshResult struct {
	ok       bool
	duration time.Duration
}

type commandResult struct {
	replyTo   *actor.PID
	commandId string
	entity    entity.Entity
	err       error
}

type coordinatorUpdate struct {
	update coordinator.Update
}

func CoordinatorActorName(deviceId string) string {
	return fmt.Sprintf("%s-%s", domain.ACTOR_ID_COORDINATOR, deviceId)
}

func NewCoordinatorActor(cfg *config.Config, setup platform.DeviceSetup, eventStream *eventstream.EventStream,
	metrics *metrics.Metrics, logger *zap.Logger) *CoordinatorActor {
	actorLogger := actorutil.ActorLogger(CoordinatorActorName(setup.DeviceID()), logger)
	act := &CoordinatorActor{
		config:      cfg,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		metrics:     metrics,
		setup:       setup,
		coordinator: coordinator.NewDataCoordinator(setup.DeviceID(), setup, actorLogger),
		backoff: coordinator.Backoff{
			Initial:    config.Millis(cfg.Coordinator.BackoffInitialMillis),
			Max:        config.Millis(cfg.Coordinator.BackoffMaxMillis),
			Multiplier: cfg.Coordinator.BackoffMultiplier,
		},
		logger: actorLogger,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *CoordinatorActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *CoordinatorActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("coordinator@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.refresh(ctx)
	case refreshTick:
		state.refresh(ctx)
	case refreshResult:
		if !msg.ok {
			state.failures++
			delay := state.backoff.Next(state.failures)
			state.logger.Warn("coordinator@starting first refresh failed", zap.Error(state.coordinator.LastError()),
				zap.Int("failures", state.failures), zap.Duration("retry", delay))
			state.scheduleRefresh(ctx, delay)
			return
		}
		state.becomeReady(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(state.health())
	case domain.ListEntitiesRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.ListEntitiesResponse{})
	case domain.GetEntityRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.GetEntityResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: domain.ErrDeviceNotReady},
		})
	case domain.EntityCommandRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.EntityCommandResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: domain.ErrDeviceNotReady},
			CommandId:          msg.CommandId,
		})
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("coordinator@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *CoordinatorActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case refreshTick:
		state.refresh(ctx)
	case refreshResult:
		if msg.ok {
			state.failures = 0
			state.scheduleRefresh(ctx, state.setup.PollInterval())
		} else {
			state.failures++
			delay := state.backoff.Next(state.failures)
			state.logger.Warn("coordinator@default refresh failed", zap.Error(state.coordinator.LastError()),
				zap.Int("failures", state.failures), zap.Duration("retry", delay))
			state.scheduleRefresh(ctx, delay)
		}
	case coordinatorUpdate:
		state.onUpdate(msg.update)
	case domain.ActorHealthRequest:
		ctx.Respond(state.health())
	case domain.ListEntitiesRequest:
		states := make([]domain.EntityState, 0, len(state.entities))
		for _, e := range state.entities {
			states = append(states, entity.State(e))
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.ListEntitiesResponse{Entities: states})
	case domain.GetEntityRequest:
		e, ok := entity.Find(state.entities, msg.EntityId)
		if !ok {
			actorutil.ForRequest(msg).Respond(ctx, domain.GetEntityResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: domain.ErrEntityNotFound},
			})
			return
		}
		es := entity.State(e)
		actorutil.ForRequest(msg).Respond(ctx, domain.GetEntityResponse{Entity: &es})
	case domain.EntityCommandRequest:
		state.handleCommand(ctx, msg)
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("coordinator@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// RefreshingReceive waits for the in-flight refresh. Commands and ticks wait in the stash.
func (state *CoordinatorActor) RefreshingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case refreshResult:
		state.metrics.ObserveRefresh(state.setup.DeviceID(), msg.ok, msg.duration, state.coordinator.LastUpdate())
		state.behavior.UnbecomeStacked()
		// handled by the state below
		state.behavior.Receive(ctx)
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(state.health())
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("coordinator@refreshing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// CommandingReceive waits for the in-flight command.
func (state *CoordinatorActor) CommandingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case commandResult:
		state.onCommandResult(ctx, msg)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(state.health())
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("coordinator@commanding stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *CoordinatorActor) refresh(ctx actor.Context) {
	timeout := state.fetchTimeout()
	coord := state.coordinator
	actorutil.NewBackgroundTaskNoError(ctx, func() *refreshResult {
		fetchCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()
		ok := coord.Refresh(fetchCtx)
		return &refreshResult{ok: ok, duration: time.Since(start)}
	}).Recover(func(err error) refreshResult {
		// Refresh never fails, only the task timeout can get here
		return refreshResult{ok: false, duration: timeout}
	}).WithTimeout(timeout + time.Second).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.RefreshingReceive)
}

func (state *CoordinatorActor) scheduleRefresh(ctx actor.Context, delay time.Duration) {
	if state.cancelTick != nil {
		state.cancelTick()
	}
	state.cancelTick = state.scheduler.RequestOnce(delay, ctx.Self(), refreshTick{})
}

func (state *CoordinatorActor) becomeReady(ctx actor.Context) {
	device := state.setup.DeviceInfo(state.coordinator.Snapshot())
	state.entities = state.setup.Entities(state.coordinator, device)
	state.device = device
	state.ready = true
	state.available = true
	state.failures = 0

	self := ctx.Self()
	root := ctx.ActorSystem().Root
	state.unsubscribe = state.coordinator.Subscribe(func(update coordinator.Update) {
		root.Send(self, coordinatorUpdate{update: update})
	})

	state.logger.Info("coordinator@starting device ready", zap.String("device", device.Name), zap.Int("entities", len(state.entities)))
	state.eventStream.Publish(domain.DeviceReadyEvent{
		DeviceId:   state.setup.DeviceID(),
		Components: entity.Components(state.entities),
	})
	state.eventStream.Publish(domain.DeviceAvailabilityEvent{DeviceId: state.setup.DeviceID(), Available: true})
	state.publishStates(state.entities)

	state.scheduleRefresh(ctx, state.setup.PollInterval())
	state.behavior.Become(state.DefaultReceive)
	state.stash.UnstashAll(ctx)
}

func (state *CoordinatorActor) onUpdate(update coordinator.Update) {
	available := state.coordinator.Available()
	if available != state.available {
		state.available = available
		state.logger.Info("coordinator@default availability changed", zap.Bool("available", available))
		state.eventStream.Publish(domain.DeviceAvailabilityEvent{DeviceId: state.setup.DeviceID(), Available: available})
	}
	switch update.Reason {
	case coordinator.UpdateRefresh:
		state.publishStates(state.entities)
	case coordinator.UpdateOptimistic:
		var changed []entity.Entity
		for _, e := range state.entities {
			desc := e.Description()
			for _, key := range update.Keys {
				if desc.Key == key || (desc.SecondaryKey != "" && desc.SecondaryKey == key) {
					changed = append(changed, e)
					break
				}
			}
		}
		state.publishStates(changed)
	}
}

func (state *CoordinatorActor) publishStates(entities []entity.Entity) {
	for _, ev := range entity.StateEvents(entities) {
		state.eventStream.Publish(ev)
	}
}

func (state *CoordinatorActor) handleCommand(ctx actor.Context, msg domain.EntityCommandRequest) {
	replyTo := actorutil.ForRequest(msg).ReplyTo(ctx)
	e, ok := entity.Find(state.entities, msg.EntityId)
	if !ok {
		state.metrics.ObserveCommand(state.setup.DeviceID(), metrics.RESULT_REJECT)
		actorutil.SendResponse(ctx, replyTo, domain.EntityCommandResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: domain.ErrEntityNotFound},
			CommandId:          msg.CommandId,
		})
		return
	}
	if !msg.Deadline.IsZero() && !time.Now().Before(msg.Deadline) {
		// the caller gave up while the command was queued
		state.metrics.ObserveCommand(state.setup.DeviceID(), metrics.RESULT_REJECT)
		state.logger.Warn("coordinator@default command expired", zap.String("entity", msg.EntityId),
			zap.String("commandId", msg.CommandId))
		es := entity.State(e)
		actorutil.SendResponse(ctx, replyTo, domain.EntityCommandResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: fmt.Errorf("%s: %w", msg.EntityId, context.DeadlineExceeded)},
			CommandId:          msg.CommandId,
			Entity:             &es,
		})
		return
	}
	state.logger.Debug("coordinator@default command", zap.String("entity", msg.EntityId),
		zap.String("payload", msg.Payload), zap.String("commandId", msg.CommandId))

	timeout := config.Millis(state.config.Coordinator.CommandTimeoutMillis)
	deadline := time.Now().Add(timeout)
	if !msg.Deadline.IsZero() && msg.Deadline.Before(deadline) {
		deadline = msg.Deadline
	}
	actorutil.NewBackgroundTaskNoError(ctx, func() *commandResult {
		cmdCtx, cancel := context.WithDeadline(context.Background(), deadline)
		defer cancel()
		err := e.HandlePayload(cmdCtx, msg.Payload)
		return &commandResult{replyTo: replyTo, commandId: msg.CommandId, entity: e, err: err}
	}).Recover(func(err error) commandResult {
		return commandResult{replyTo: replyTo, commandId: msg.CommandId, entity: e,
			err: fmt.Errorf("%w: %w", entity.ErrCommandFailed, err)}
	}).WithTimeout(timeout + time.Second).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.CommandingReceive)
}

func (state *CoordinatorActor) onCommandResult(ctx actor.Context, msg commandResult) {
	deviceId := state.setup.DeviceID()
	switch {
	case msg.err == nil:
		state.metrics.ObserveCommand(deviceId, metrics.RESULT_OK)
	case errors.Is(msg.err, entity.ErrCommandFailed):
		state.metrics.ObserveCommand(deviceId, metrics.RESULT_ERROR)
		state.logger.Error("coordinator@commanding command failed", zap.String("entity", msg.entity.Description().Id), zap.Error(msg.err))
	default:
		state.metrics.ObserveCommand(deviceId, metrics.RESULT_REJECT)
		state.logger.Warn("coordinator@commanding command rejected", zap.String("entity", msg.entity.Description().Id), zap.Error(msg.err))
	}
	es := entity.State(msg.entity)
	actorutil.SendResponse(ctx, msg.replyTo, domain.EntityCommandResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: msg.err},
		CommandId:          msg.commandId,
		Entity:             &es,
	})
}

func (state *CoordinatorActor) health() domain.ActorHealthResponse {
	st := COORDINATOR_STATE_STARTING
	if state.ready {
		st = COORDINATOR_STATE_READY
		if !state.coordinator.Available() {
			st = COORDINATOR_STATE_UNAVAILABLE
		}
	}
	return domain.ActorHealthResponse{
		Id:      CoordinatorActorName(state.setup.DeviceID()),
		Healthy: state.ready,
		State:   st,
	}
}

func (state *CoordinatorActor) fetchTimeout() time.Duration {
	// a fetch never outlives the poll interval
	timeout := state.setup.PollInterval()
	if timeout <= 0 || timeout > 30*time.Second {
		timeout = 30 * time.Second
	}
	return timeout
}

func (state *CoordinatorActor) stop() {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
	if state.unsubscribe != nil {
		state.unsubscribe()
		state.unsubscribe = nil
	}
	if err := state.setup.Close(); err != nil {
		state.logger.Warn("coordinator: close device", zap.Error(err))
	}
}
