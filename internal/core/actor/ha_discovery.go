package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/config"
	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const republishJobKey = "ha-discovery-republish"

// HADiscoveryActor publishes Home Assistant discovery for the bridge and for every ready device.
type HADiscoveryActor struct {
	config           *config.Config
	behavior         actor.Behavior
	stash            *actorutil.Stash
	mqttActor        *actor.PID
	bridge           domain.Device
	devices          map[string]domain.DiscoveryComponents
	deviceOrder      []string
	scheduler        quartz.Scheduler
	cancelScheduler  context.CancelFunc
	lastPublishCount int

	logger *zap.Logger
}

// republishJob is a quartz job asking the discovery actor to publish everything again.
type republishJob struct {
	root *actor.RootContext
	pid  *actor.PID
}

func (j *republishJob) Execute(_ context.Context) error {
	j.root.Send(j.pid, domain.RepublishDiscoveryRequest{})
	return nil
}

func (j *republishJob) Description() string {
	return fmt.Sprintf("republish HA discovery to %s", j.pid.Id)
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:    config,
		mqttActor: mqttActor,
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		bridge:    domain.BridgeDevice(config.MQTT.BaseTopic),
		devices:   map[string]domain.DiscoveryComponents{},
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT Actor is not healthy"))
		}
		state.publishBridge(ctx)
		// devices that became ready before this instance started
		ctx.Request(ctx.Parent(), domain.ReadyDevicesRequest{})
		if err := state.startRepublishJob(ctx); err != nil {
			state.logger.Error("hadiscovery@healthcheck could not schedule republish", zap.Error(err))
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.DeviceReadyEvent:
		state.logger.Info("hadiscovery@default device ready", zap.String("device", msg.DeviceId), zap.Int("components", msg.Components.Len()))
		state.onDeviceReady(ctx, msg)
	case domain.ReadyDevicesResponse:
		for _, ev := range msg.Devices {
			if _, known := state.devices[ev.DeviceId]; known {
				continue
			}
			state.logger.Info("hadiscovery@default catch up device", zap.String("device", ev.DeviceId))
			state.onDeviceReady(ctx, ev)
		}
	case domain.RepublishDiscoveryRequest:
		state.logger.Debug("hadiscovery@default republish", zap.Int("devices", len(state.devices)))
		state.publishBridge(ctx)
		for _, id := range state.deviceOrder {
			state.publish(ctx, state.devices[id])
		}
	case domain.PublishDiscoveryResponse:
		if msg.HasResponseError() {
			state.logger.Error("hadiscovery@default publish failed", zap.Error(msg.GetResponseError()))
			return
		}
		state.lastPublishCount = msg.Published
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HA_DISCOVERY,
			Healthy: true,
			State:   fmt.Sprintf("devices=%d last_published=%d", len(state.devices), state.lastPublishCount),
		})
	case *actor.Stopping:
		state.stopRepublishJob()
	case *actor.Restarting:
		state.stopRepublishJob()
	default:
		state.logger.Debug("hadiscovery@default: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) onDeviceReady(ctx actor.Context, ev domain.DeviceReadyEvent) {
	components := state.viaBridge(ev.Components)
	if _, known := state.devices[ev.DeviceId]; !known {
		state.deviceOrder = append(state.deviceOrder, ev.DeviceId)
	}
	state.devices[ev.DeviceId] = components
	state.publish(ctx, components)
}

func (state *HADiscoveryActor) publishBridge(ctx actor.Context) {
	state.publish(ctx, domain.DiscoveryComponents{Sensors: domain.BridgeSensors(state.bridge)})
}

func (state *HADiscoveryActor) publish(ctx actor.Context, components domain.DiscoveryComponents) {
	ctx.Request(state.mqttActor, domain.PublishDiscoveryRequest{DiscoveryComponents: components})
}

// viaBridge links every fully described device to the bridge device.
func (state *HADiscoveryActor) viaBridge(components domain.DiscoveryComponents) domain.DiscoveryComponents {
	link := func(d domain.Device) domain.Device {
		if d != domain.IdDevice(d) {
			d.ViaDevice = state.bridge.Id
		}
		return d
	}
	out := domain.DiscoveryComponents{
		Sensors:  make([]domain.GenericSensor, len(components.Sensors)),
		Switches: make([]domain.GenericSwitch, len(components.Switches)),
		Selects:  make([]domain.GenericSelect, len(components.Selects)),
	}
	for i, s := range components.Sensors {
		s.Device = link(s.Device)
		out.Sensors[i] = s
	}
	for i, s := range components.Switches {
		s.Device = link(s.Device)
		out.Switches[i] = s
	}
	for i, s := range components.Selects {
		s.Device = link(s.Device)
		out.Selects[i] = s
	}
	return out
}

func (state *HADiscoveryActor) startRepublishJob(ctx actor.Context) error {
	cron := state.config.MQTT.HADiscoveryRepublishCron
	if cron == "" {
		return nil
	}
	trigger, err := quartz.NewCronTrigger(cron)
	if err != nil {
		return fmt.Errorf("invalid republish cron %q: %w", cron, err)
	}
	sched := quartz.NewStdScheduler()
	schedCtx, cancel := context.WithCancel(context.Background())
	sched.Start(schedCtx)

	job := &republishJob{root: ctx.ActorSystem().Root, pid: ctx.Self()}
	if err := sched.ScheduleJob(quartz.NewJobDetail(job, quartz.NewJobKey(republishJobKey)), trigger); err != nil {
		cancel()
		sched.Stop()
		return err
	}
	state.scheduler = sched
	state.cancelScheduler = cancel
	return nil
}

func (state *HADiscoveryActor) stopRepublishJob() {
	if state.scheduler != nil {
		state.scheduler.Stop()
		state.cancelScheduler()
		state.scheduler = nil
	}
}
