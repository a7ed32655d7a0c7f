package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/config"
	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/metrics"
	"github.com/berfenger/devbridge2mqtt/internal/mqtt"
	"github.com/berfenger/devbridge2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConnection is the broker side of the MQTT actor. *mqtt.MQTTClient implements it.
type MQTTConnection interface {
	Connect(continuation func(error), timeout time.Duration)
	SubscribeToCommandTopic(handler pahomqtt.MessageHandler, continuation func(error), timeout time.Duration)
	Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration)
	Disconnect(timeout time.Duration)
}

var _ MQTTConnection = (*mqtt.MQTTClient)(nil)

type MQTTActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	client         *mqtt.MQTTClient
	conn           MQTTConnection
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

type OnEventStreamMessage struct {
	message any
}

type publishResult struct {
	ReplyTo *actor.PID
	Error   error
}

type ParsedCommand struct {
	Command *mqtt.ParsedMQTTCommand
}

type rawMessage struct {
	topic   string
	message string
	retain  bool
}

func NewMQTTActor(config *config.Config, eventStream *eventstream.EventStream, metrics *metrics.Metrics, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		metrics:     metrics,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		// events published while connecting wait in the stash
		state.subscribeEventStream(ctx)

		self := ctx.Self()
		root := ctx.ActorSystem().Root

		// create MQTT client
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			root.Send(self, MQTTConnectionLost{Error: err})
		})
		if state.conn == nil {
			state.conn = state.client
		}

		// connect to MQTT server
		state.conn.Connect(func(err error) {
			if err != nil {
				root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				root.Send(self, MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")

		self := ctx.Self()
		root := ctx.ActorSystem().Root
		client := state.client

		state.conn.Publish(client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)

		// subscribe to MQTT command topics
		state.conn.SubscribeToCommandTopic(func(_ pahomqtt.Client, m pahomqtt.Message) {
			cmd, err := client.ParseMQTTCommand(m)
			if err == nil && cmd != nil {
				root.Send(self, ParsedCommand{Command: cmd})
			}
		}, func(err error) {
			if err != nil {
				root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				root.Send(self, MQTTSubscribed{})
			}
		}, 1*time.Second)
	case MQTTSubscribed:
		// init completed, transition to default state
		state.logger.Debug("mqtt@starting subscribed")
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		// respond health check request
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "connected",
		})
	case ParsedCommand:
		// route command to parent
		state.logger.Debug("mqtt@default parsedCommand", zap.Any("command", msg.Command))
		ctx.Send(ctx.Parent(), msg)
	case OnEventStreamMessage:
		state.onEvent(ctx, msg.message)
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@default PublishMessageRequest", zap.String("topic", msg.Topic))
		state.publish(ctx, rawMessage{topic: msg.Topic, message: msg.Payload, retain: msg.Retain}, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.PublishSensorUpdateRequest:
		state.logger.Debug("mqtt@default PublishSensorUpdateRequest", zap.String("type", fmt.Sprintf("%T", msg.Event)))
		if raw := state.event2MQTTMessage(msg.Event); raw != nil {
			raw.retain = raw.retain || msg.Retain
			state.publish(ctx, *raw, actorutil.ForRequest(msg).ReplyTo(ctx))
		}
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@default PublishHADiscovery", zap.Int("components", msg.Len()))
		published, err := state.PublishHomeAssistantDiscovery(ctx, msg.DiscoveryComponents)
		if err != nil {
			state.logger.Error("mqtt@default PublishHADiscovery error", zap.Error(err))
		}
		actorutil.SendResponse(ctx, actorutil.ForRequest(msg).ReplyTo(ctx), domain.PublishDiscoveryResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			Published:          published,
		})
	case publishResult:
		state.metrics.ObservePublish(msg.Error)
		if msg.Error != nil {
			state.logger.Error("mqtt@default could not publish a message", zap.Error(msg.Error))
		}
		actorutil.SendResponse(ctx, msg.ReplyTo, domain.PublishMessageResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: msg.Error},
		})
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) subscribeEventStream(ctx actor.Context) {
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
		switch value.(type) {
		case domain.SensorUpdateEvent, domain.DeviceAvailabilityEvent:
			root.Send(self, OnEventStreamMessage{message: value})
		}
	})
}

func (state *MQTTActor) onEvent(ctx actor.Context, event any) {
	var raw *rawMessage
	switch ev := event.(type) {
	case domain.DeviceAvailabilityEvent:
		raw = state.availabilityMessage(ev)
	case domain.SensorUpdateEvent:
		raw = state.event2MQTTMessage(ev)
	}
	if raw != nil {
		state.publish(ctx, *raw, nil)
	}
}

func (state *MQTTActor) availabilityMessage(ev domain.DeviceAvailabilityEvent) *rawMessage {
	payload := mqtt.MQTT_PAYLOAD_OFFLINE
	if ev.Available {
		payload = mqtt.MQTT_PAYLOAD_ONLINE
	}
	return &rawMessage{
		topic:   state.client.DeviceAvailabilityTopic(ev.DeviceId),
		message: payload,
		retain:  true,
	}
}

func (state *MQTTActor) event2MQTTMessage(event any) *rawMessage {
	switch msg := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: fmt.Sprintf(fmt.Sprintf("%%.%df", msg.Decimals), msg.Value),
		}
	case domain.BinarySensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.BinarySensorStateTopic(msg.Id),
			message: bool2MQTTPayload(msg.Value),
		}
	case domain.SwitchSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SwitchStateTopic(msg.Id),
			message: bool2MQTTPayload(msg.Value),
			retain:  true,
		}
	case domain.SelectUpdateEvent:
		return &rawMessage{
			topic:   state.client.SelectStateTopic(msg.Id),
			message: msg.Value,
			retain:  true,
		}
	case domain.TextSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: msg.Value,
		}
	case domain.BridgeStateUpdateEvent:
		var stringMessage string
		if msg.Value {
			stringMessage = mqtt.MQTT_PAYLOAD_ONLINE
		} else {
			stringMessage = mqtt.MQTT_PAYLOAD_OFFLINE
		}
		return &rawMessage{
			topic:   state.client.BridgeStateTopic(),
			message: stringMessage,
			retain:  true,
		}
	default:
		return nil
	}
}

// publish is asynchronous, the result comes back as a publishResult.
func (state *MQTTActor) publish(ctx actor.Context, msg rawMessage, replyTo *actor.PID) {
	state.logger.Sugar().Debugf("mqtt@publish: %s => %s", msg.topic, msg.message)
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	state.conn.Publish(msg.topic, msg.message, 1, msg.retain, func(err error) {
		root.Send(self, publishResult{ReplyTo: replyTo, Error: err})
	}, 5*time.Second)
}

func (state *MQTTActor) discoveryMessages(components domain.DiscoveryComponents) ([]rawMessage, error) {
	var out []rawMessage
	add := func(topic string, msg mqtt.HADiscoveryConfig) error {
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		out = append(out, rawMessage{topic: topic, message: string(payload), retain: true})
		return nil
	}
	for i := range components.Sensors {
		if err := add(state.client.HADiscoverySensorTopic(components.Sensors[i]),
			mqtt.GenericSensorToHADiscoveryMessage(state.client, components.Sensors[i])); err != nil {
			return nil, err
		}
	}
	for i := range components.Switches {
		if err := add(state.client.HADiscoverySwitchTopic(components.Switches[i]),
			mqtt.GenericSwitchToHADiscoveryMessage(state.client, components.Switches[i])); err != nil {
			return nil, err
		}
	}
	for i := range components.Selects {
		if err := add(state.client.HADiscoverySelectTopic(components.Selects[i]),
			mqtt.GenericSelectToHADiscoveryMessage(state.client, components.Selects[i])); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (state *MQTTActor) PublishHomeAssistantDiscovery(ctx actor.Context, components domain.DiscoveryComponents) (int, error) {
	messages, err := state.discoveryMessages(components)
	if err != nil {
		return 0, err
	}
	for _, msg := range messages {
		state.conn.Publish(msg.topic, msg.message, 0, msg.retain, func(error) {}, 1*time.Second)
	}
	return len(messages), nil
}

func (state *MQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	if state.conn != nil && state.client != nil {
		state.conn.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.conn.Disconnect(500 * time.Millisecond)
	}
}

func bool2MQTTPayload(value bool) string {
	if value {
		return mqtt.MQTT_PAYLOAD_ON
	} else {
		return mqtt.MQTT_PAYLOAD_OFF
	}
}
