package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/config"
	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

const defaultHistoryMeasurement = "devbridge_state"

// PointWriter is the non-blocking part of the InfluxDB write API the history actor needs.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// HistoryActor writes every entity state and device availability change to InfluxDB.
type HistoryActor struct {
	config         *config.HistoryConfig
	behavior       actor.Behavior
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	writer         PointWriter
	closeWriter    func()
	now            func() time.Time
	written        int
	logger         *zap.Logger
}

type historyEvent struct {
	event any
}

// CreateInfluxWriter opens a batching write API. The returned func flushes and closes the client.
func CreateInfluxWriter(cfg *config.HistoryConfig, logger *zap.Logger) (PointWriter, func()) {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(100).
			SetFlushInterval(10_000))
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("history: write failed", zap.Error(err))
		}
	}()
	return writeAPI, func() {
		writeAPI.Flush()
		client.Close()
	}
}

func NewHistoryActor(cfg *config.HistoryConfig, eventStream *eventstream.EventStream, writer PointWriter, closeWriter func(), logger *zap.Logger) *HistoryActor {
	act := &HistoryActor{
		config:      cfg,
		behavior:    actor.NewBehavior(),
		eventStream: eventStream,
		writer:      writer,
		closeWriter: closeWriter,
		now:         time.Now,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HISTORY, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *HistoryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HistoryActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("history@default started")
		self := ctx.Self()
		root := ctx.ActorSystem().Root
		state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
			switch value.(type) {
			case domain.SensorUpdateEvent, domain.DeviceAvailabilityEvent:
				root.Send(self, historyEvent{event: value})
			}
		})
	case historyEvent:
		tags, fields, ok := EventToPointData(msg.event)
		if !ok {
			return
		}
		state.writer.WritePoint(write.NewPoint(state.measurement(), tags, fields, state.now()))
		state.written++
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HISTORY,
			Healthy: true,
			State:   fmt.Sprintf("written=%d", state.written),
		})
	case *actor.Stopping:
		state.stop(true)
	case *actor.Restarting:
		// the writer is shared with the restarted instance
		state.stop(false)
	}
}

func (state *HistoryActor) measurement() string {
	if state.config.Measurement == "" {
		return defaultHistoryMeasurement
	}
	return state.config.Measurement
}

func (state *HistoryActor) stop(closeWriter bool) {
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	state.writer.Flush()
	if closeWriter && state.closeWriter != nil {
		state.closeWriter()
		state.closeWriter = nil
	}
}

// EventToPointData maps an event to the tags and fields of a history point.
// Bridge state events are not recorded.
func EventToPointData(event any) (map[string]string, map[string]any, bool) {
	switch ev := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return entityTags(ev.Id, "float"), map[string]any{"value": ev.Value}, true
	case domain.BinarySensorUpdateEvent:
		return entityTags(ev.Id, "binary"), map[string]any{"state": ev.Value}, true
	case domain.SwitchSensorUpdateEvent:
		return entityTags(ev.Id, "switch"), map[string]any{"state": ev.Value}, true
	case domain.SelectUpdateEvent:
		return entityTags(ev.Id, "select"), map[string]any{"option": ev.Value}, true
	case domain.TextSensorUpdateEvent:
		return entityTags(ev.Id, "text"), map[string]any{"text": ev.Value}, true
	case domain.DeviceAvailabilityEvent:
		return map[string]string{"device": ev.DeviceId, "kind": "availability"}, map[string]any{"available": ev.Available}, true
	}
	return nil, nil, false
}

func entityTags(id, kind string) map[string]string {
	return map[string]string{"entity": id, "kind": kind}
}
