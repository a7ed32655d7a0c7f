package domain

import (
	"errors"
	"time"
)

var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrDeviceNotReady = errors.New("device not ready")
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
	ACTOR_ID_HISTORY      = "history"
	ACTOR_ID_COORDINATOR  = "coordinator"
)

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	DiscoveryComponents
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
	Published int
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// EntityCommandRequest asks the owner of an entity to apply a payload to it.
// The payload uses the MQTT representation: on/off for switches, the option label for selects.
// A command still queued at Deadline is dropped, a running one is cancelled. Zero means no deadline.
type EntityCommandRequest struct {
	ActorRequestMixIn
	CommandId string
	EntityId  string
	Payload   string
	Deadline  time.Time
}

type EntityCommandResponse struct {
	ActorResponseMixIn
	CommandId string
	Entity    *EntityState
}

// EntityState is a point in time view of one entity.
type EntityState struct {
	Id         string   `json:"id"`
	Name       string   `json:"name"`
	DeviceId   string   `json:"device_id"`
	Capability string   `json:"capability"`
	Key        string   `json:"key"`
	State      string   `json:"state"`
	Available  bool     `json:"available"`
	Options    []string `json:"options,omitempty"`
}

type ListEntitiesRequest struct {
	ActorRequestMixIn
}

type ListEntitiesResponse struct {
	ActorResponseMixIn
	Entities []EntityState
}

type GetEntityRequest struct {
	ActorRequestMixIn
	EntityId string
}

type GetEntityResponse struct {
	ActorResponseMixIn
	Entity *EntityState
}

// ReadyDevicesRequest asks for the last DeviceReadyEvent of every ready device, in ready order.
type ReadyDevicesRequest struct {
	ActorRequestMixIn
}

type ReadyDevicesResponse struct {
	ActorResponseMixIn
	Devices []DeviceReadyEvent
}

// RepublishDiscoveryRequest triggers a new round of discovery messages for every ready device.
type RepublishDiscoveryRequest struct {
}
