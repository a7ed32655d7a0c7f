package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/core/coordinator"
	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/core/entity"
	"github.com/berfenger/devbridge2mqtt/pkg/igd"
)

const (
	KeyWANStatus  coordinator.FieldKey = "wan_status"
	KeyUptime     coordinator.FieldKey = "uptime"
	KeyExternalIP coordinator.FieldKey = "external_ip"
)

type GatewaySetup struct {
	client       igd.GatewayClient
	deviceId     string
	controlURL   string
	pollInterval time.Duration
}

func NewGatewaySetup(client igd.GatewayClient, controlURL string, pollInterval time.Duration) *GatewaySetup {
	return &GatewaySetup{
		client:       client,
		deviceId:     domain.DeviceId("igd", controlURL),
		controlURL:   controlURL,
		pollInterval: pollInterval,
	}
}

func (g *GatewaySetup) DeviceID() string {
	return g.deviceId
}

func (g *GatewaySetup) PollInterval() time.Duration {
	return g.pollInterval
}

func (g *GatewaySetup) Close() error {
	return nil
}

func (g *GatewaySetup) Fetch(ctx context.Context) (coordinator.Snapshot, error) {
	status, err := g.client.GetStatusInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("status info: %w", err)
	}
	ip, err := g.client.GetExternalIPAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("external ip: %w", err)
	}
	return coordinator.Snapshot{
		KeyWANStatus:  status.ConnectionStatus,
		KeyUptime:     int64(status.Uptime.Seconds()),
		KeyExternalIP: ip,
	}, nil
}

func (g *GatewaySetup) DeviceInfo(_ coordinator.Snapshot) domain.Device {
	return domain.Device{
		Id:    g.deviceId,
		Name:  "Internet gateway",
		Model: "UPnP IGD",
	}
}

func (g *GatewaySetup) Entities(source entity.Source, device domain.Device) []entity.Entity {
	var entities []entity.Entity
	if source.Has(KeyWANStatus) {
		entities = append(entities, entity.NewBinarySensor(source, entity.Description{
			Id:             entityId(g.deviceId, "wan_status"),
			Name:           "WAN status",
			Key:            KeyWANStatus,
			Device:         device,
			DeviceClass:    domain.DEVICE_CLASS_CONNECTIVITY,
			EntityCategory: domain.ENTITY_CATEGORY_DIAGNOSTIC,
		}, igd.StatusConnected))
	}
	if source.Has(KeyUptime) {
		entities = append(entities, entity.NewSensor(source, entity.Description{
			Id:                entityId(g.deviceId, "uptime"),
			Name:              "Uptime",
			Key:               KeyUptime,
			Device:            device,
			DeviceClass:       domain.DEVICE_CLASS_DURATION,
			EntityCategory:    domain.ENTITY_CATEGORY_DIAGNOSTIC,
			UnitOfMeasurement: "s",
		}))
	}
	if source.Has(KeyExternalIP) {
		entities = append(entities, entity.NewSensor(source, entity.Description{
			Id:             entityId(g.deviceId, "external_ip"),
			Name:           "External IP",
			Key:            KeyExternalIP,
			Device:         device,
			EntityCategory: domain.ENTITY_CATEGORY_DIAGNOSTIC,
			Icon:           "mdi:ip",
		}))
	}
	return entities
}

// ensure interface compliance
var _ DeviceSetup = (*GatewaySetup)(nil)
