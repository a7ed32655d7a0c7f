package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/config"
	"github.com/berfenger/devbridge2mqtt/internal/core/coordinator"
	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/core/entity"
	"github.com/berfenger/devbridge2mqtt/pkg/igd"
	"github.com/berfenger/devbridge2mqtt/pkg/relayboard"
	"github.com/berfenger/devbridge2mqtt/pkg/tessie"

	"go.uber.org/zap"
)

// DeviceSetup describes how to poll one configured device and which entities it offers.
type DeviceSetup interface {
	DeviceID() string
	// Fetch is the coordinator's Fetcher.
	Fetch(ctx context.Context) (coordinator.Snapshot, error)
	DeviceInfo(snapshot coordinator.Snapshot) domain.Device
	// Entities returns one entity per candidate key present in source.
	Entities(source entity.Source, device domain.Device) []entity.Entity
	PollInterval() time.Duration
	Close() error
}

// Clients holds the remote API clients. A nil client disables its platform.
type Clients struct {
	Vehicles   tessie.VehicleClient
	Gateway    igd.GatewayClient
	RelayBoard relayboard.RelayBoardReader
}

// CreateClients builds the API client of every enabled device family. modbusInstrument may be nil.
func CreateClients(cfg *config.Config, modbusInstrument *relayboard.ModbusInstrument, logger *zap.Logger) (Clients, error) {
	var clients Clients
	if cfg.Tessie.Enable {
		c, err := tessie.CreateClient(cfg.Tessie.BaseURL, cfg.Tessie.AccessToken, config.Millis(cfg.Tessie.TimeoutMillis), logger)
		if err != nil {
			return clients, fmt.Errorf("tessie client: %w", err)
		}
		clients.Vehicles = c
	}
	if cfg.Gateway.Enable {
		c, err := igd.CreateClient(cfg.Gateway.ControlURL, cfg.Gateway.ServiceType, config.Millis(cfg.Gateway.TimeoutMillis), logger)
		if err != nil {
			return clients, fmt.Errorf("gateway client: %w", err)
		}
		clients.Gateway = c
	}
	if cfg.RelayBoard.Enable {
		c, err := relayboard.CreateRelayBoardReader(cfg.RelayBoard.Host, cfg.RelayBoard.Port, uint8(cfg.RelayBoard.UnitId),
			cfg.RelayBoard.BaseAddress, cfg.RelayBoard.Coils, config.Millis(cfg.RelayBoard.TimeoutMillis), logger, modbusInstrument)
		if err != nil {
			return clients, fmt.Errorf("relay board client: %w", err)
		}
		clients.RelayBoard = c
	}
	return clients, nil
}

// Configure enumerates the configured devices. Vehicles are listed from the account
// unless explicit VINs are configured.
func Configure(ctx context.Context, cfg *config.Config, clients Clients) ([]DeviceSetup, error) {
	var setups []DeviceSetup

	if cfg.Tessie.Enable && clients.Vehicles != nil {
		vehicles, err := configuredVehicles(ctx, cfg.Tessie.Vins, clients.Vehicles)
		if err != nil {
			return nil, err
		}
		for _, v := range vehicles {
			setups = append(setups, NewVehicleSetup(clients.Vehicles, v, config.Millis(cfg.Tessie.PollIntervalMillis)))
		}
	}
	if cfg.Gateway.Enable && clients.Gateway != nil {
		setups = append(setups, NewGatewaySetup(clients.Gateway, cfg.Gateway.ControlURL, config.Millis(cfg.Gateway.PollIntervalMillis)))
	}
	if cfg.RelayBoard.Enable && clients.RelayBoard != nil {
		name := fmt.Sprintf("%s:%d/%d", cfg.RelayBoard.Host, cfg.RelayBoard.Port, cfg.RelayBoard.UnitId)
		setups = append(setups, NewRelayBoardSetup(clients.RelayBoard, name, config.Millis(cfg.RelayBoard.PollIntervalMillis)))
	}
	return setups, nil
}

func configuredVehicles(ctx context.Context, vins []string, client tessie.VehicleClient) ([]tessie.Vehicle, error) {
	if len(vins) > 0 {
		vehicles := make([]tessie.Vehicle, 0, len(vins))
		for _, vin := range vins {
			vehicles = append(vehicles, tessie.Vehicle{VIN: vin, DisplayName: vin})
		}
		return vehicles, nil
	}
	vehicles, err := client.ListVehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	return vehicles, nil
}

// Setup runs the first refresh and returns the device and its entities.
// Entities are created only for keys present in that first snapshot.
func Setup(ctx context.Context, setup DeviceSetup, coord *coordinator.DataCoordinator) (domain.Device, []entity.Entity, error) {
	if !coord.Refresh(ctx) {
		return domain.Device{}, nil, coord.LastError()
	}
	device := setup.DeviceInfo(coord.Snapshot())
	return device, setup.Entities(coord, device), nil
}

func entityId(deviceId, suffix string) string {
	return fmt.Sprintf("%s_%s", deviceId, suffix)
}
