package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/core/coordinator"
	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/core/entity"
	"github.com/berfenger/devbridge2mqtt/pkg/relayboard"
)

func CoilKey(index uint16) coordinator.FieldKey {
	return coordinator.FieldKey(fmt.Sprintf("coil_%d", index))
}

type RelayBoardSetup struct {
	board        relayboard.RelayBoardReader
	deviceId     string
	name         string
	pollInterval time.Duration

	mu     sync.Mutex
	opened bool
}

func NewRelayBoardSetup(board relayboard.RelayBoardReader, name string, pollInterval time.Duration) *RelayBoardSetup {
	return &RelayBoardSetup{
		board:        board,
		deviceId:     domain.DeviceId("relay", name),
		name:         name,
		pollInterval: pollInterval,
	}
}

func (r *RelayBoardSetup) DeviceID() string {
	return r.deviceId
}

func (r *RelayBoardSetup) PollInterval() time.Duration {
	return r.pollInterval
}

// ensureOpen opens the connection on first use and after a failed read.
func (r *RelayBoardSetup) ensureOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opened {
		return nil
	}
	if err := r.board.Open(); err != nil {
		return err
	}
	r.opened = true
	return nil
}

func (r *RelayBoardSetup) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opened {
		_ = r.board.Close()
		r.opened = false
	}
}

func (r *RelayBoardSetup) Close() error {
	r.reset()
	return nil
}

func (r *RelayBoardSetup) Fetch(ctx context.Context) (coordinator.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	coils, err := r.board.ReadCoils()
	if err != nil {
		r.reset()
		return nil, err
	}
	snapshot := make(coordinator.Snapshot, len(coils))
	for i, value := range coils {
		snapshot[CoilKey(uint16(i))] = value
	}
	return snapshot, nil
}

func (r *RelayBoardSetup) DeviceInfo(_ coordinator.Snapshot) domain.Device {
	return domain.Device{
		Id:    r.deviceId,
		Name:  fmt.Sprintf("Relay board %s", r.name),
		Model: "Modbus TCP relay board",
	}
}

func (r *RelayBoardSetup) Entities(source entity.Source, device domain.Device) []entity.Entity {
	var entities []entity.Entity
	for i := uint16(0); i < r.board.CoilCount(); i++ {
		key := CoilKey(i)
		if !source.Has(key) {
			continue
		}
		entities = append(entities, entity.NewSwitch(source, entity.Description{
			Id:          entityId(r.deviceId, string(key)),
			Name:        fmt.Sprintf("Relay %d", i+1),
			Key:         key,
			Device:      device,
			DeviceClass: domain.DEVICE_CLASS_SWITCH,
			Icon:        "mdi:electric-switch",
		}, r.writeCoil(i, true), r.writeCoil(i, false)))
	}
	return entities
}

func (r *RelayBoardSetup) writeCoil(index uint16, value bool) entity.CommandFunc {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.ensureOpen(); err != nil {
			return err
		}
		return r.board.WriteCoil(index, value)
	}
}

// ensure interface compliance
var _ DeviceSetup = (*RelayBoardSetup)(nil)
