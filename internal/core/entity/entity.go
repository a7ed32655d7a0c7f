package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/berfenger/devbridge2mqtt/internal/core/coordinator"
	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
)

var (
	ErrCommandFailed  = errors.New("command failed")
	ErrInvalidOption  = errors.New("invalid option")
	ErrReadOnly       = errors.New("entity is read-only")
	ErrInvalidPayload = errors.New("invalid payload")
)

type Capability string

const (
	CapabilitySwitch       Capability = "switch"
	CapabilitySelect       Capability = "select"
	CapabilityBinarySensor Capability = "binary_sensor"
	CapabilitySensor       Capability = "sensor"
)

// Description is the static metadata of one entity.
type Description struct {
	Id                string
	Name              string
	Key               coordinator.FieldKey
	Device            domain.Device
	Capability        Capability
	DeviceClass       string
	EntityCategory    string // diagnostic, config or empty
	Icon              string
	UnitOfMeasurement string
	StateClass        string
	// Options is the ordered option list of a select. The raw cached value is the index.
	Options []string
	// SecondaryKey overrides Key on read when present (composite switches).
	SecondaryKey coordinator.FieldKey
	// Sentinel is the raw string a binary sensor reports as on.
	Sentinel string
}

// Source is the coordinator surface an entity reads from and writes optimistic values to.
type Source interface {
	DeviceID() string
	Get(key coordinator.FieldKey) (coordinator.Value, bool)
	Has(key coordinator.FieldKey) bool
	Set(key coordinator.FieldKey, value coordinator.Value)
	Available() bool
}

// Entity is the capability independent view used by the MQTT and HTTP hosts.
type Entity interface {
	Description() Description
	Available() bool
	StatePayload() string
	StateEvent() domain.SensorUpdateEvent
	HandlePayload(ctx context.Context, payload string) error
}

// Strategy holds everything that differs between capabilities.
type Strategy[T any] interface {
	// Project reads the capability value from the cache.
	Project(src Source, desc Description) T
	// Prepare validates a command value and maps it to the raw value cached on success.
	Prepare(desc Description, value T) (coordinator.Value, error)
	// Execute invokes the remote call for a prepared raw value.
	Execute(ctx context.Context, raw coordinator.Value) error
	Format(value T) string
	Parse(payload string) (T, error)
	Event(desc Description, value T) domain.SensorUpdateEvent
}

// FieldView binds a Strategy to one (coordinator, key) pair. It never owns the cached value.
type FieldView[T any] struct {
	desc     Description
	source   Source
	strategy Strategy[T]
}

func NewFieldView[T any](source Source, desc Description, strategy Strategy[T]) *FieldView[T] {
	return &FieldView[T]{
		desc:     desc,
		source:   source,
		strategy: strategy,
	}
}

func (v *FieldView[T]) Description() Description {
	return v.desc
}

func (v *FieldView[T]) Available() bool {
	return v.source.Available()
}

func (v *FieldView[T]) CurrentValue() T {
	return v.strategy.Project(v.source, v.desc)
}

// ApplyCommand runs the remote call and then writes the optimistic value.
// The cache is left untouched when the call fails or ctx is done by the time it returns.
func (v *FieldView[T]) ApplyCommand(ctx context.Context, value T) error {
	raw, err := v.strategy.Prepare(v.desc, value)
	if err != nil {
		return fmt.Errorf("%s: %w", v.desc.Id, err)
	}
	if err := v.strategy.Execute(ctx, raw); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCommandFailed, v.desc.Id, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", v.desc.Id, err)
	}

	v.source.Set(v.desc.Key, raw)
	if v.desc.SecondaryKey != "" && v.source.Has(v.desc.SecondaryKey) {
		v.source.Set(v.desc.SecondaryKey, raw)
	}
	return nil
}

func (v *FieldView[T]) StatePayload() string {
	return v.strategy.Format(v.CurrentValue())
}

func (v *FieldView[T]) StateEvent() domain.SensorUpdateEvent {
	return v.strategy.Event(v.desc, v.CurrentValue())
}

func (v *FieldView[T]) HandlePayload(ctx context.Context, payload string) error {
	value, err := v.strategy.Parse(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", v.desc.Id, err)
	}
	return v.ApplyCommand(ctx, value)
}

// Find returns the entity with the given id.
func Find(entities []Entity, id string) (Entity, bool) {
	for _, e := range entities {
		if e.Description().Id == id {
			return e, true
		}
	}
	return nil, false
}

// ensure interface compliance
var _ Entity = (*FieldView[bool])(nil)
var _ Source = (*coordinator.DataCoordinator)(nil)
