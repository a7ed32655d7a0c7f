package entity

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/berfenger/devbridge2mqtt/internal/core/coordinator"
	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
)

const (
	PayloadOn  = "on"
	PayloadOff = "off"
)

// CommandFunc is a remote call without arguments, e.g. "start defrost".
type CommandFunc func(ctx context.Context) error

// OptionFunc is a remote call taking a select ordinal.
type OptionFunc func(ctx context.Context, ordinal int) error

// Switch

type switchStrategy struct {
	on  CommandFunc
	off CommandFunc
}

func NewSwitch(source Source, desc Description, on, off CommandFunc) *FieldView[bool] {
	desc.Capability = CapabilitySwitch
	desc.SecondaryKey = ""
	return NewFieldView[bool](source, desc, switchStrategy{on: on, off: off})
}

// NewCompositeSwitch creates a switch whose state is read from secondary when that key is
// present in the cache, and from the primary key otherwise.
func NewCompositeSwitch(source Source, desc Description, secondary coordinator.FieldKey, on, off CommandFunc) *FieldView[bool] {
	desc.Capability = CapabilitySwitch
	desc.SecondaryKey = secondary
	return NewFieldView[bool](source, desc, switchStrategy{on: on, off: off})
}

func (s switchStrategy) Project(src Source, desc Description) bool {
	if desc.SecondaryKey != "" {
		if raw, ok := src.Get(desc.SecondaryKey); ok {
			return Truthy(raw)
		}
	}
	raw, ok := src.Get(desc.Key)
	return ok && Truthy(raw)
}

func (s switchStrategy) Prepare(_ Description, value bool) (coordinator.Value, error) {
	return value, nil
}

func (s switchStrategy) Execute(ctx context.Context, raw coordinator.Value) error {
	if raw.(bool) {
		return s.on(ctx)
	}
	return s.off(ctx)
}

func (s switchStrategy) Format(value bool) string {
	return bool2Payload(value)
}

func (s switchStrategy) Parse(payload string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case PayloadOn, "true", "1":
		return true, nil
	case PayloadOff, "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
	}
}

func (s switchStrategy) Event(desc Description, value bool) domain.SensorUpdateEvent {
	return domain.SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: desc.Id},
		Value:                  value,
	}
}

// Select

type selectStrategy struct {
	set OptionFunc
}

func NewSelect(source Source, desc Description, options []string, set OptionFunc) *FieldView[string] {
	desc.Capability = CapabilitySelect
	desc.Options = slices.Clone(options)
	return NewFieldView[string](source, desc, selectStrategy{set: set})
}

func (s selectStrategy) Project(src Source, desc Description) string {
	raw, ok := src.Get(desc.Key)
	if !ok {
		return ""
	}
	f, ok := toFloat(raw)
	if !ok || f != math.Trunc(f) || f < 0 || int(f) >= len(desc.Options) {
		return ""
	}
	return desc.Options[int(f)]
}

func (s selectStrategy) Prepare(desc Description, value string) (coordinator.Value, error) {
	idx := slices.Index(desc.Options, value)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOption, value)
	}
	return idx, nil
}

func (s selectStrategy) Execute(ctx context.Context, raw coordinator.Value) error {
	return s.set(ctx, raw.(int))
}

func (s selectStrategy) Format(value string) string {
	return value
}

func (s selectStrategy) Parse(payload string) (string, error) {
	return strings.TrimSpace(payload), nil
}

func (s selectStrategy) Event(desc Description, value string) domain.SensorUpdateEvent {
	return domain.SelectUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: desc.Id},
		Value:                  value,
	}
}

// Read-only strategies

type readOnly struct{}

func (readOnly) Execute(context.Context, coordinator.Value) error {
	return ErrReadOnly
}

// Binary sensor

type binarySensorStrategy struct {
	readOnly
}

// NewBinarySensor creates a sensor that is on only when the raw value equals sentinel.
// Numbers and booleans are never coerced.
func NewBinarySensor(source Source, desc Description, sentinel string) *FieldView[bool] {
	desc.Capability = CapabilityBinarySensor
	desc.Sentinel = sentinel
	return NewFieldView[bool](source, desc, binarySensorStrategy{})
}

func (s binarySensorStrategy) Project(src Source, desc Description) bool {
	raw, ok := src.Get(desc.Key)
	if !ok {
		return false
	}
	str, ok := raw.(string)
	return ok && str == desc.Sentinel
}

func (s binarySensorStrategy) Prepare(Description, bool) (coordinator.Value, error) {
	return nil, ErrReadOnly
}

func (s binarySensorStrategy) Format(value bool) string {
	return bool2Payload(value)
}

func (s binarySensorStrategy) Parse(string) (bool, error) {
	return false, ErrReadOnly
}

func (s binarySensorStrategy) Event(desc Description, value bool) domain.SensorUpdateEvent {
	return domain.BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: desc.Id},
		Value:                  value,
	}
}

// Sensor

type sensorStrategy struct {
	readOnly
}

func NewSensor(source Source, desc Description) *FieldView[string] {
	desc.Capability = CapabilitySensor
	return NewFieldView[string](source, desc, sensorStrategy{})
}

func (s sensorStrategy) Project(src Source, desc Description) string {
	raw, ok := src.Get(desc.Key)
	if !ok || raw == nil {
		return ""
	}
	if f, ok := toFloat(raw); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	switch v := raw.(type) {
	case string:
		return v
	case bool:
		return bool2Payload(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (s sensorStrategy) Prepare(Description, string) (coordinator.Value, error) {
	return nil, ErrReadOnly
}

func (s sensorStrategy) Format(value string) string {
	return value
}

func (s sensorStrategy) Parse(string) (string, error) {
	return "", ErrReadOnly
}

func (s sensorStrategy) Event(desc Description, value string) domain.SensorUpdateEvent {
	mixin := domain.SensorUpdateEventMixIn{Id: desc.Id}
	if f, err := strconv.ParseFloat(value, 64); err == nil && desc.UnitOfMeasurement != "" {
		var decimals uint
		if f != math.Trunc(f) {
			decimals = 2
		}
		return domain.FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: mixin,
			Value:                  f,
			Decimals:               decimals,
		}
	}
	return domain.TextSensorUpdateEvent{
		SensorUpdateEventMixIn: mixin,
		Value:                  value,
	}
}

// Truthy projects a raw cached value to a switch state: booleans as is, non-zero numbers,
// and the strings "on" and "true".
func Truthy(raw coordinator.Value) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == PayloadOn || s == "true"
	}
	if f, ok := toFloat(raw); ok {
		return f != 0
	}
	return false
}

func toFloat(raw coordinator.Value) (float64, bool) {
	switch v := raw.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func bool2Payload(value bool) string {
	if value {
		return PayloadOn
	}
	return PayloadOff
}
