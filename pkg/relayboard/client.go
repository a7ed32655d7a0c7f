package relayboard

import (
	"fmt"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

type RelayBoardReader interface {
	Open() error
	Close() error
	CoilCount() uint16
	ReadCoils() ([]bool, error)
	WriteCoil(index uint16, value bool) error
}

type ModbusClient struct {
	client     *modbus.ModbusClient
	instrument []ModbusInstrument
}

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

// RelayBoard reads and writes a contiguous block of coils starting at baseAddress.
type RelayBoard struct {
	ModbusClient

	// the modbus client is not safe for concurrent use
	mu          sync.Mutex
	baseAddress uint16
	coils       uint16
}

func (reader *ModbusClient) readCoils(addr uint16, quantity uint16) ([]bool, error) {
	defer RecordTimer("ReadCoils", reader.instrument)()
	return reader.client.ReadCoils(addr, quantity)
}

func (reader *ModbusClient) writeCoil(addr uint16, value bool) error {
	defer RecordTimer("WriteCoil", reader.instrument)()
	return reader.client.WriteCoil(addr, value)
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

func (b *RelayBoard) Open() error {
	return b.client.Open()
}

func (b *RelayBoard) Close() error {
	return b.client.Close()
}

func (b *RelayBoard) CoilCount() uint16 {
	return b.coils
}

func (b *RelayBoard) ReadCoils() ([]bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readCoils(b.baseAddress, b.coils)
}

func (b *RelayBoard) WriteCoil(index uint16, value bool) error {
	if index >= b.coils {
		return fmt.Errorf("coil %d out of range (board has %d)", index, b.coils)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeCoil(b.baseAddress+index, value)
}

func debugLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("modbus call", zap.String("fn", fnName), zap.Int64("millis", readTime.Milliseconds()))
		},
	}
}

func CreateRelayBoardReader(host string, port uint, unitId uint8, baseAddress uint16, coils uint16,
	timeout time.Duration, logger *zap.Logger, instrumentation *ModbusInstrument) (RelayBoardReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	// instrumentation
	var inst []ModbusInstrument
	logInst := debugLoggerInstrumentation(logger.With(zap.String("target", "relay_board"), zap.Uint8("unit", unitId)))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	if unitId > 0 {
		err = client.SetUnitId(unitId)
		if err != nil {
			return nil, err
		}
	}

	return &RelayBoard{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
		baseAddress: baseAddress,
		coils:       coils,
	}, nil
}

// ensure interface compliance
var _ RelayBoardReader = (*RelayBoard)(nil)
