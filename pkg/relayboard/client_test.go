package relayboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordTimer(t *testing.T) {

	var names []string
	inst := []ModbusInstrument{{
		RecordTime: func(fnName string, _ time.Duration) {
			names = append(names, fnName)
		},
	}}

	RecordTimer("ReadCoils", inst)()
	RecordTimer("WriteCoil", nil)()

	assert.Equal(t, []string{"ReadCoils"}, names)
}

func TestCreateRelayBoardReader(t *testing.T) {

	reader, err := CreateRelayBoardReader("127.0.0.1", 502, 1, 16, 4, time.Second, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(4), reader.CoilCount())

	// rejected before touching the wire
	err = reader.WriteCoil(4, true)
	assert.Error(t, err)
}

func TestTestRelayBoardReader(t *testing.T) {

	board := CreateTestRelayBoardReader(2)
	require.NoError(t, board.WriteCoil(1, true))

	coils, err := board.ReadCoils()
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, coils)
}
