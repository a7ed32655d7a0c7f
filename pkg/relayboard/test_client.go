package relayboard

import (
	"errors"
	"sync"
	"time"
)

func CreateTestRelayBoardReader(coils uint16) *TestRelayBoardReader {
	return &TestRelayBoardReader{
		coils: make([]bool, coils),
	}
}

type TestRelayBoardReader struct {
	mu     sync.Mutex
	coils  []bool
	opened bool
	err    error
	delay  time.Duration
}

func (b *TestRelayBoardReader) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = true
	return nil
}

func (b *TestRelayBoardReader) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = false
	return nil
}

func (b *TestRelayBoardReader) SetError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// SetReadDelay makes every following ReadCoils call block for d.
func (b *TestRelayBoardReader) SetReadDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
}

func (b *TestRelayBoardReader) CoilCount() uint16 {
	return uint16(len(b.coils))
}

func (b *TestRelayBoardReader) ReadCoils() ([]bool, error) {
	b.mu.Lock()
	delay := b.delay
	b.mu.Unlock()
	time.Sleep(delay)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return append([]bool(nil), b.coils...), nil
}

func (b *TestRelayBoardReader) WriteCoil(index uint16, value bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if int(index) >= len(b.coils) {
		return errors.New("coil out of range")
	}
	b.coils[index] = value
	return nil
}

// ensure interface compliance
var _ RelayBoardReader = (*TestRelayBoardReader)(nil)
