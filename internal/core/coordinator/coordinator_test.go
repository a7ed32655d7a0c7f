package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedFetcher struct {
	snapshots []Snapshot
	errs      []error
	calls     int
}

func (f *scriptedFetcher) Fetch(ctx context.Context) (Snapshot, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.snapshots) {
		return f.snapshots[i], nil
	}
	return f.snapshots[len(f.snapshots)-1], nil
}

func TestRefreshPopulatesSnapshot(t *testing.T) {

	require := require.New(t)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &scriptedFetcher{snapshots: []Snapshot{{"a": 1, "b": "x"}}}
	c := NewDataCoordinator("dev1", f, zap.NewNop(), WithClock(func() time.Time { return now }))

	require.False(c.Available())
	require.True(c.Refresh(context.Background()))
	require.True(c.Available())
	require.NoError(c.LastError())
	require.Equal(now, c.LastUpdate())

	v, ok := c.Get("a")
	require.True(ok)
	require.Equal(1, v)
	require.True(c.Has("b"))
	require.False(c.Has("missing"))
	require.Equal("dev1", c.DeviceID())
}

func TestFailedRefreshKeepsPreviousSnapshot(t *testing.T) {

	require := require.New(t)

	f := &scriptedFetcher{
		snapshots: []Snapshot{{"a": 1}},
		errs:      []error{nil, errors.New("timeout")},
	}
	c := NewDataCoordinator("dev1", f, zap.NewNop())

	require.True(c.Refresh(context.Background()))
	require.False(c.Refresh(context.Background()))

	require.False(c.Available())
	require.ErrorIs(c.LastError(), ErrFetchFailed)
	v, ok := c.Get("a")
	require.True(ok)
	require.Equal(1, v)

	// recovers on next successful poll
	require.True(c.Refresh(context.Background()))
	require.True(c.Available())
	require.NoError(c.LastError())
}

func TestRefreshReplacesOptimisticWrite(t *testing.T) {

	require := require.New(t)

	f := &scriptedFetcher{snapshots: []Snapshot{{"a": false, "b": 1}, {"a": false}}}
	c := NewDataCoordinator("dev1", f, zap.NewNop())

	require.True(c.Refresh(context.Background()))
	c.Set("a", true)
	v, _ := c.Get("a")
	require.Equal(true, v)

	require.True(c.Refresh(context.Background()))
	v, _ = c.Get("a")
	require.Equal(false, v)
	// keys missing from the new poll are gone
	require.False(c.Has("b"))
}

func TestMergeRefreshKeepsMissingKeys(t *testing.T) {

	require := require.New(t)

	f := &scriptedFetcher{snapshots: []Snapshot{{"a": 1, "b": 2}, {"a": 3}}}
	c := NewDataCoordinator("dev1", f, zap.NewNop(), WithMergeRefresh())

	require.True(c.Refresh(context.Background()))
	require.True(c.Refresh(context.Background()))

	require.Equal(Snapshot{"a": 3, "b": 2}, c.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {

	c := NewDataCoordinator("dev1", &scriptedFetcher{snapshots: []Snapshot{{"a": 1}}}, zap.NewNop())
	require.True(t, c.Refresh(context.Background()))

	s := c.Snapshot()
	s["a"] = 99
	v, _ := c.Get("a")
	assert.Equal(t, 1, v)
}

func TestNilSnapshotIsAFailure(t *testing.T) {

	f := FetcherFunc(func(ctx context.Context) (Snapshot, error) { return nil, nil })
	c := NewDataCoordinator("dev1", f, zap.NewNop())

	assert.False(t, c.Refresh(context.Background()))
	assert.ErrorIs(t, c.LastError(), ErrFetchFailed)
}

func TestSubscribersAreNotified(t *testing.T) {

	require := require.New(t)

	f := &scriptedFetcher{
		snapshots: []Snapshot{{"a": 1}},
		errs:      []error{nil, errors.New("down"), errors.New("still down")},
	}
	c := NewDataCoordinator("dev1", f, zap.NewNop())

	var updates []Update
	unsubscribe := c.Subscribe(func(u Update) {
		updates = append(updates, u)
	})

	c.Refresh(context.Background())
	c.Set("a", 2)
	c.Refresh(context.Background())
	// only the transition to unavailable is notified
	c.Refresh(context.Background())

	require.Len(updates, 3)
	require.Equal(UpdateRefresh, updates[0].Reason)
	require.Equal(UpdateOptimistic, updates[1].Reason)
	require.Equal([]FieldKey{"a"}, updates[1].Keys)
	require.Equal(UpdateUnavailable, updates[2].Reason)
	require.Equal("dev1", updates[2].DeviceID)

	unsubscribe()
	c.Set("a", 3)
	require.Len(updates, 3)
}

func TestBackoffIsCapped(t *testing.T) {

	b := Backoff{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, b.Next(0))
	assert.Equal(t, time.Second, b.Next(1))
	assert.Equal(t, 2*time.Second, b.Next(2))
	assert.Equal(t, 8*time.Second, b.Next(4))
	assert.Equal(t, 10*time.Second, b.Next(5))
	assert.Equal(t, 10*time.Second, b.Next(1000))

	flat := Backoff{Initial: time.Second, Max: time.Minute, Multiplier: 0.5}
	assert.Equal(t, time.Second, flat.Next(10))
}
