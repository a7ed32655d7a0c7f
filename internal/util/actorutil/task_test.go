package actorutil

import (
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type taskResult struct {
	Value string
	Err   error
}

// spawnTask starts the task from inside an actor and collects whatever it pipes back.
func spawnTask(t *testing.T, build func(ctx actor.Context) *SafeBackgroundTask[taskResult]) <-chan taskResult {
	t.Helper()
	as := NewActorSystemWithZapLogger(zap.NewNop())
	t.Cleanup(as.Shutdown)

	out := make(chan taskResult, 1)
	as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case *actor.Started:
			build(ctx).PipeTo(ctx.Self())
		case taskResult:
			out <- msg
		}
	}))
	return out
}

func TestBackgroundTaskPipesResult(t *testing.T) {
	out := spawnTask(t, func(ctx actor.Context) *SafeBackgroundTask[taskResult] {
		return NewBackgroundTaskNoError(ctx, func() *taskResult {
			return &taskResult{Value: "done"}
		}).WithTimeout(time.Second)
	})

	select {
	case res := <-out:
		assert.Equal(t, "done", res.Value)
		assert.NoError(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
	}
}

func TestBackgroundTaskRecoversTimeout(t *testing.T) {
	out := spawnTask(t, func(ctx actor.Context) *SafeBackgroundTask[taskResult] {
		return NewBackgroundTaskNoError(ctx, func() *taskResult {
			time.Sleep(time.Second)
			return &taskResult{Value: "late"}
		}).WithTimeout(50 * time.Millisecond).Recover(func(err error) taskResult {
			return taskResult{Err: err}
		})
	})

	select {
	case res := <-out:
		assert.Empty(t, res.Value)
		assert.Error(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("no recovered result")
	}
}

func TestBackgroundTaskWithoutRecoverDropsNilResult(t *testing.T) {
	out := spawnTask(t, func(ctx actor.Context) *SafeBackgroundTask[taskResult] {
		return NewBackgroundTaskNoError(ctx, func() *taskResult {
			return nil
		})
	})

	select {
	case res := <-out:
		t.Fatalf("unexpected result %v", res)
	case <-time.After(200 * time.Millisecond):
	}
}
