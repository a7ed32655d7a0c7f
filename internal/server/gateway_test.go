package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/core/entity"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubMaster(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: true})
	case domain.ListEntitiesRequest:
		ctx.Respond(domain.ListEntitiesResponse{Entities: []domain.EntityState{{Id: "a"}}})
	case domain.GetEntityRequest:
		if msg.EntityId != "a" {
			ctx.Respond(domain.GetEntityResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: domain.ErrEntityNotFound}})
			return
		}
		ctx.Respond(domain.GetEntityResponse{Entity: &domain.EntityState{Id: "a", State: entity.PayloadOff}})
	case domain.EntityCommandRequest:
		if msg.EntityId == "slow" {
			return
		}
		if msg.Deadline.IsZero() || time.Until(msg.Deadline) > time.Second {
			ctx.Respond(domain.EntityCommandResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: errors.New("bad deadline")}})
			return
		}
		ctx.Respond(domain.EntityCommandResponse{CommandId: msg.CommandId, Entity: &domain.EntityState{Id: msg.EntityId, State: msg.Payload}})
	}
}

func TestActorGateway(t *testing.T) {
	as := actor.NewActorSystem()
	defer as.Shutdown()
	pid := as.Root.Spawn(actor.PropsFromFunc(stubMaster))
	gateway := NewActorGateway(as.Root, pid, time.Second)
	ctx := context.Background()

	health, err := gateway.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy)

	list, err := gateway.ListEntities(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	state, err := gateway.GetEntity(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, entity.PayloadOff, state.State)

	_, err = gateway.GetEntity(ctx, "b")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)

	state, err = gateway.Command(ctx, "a", entity.PayloadOn)
	require.NoError(t, err)
	assert.Equal(t, entity.PayloadOn, state.State)
}

func TestActorGatewayTimeout(t *testing.T) {
	as := actor.NewActorSystem()
	defer as.Shutdown()
	pid := as.Root.Spawn(actor.PropsFromFunc(stubMaster))
	gateway := NewActorGateway(as.Root, pid, 100*time.Millisecond)

	_, err := gateway.Command(context.Background(), "slow", entity.PayloadOn)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	_, err = gateway.Health(expired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
