package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// EntityGateway is what the HTTP API needs from the bridge.
type EntityGateway interface {
	Health(ctx context.Context) (domain.ActorHealthResponse, error)
	ListEntities(ctx context.Context) ([]domain.EntityState, error)
	GetEntity(ctx context.Context, entityId string) (domain.EntityState, error)
	Command(ctx context.Context, entityId string, value string) (domain.EntityState, error)
}

// ActorGateway answers gateway calls by asking the master actor.
type ActorGateway struct {
	rootContext *actor.RootContext
	masterActor *actor.PID
	timeout     time.Duration
}

func NewActorGateway(rootContext *actor.RootContext, masterActor *actor.PID, timeout time.Duration) *ActorGateway {
	return &ActorGateway{
		rootContext: rootContext,
		masterActor: masterActor,
		timeout:     timeout,
	}
}

// commandReplyGrace lets the reply of a command cancelled at its deadline reach the caller.
const commandReplyGrace = 500 * time.Millisecond

func (g *ActorGateway) timeoutFor(ctx context.Context) time.Duration {
	timeout := g.timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	return timeout
}

func (g *ActorGateway) request(ctx context.Context, msg any) (any, error) {
	timeout := g.timeoutFor(ctx)
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}
	return g.ask(msg, timeout)
}

func (g *ActorGateway) ask(msg any, timeout time.Duration) (any, error) {
	res, err := g.rootContext.RequestFuture(g.masterActor, msg, timeout).Result()
	if errors.Is(err, actor.ErrTimeout) {
		return nil, fmt.Errorf("%T: %w", msg, context.DeadlineExceeded)
	}
	return res, err
}

func (g *ActorGateway) Health(ctx context.Context) (domain.ActorHealthResponse, error) {
	res, err := g.request(ctx, domain.ActorHealthRequest{})
	if err != nil {
		return domain.ActorHealthResponse{}, err
	}
	resp, ok := res.(domain.ActorHealthResponse)
	if !ok {
		return domain.ActorHealthResponse{}, fmt.Errorf("unexpected health response %T", res)
	}
	return resp, nil
}

func (g *ActorGateway) ListEntities(ctx context.Context) ([]domain.EntityState, error) {
	res, err := g.request(ctx, domain.ListEntitiesRequest{})
	if err != nil {
		return nil, err
	}
	resp, ok := res.(domain.ListEntitiesResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected list response %T", res)
	}
	return resp.Entities, resp.GetResponseError()
}

func (g *ActorGateway) GetEntity(ctx context.Context, entityId string) (domain.EntityState, error) {
	res, err := g.request(ctx, domain.GetEntityRequest{EntityId: entityId})
	if err != nil {
		return domain.EntityState{}, err
	}
	resp, ok := res.(domain.GetEntityResponse)
	if !ok {
		return domain.EntityState{}, fmt.Errorf("unexpected get response %T", res)
	}
	return entityOrError(resp.Entity, resp.GetResponseError())
}

func (g *ActorGateway) Command(ctx context.Context, entityId string, value string) (domain.EntityState, error) {
	timeout := g.timeoutFor(ctx)
	if timeout <= 0 {
		return domain.EntityState{}, context.DeadlineExceeded
	}
	// the owner drops or cancels the command at the deadline, so a timed out caller never
	// sees a state it was not told about
	res, err := g.ask(domain.EntityCommandRequest{
		CommandId: uuid.NewString(),
		EntityId:  entityId,
		Payload:   value,
		Deadline:  time.Now().Add(timeout),
	}, timeout+commandReplyGrace)
	if err != nil {
		return domain.EntityState{}, err
	}
	resp, ok := res.(domain.EntityCommandResponse)
	if !ok {
		return domain.EntityState{}, fmt.Errorf("unexpected command response %T", res)
	}
	return entityOrError(resp.Entity, resp.GetResponseError())
}

func entityOrError(entity *domain.EntityState, err error) (domain.EntityState, error) {
	if err != nil {
		return domain.EntityState{}, err
	}
	if entity == nil {
		return domain.EntityState{}, domain.ErrEntityNotFound
	}
	return *entity, nil
}
