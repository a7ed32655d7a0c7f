package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/berfenger/devbridge2mqtt/internal/core/domain"
	"github.com/berfenger/devbridge2mqtt/internal/core/entity"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type commandBody struct {
	Value *string `json:"value"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	api := e.Group("/api")
	api.GET("/entities", s.ListEntitiesHandler)
	api.GET("/entities/:id", s.GetEntityHandler)
	api.POST("/entities/:id/command", s.CommandHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	response, err := s.gateway.Health(c.Request().Context())
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) ListEntitiesHandler(c echo.Context) error {
	entities, err := s.gateway.ListEntities(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, entities)
}

func (s *Server) GetEntityHandler(c echo.Context) error {
	state, err := s.gateway.GetEntity(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) CommandHandler(c echo.Context) error {
	var body commandBody
	if err := c.Bind(&body); err != nil || body.Value == nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "body must be {\"value\": \"...\"}"})
	}
	state, err := s.gateway.Command(c.Request().Context(), c.Param("id"), *body.Value)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

func errorResponse(c echo.Context, err error) error {
	return c.JSON(statusFor(err), errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidOption), errors.Is(err, entity.ErrInvalidPayload), errors.Is(err, entity.ErrReadOnly):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDeviceNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, entity.ErrCommandFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
