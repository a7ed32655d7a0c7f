package igd

import (
	"context"
	"sync"
	"time"
)

type TestGatewayClient struct {
	mu         sync.Mutex
	status     StatusInfo
	externalIP string
	err        error
}

func CreateTestGatewayClient() *TestGatewayClient {
	return &TestGatewayClient{
		status: StatusInfo{
			ConnectionStatus:    StatusConnected,
			LastConnectionError: "ERROR_NONE",
			Uptime:              36 * time.Hour,
		},
		externalIP: "203.0.113.7",
	}
}

func (c *TestGatewayClient) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.ConnectionStatus = status
}

func (c *TestGatewayClient) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *TestGatewayClient) GetStatusInfo(_ context.Context) (*StatusInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	status := c.status
	return &status, nil
}

func (c *TestGatewayClient) GetExternalIPAddress(_ context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	return c.externalIP, nil
}

// ensure interface compliance
var _ GatewayClient = (*TestGatewayClient)(nil)
