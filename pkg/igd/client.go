package igd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/dcps/internetgateway2"
	"github.com/huin/goupnp/soap"
	"go.uber.org/zap"
)

const (
	ServiceWANIPConnection  = internetgateway2.URN_WANIPConnection_1
	ServiceWANPPPConnection = internetgateway2.URN_WANPPPConnection_1

	StatusConnected    = "Connected"
	StatusDisconnected = "Disconnected"
)

var ErrSOAPFault = errors.New("soap fault")

type StatusInfo struct {
	ConnectionStatus    string
	LastConnectionError string
	Uptime              time.Duration
}

type GatewayClient interface {
	GetStatusInfo(ctx context.Context) (*StatusInfo, error)
	GetExternalIPAddress(ctx context.Context) (string, error)
}

// wanConnection is the part of the goupnp WAN connection services the bridge reads.
type wanConnection interface {
	GetStatusInfoCtx(ctx context.Context) (string, string, uint32, error)
	GetExternalIPAddressCtx(ctx context.Context) (string, error)
}

// Client talks to the WAN connection service of an internet gateway device.
type Client struct {
	conn   wanConnection
	logger *zap.Logger
}

// CreateClient binds a goupnp WAN connection client to a known control URL, skipping SSDP discovery.
func CreateClient(controlURL string, serviceType string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(controlURL) == "" {
		return nil, errors.New("gateway control url is required")
	}
	endpoint, err := url.Parse(controlURL)
	if err != nil {
		return nil, fmt.Errorf("gateway control url: %w", err)
	}

	soapClient := soap.NewSOAPClient(*endpoint)
	soapClient.HTTPClient = http.Client{Timeout: timeout}
	serviceClient := goupnp.ServiceClient{SOAPClient: soapClient, Location: endpoint}

	var conn wanConnection
	switch serviceType {
	case "", ServiceWANIPConnection:
		conn = &internetgateway2.WANIPConnection1{ServiceClient: serviceClient}
	case ServiceWANPPPConnection:
		conn = &internetgateway2.WANPPPConnection1{ServiceClient: serviceClient}
	default:
		return nil, fmt.Errorf("unsupported gateway service type %q", serviceType)
	}

	return &Client{
		conn:   conn,
		logger: logger.With(zap.String("client", "igd")),
	}, nil
}

func (c *Client) GetStatusInfo(ctx context.Context) (*StatusInfo, error) {
	status, lastErr, uptime, err := c.conn.GetStatusInfoCtx(ctx)
	if err != nil {
		return nil, c.wrap("GetStatusInfo", err)
	}
	c.logger.Debug("soap call", zap.String("action", "GetStatusInfo"), zap.String("status", status))
	return &StatusInfo{
		ConnectionStatus:    status,
		LastConnectionError: lastErr,
		Uptime:              time.Duration(uptime) * time.Second,
	}, nil
}

func (c *Client) GetExternalIPAddress(ctx context.Context) (string, error) {
	ip, err := c.conn.GetExternalIPAddressCtx(ctx)
	if err != nil {
		return "", c.wrap("GetExternalIPAddress", err)
	}
	return ip, nil
}

func (c *Client) wrap(action string, err error) error {
	var fault *soap.SOAPFaultError
	if errors.As(err, &fault) {
		return fmt.Errorf("%s: %w: %s", action, ErrSOAPFault, fault.FaultString)
	}
	return fmt.Errorf("%s: %w", action, err)
}

// ensure interface compliance
var _ GatewayClient = (*Client)(nil)
var _ wanConnection = (*internetgateway2.WANIPConnection1)(nil)
var _ wanConnection = (*internetgateway2.WANPPPConnection1)(nil)
