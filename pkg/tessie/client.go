package tessie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL = "https://api.tessie.com"
)

var ErrCommandRejected = errors.New("vehicle rejected command")

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type vehiclesResponse struct {
	Results []struct {
		VIN       string `json:"vin"`
		LastState struct {
			DisplayName string `json:"display_name"`
		} `json:"last_state"`
	} `json:"results"`
}

type commandResponse struct {
	Result bool `json:"result"`
}

func CreateClient(baseURL string, accessToken string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, errors.New("tessie access token is required")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}

	// bearer token on every request
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = timeout

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With(zap.String("client", "tessie")),
	}, nil
}

func (c *Client) ListVehicles(ctx context.Context) ([]Vehicle, error) {
	var resp vehiclesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/vehicles", url.Values{"only_active": {"false"}}, &resp); err != nil {
		return nil, err
	}
	vehicles := make([]Vehicle, 0, len(resp.Results))
	for _, r := range resp.Results {
		vehicles = append(vehicles, Vehicle{
			VIN:         r.VIN,
			DisplayName: r.LastState.DisplayName,
		})
	}
	return vehicles, nil
}

func (c *Client) GetState(ctx context.Context, vin string) (State, error) {
	var raw map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/"+url.PathEscape(vin)+"/state", url.Values{"use_cache": {"true"}}, &raw); err != nil {
		return nil, err
	}
	return Flatten(raw), nil
}

func (c *Client) Command(ctx context.Context, vin string, cmd Command) error {
	return c.command(ctx, vin, cmd, url.Values{})
}

func (c *Client) SetSeatHeat(ctx context.Context, vin string, seat Seat, level int) error {
	if level < SeatHeaterLevelOff || level > SeatHeaterLevelHigh {
		return fmt.Errorf("seat heater level %d out of range", level)
	}
	return c.command(ctx, vin, commandSetSeatHeat, url.Values{
		"seat":  {string(seat)},
		"level": {strconv.Itoa(level)},
	})
}

func (c *Client) command(ctx context.Context, vin string, cmd Command, params url.Values) error {
	params.Set("wait_for_completion", "true")
	var resp commandResponse
	path := "/" + url.PathEscape(vin) + "/command/" + string(cmd)
	if err := c.doJSON(ctx, http.MethodPost, path, params, &resp); err != nil {
		return err
	}
	if !resp.Result {
		return fmt.Errorf("%w: %s", ErrCommandRejected, cmd)
	}
	c.logger.Debug("command completed", zap.String("vin", vin), zap.String("command", string(cmd)))
	return nil
}

func (c *Client) doJSON(ctx context.Context, method string, path string, params url.Values, dest any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	c.logger.Debug("request", zap.String("method", method), zap.String("path", path),
		zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// ensure interface compliance
var _ VehicleClient = (*Client)(nil)
