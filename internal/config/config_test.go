package config_test

import (
	"testing"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/config"
	"github.com/berfenger/devbridge2mqtt/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMillis(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, config.Millis(1500))
	assert.Equal(t, time.Duration(0), config.Millis(0))
}

func TestCheckMQTTTopic(t *testing.T) {
	topic, err := config.CheckMQTTTopic("DevBridge_1")
	require.NoError(t, err)
	assert.Equal(t, "devbridge_1", topic)

	_, err = config.CheckMQTTTopic("dev/bridge")
	assert.Error(t, err)
	_, err = config.CheckMQTTTopic("")
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	cfg := util.LoadTestConfig()
	require.NoError(t, cfg.Check())

	cases := map[string]func(c *config.Config){
		"no devices": func(c *config.Config) {
			c.Tessie.Enable = false
			c.Gateway.Enable = false
			c.RelayBoard.Enable = false
		},
		"missing token":         func(c *config.Config) { c.Tessie.AccessToken = "" },
		"fast vehicle poll":     func(c *config.Config) { c.Tessie.PollIntervalMillis = 1000 },
		"missing control url":   func(c *config.Config) { c.Gateway.ControlURL = "" },
		"too many coils":        func(c *config.Config) { c.RelayBoard.Coils = 65 },
		"no coils":              func(c *config.Config) { c.RelayBoard.Coils = 0 },
		"backoff max < init":    func(c *config.Config) { c.Coordinator.BackoffMaxMillis = 10 },
		"backoff multiplier":    func(c *config.Config) { c.Coordinator.BackoffMultiplier = 0.5 },
		"short command timeout": func(c *config.Config) { c.Coordinator.CommandTimeoutMillis = 10 },
		"history without url": func(c *config.Config) {
			c.History.Enable = true
			c.History.Bucket = "states"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := util.LoadTestConfig()
			mutate(&c)
			assert.Error(t, c.Check())
		})
	}

	// a single device family is enough
	cfg.Tessie.Enable = false
	cfg.Gateway.Enable = false
	assert.NoError(t, cfg.Check())
}
