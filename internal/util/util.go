package util

import (
	"github.com/berfenger/devbridge2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:                     "localhost",
			Port:                     1883,
			BaseTopic:                "devbridge",
			HADiscoveryTopic:         "homeassistant",
			HADiscoveryRepublishCron: "0 0 * * * *",
		},
		Tessie: config.TessieConfig{
			Enable:             true,
			AccessToken:        "test-token",
			PollIntervalMillis: 60000,
			TimeoutMillis:      5000,
		},
		Gateway: config.GatewayConfig{
			Enable:             true,
			ControlURL:         "http://192.168.1.1:5000/ctl/IPConn",
			PollIntervalMillis: 30000,
			TimeoutMillis:      2000,
		},
		RelayBoard: config.RelayBoardConfig{
			Enable:             true,
			Host:               "-.-.-.-",
			Port:               502,
			UnitId:             1,
			Coils:              4,
			PollIntervalMillis: 5000,
			TimeoutMillis:      1000,
		},
		Coordinator: config.CoordinatorConfig{
			CommandTimeoutMillis: 5000,
			BackoffInitialMillis: 100,
			BackoffMaxMillis:     1000,
			BackoffMultiplier:    2,
		},
		Port: 8080,
	}
}
