package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel    zapcore.Level
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Tessie      TessieConfig      `mapstructure:"tessie"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	RelayBoard  RelayBoardConfig  `mapstructure:"relay_board"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	History     HistoryConfig     `mapstructure:"history"`
	Port        uint              `mapstructure:"port"`
	HttpLog     bool              `mapstructure:"http_log"`
}

type TessieConfig struct {
	Enable             bool
	BaseURL            string   `mapstructure:"base_url"`
	AccessToken        string   `mapstructure:"access_token"`
	Vins               []string `mapstructure:"vins"` // empty: every vehicle of the account
	PollIntervalMillis uint32   `mapstructure:"poll_interval_millis"`
	TimeoutMillis      uint32   `mapstructure:"timeout_millis"`
}

type GatewayConfig struct {
	Enable             bool
	ControlURL         string `mapstructure:"control_url"`
	ServiceType        string `mapstructure:"service_type"`
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
	TimeoutMillis      uint32 `mapstructure:"timeout_millis"`
}

type RelayBoardConfig struct {
	Enable             bool
	Host               string
	Port               uint
	UnitId             uint   `mapstructure:"unit_id"`
	BaseAddress        uint16 `mapstructure:"base_address"`
	Coils              uint16
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
	TimeoutMillis      uint32 `mapstructure:"timeout_millis"`
}

type CoordinatorConfig struct {
	CommandTimeoutMillis uint32  `mapstructure:"command_timeout_millis"`
	BackoffInitialMillis uint32  `mapstructure:"backoff_initial_millis"`
	BackoffMaxMillis     uint32  `mapstructure:"backoff_max_millis"`
	BackoffMultiplier    float64 `mapstructure:"backoff_multiplier"`
}

type HistoryConfig struct {
	Enable      bool
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

type MQTTConfig struct {
	Host                     string
	Port                     int
	Username                 string
	Password                 string
	BaseTopic                string `mapstructure:"base_topic"`
	HADiscoveryEnable        bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic         string `mapstructure:"ha_discovery_topic"`
	HADiscoveryRepublishCron string `mapstructure:"ha_discovery_republish_cron"`
}

func Millis(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// Check validates bounds and that at least one device is configured.
func (cfg *Config) Check() error {
	if !cfg.Tessie.Enable && !cfg.Gateway.Enable && !cfg.RelayBoard.Enable {
		return errors.New("no device configured. enable at least one of tessie, gateway or relay_board")
	}
	if cfg.Tessie.Enable {
		if cfg.Tessie.AccessToken == "" {
			return errors.New("config param tessie.access_token is required")
		}
		if cfg.Tessie.PollIntervalMillis < 10000 {
			return errors.New("config param tessie.poll_interval_millis should be >= 10000")
		}
	}
	if cfg.Gateway.Enable {
		if cfg.Gateway.ControlURL == "" {
			return errors.New("config param gateway.control_url is required")
		}
		if cfg.Gateway.PollIntervalMillis < 1000 {
			return errors.New("config param gateway.poll_interval_millis should be >= 1000")
		}
	}
	if cfg.RelayBoard.Enable {
		if cfg.RelayBoard.Host == "" {
			return errors.New("config param relay_board.host is required")
		}
		if cfg.RelayBoard.Coils == 0 || cfg.RelayBoard.Coils > 64 {
			return errors.New("config param relay_board.coils should be between 1 and 64")
		}
		if cfg.RelayBoard.PollIntervalMillis < 500 {
			return errors.New("config param relay_board.poll_interval_millis should be >= 500")
		}
	}
	if cfg.Coordinator.BackoffInitialMillis == 0 || cfg.Coordinator.BackoffMaxMillis < cfg.Coordinator.BackoffInitialMillis {
		return errors.New("config param coordinator.backoff_max_millis must be >= coordinator.backoff_initial_millis > 0")
	}
	if cfg.Coordinator.BackoffMultiplier < 1 {
		return errors.New("config param coordinator.backoff_multiplier should be >= 1")
	}
	if cfg.Coordinator.CommandTimeoutMillis < 1000 {
		return errors.New("config param coordinator.command_timeout_millis should be >= 1000")
	}
	if cfg.History.Enable && (cfg.History.URL == "" || cfg.History.Bucket == "") {
		return errors.New("config params history.url and history.bucket are required")
	}
	return nil
}
