package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/devbridge2mqtt/internal/adapter/actor"
	"github.com/berfenger/devbridge2mqtt/internal/config"
	"github.com/berfenger/devbridge2mqtt/internal/core/actor"
	"github.com/berfenger/devbridge2mqtt/internal/core/platform"
	"github.com/berfenger/devbridge2mqtt/internal/metrics"
	"github.com/berfenger/devbridge2mqtt/internal/server"
	"github.com/berfenger/devbridge2mqtt/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	metrics := metrics.NewMetrics()

	// device clients and setups
	clients, err := platform.CreateClients(cfg, metrics.ModbusInstrument(), logger)
	if err != nil {
		panic(err)
	}
	discoverCtx, cancelDiscover := context.WithTimeout(context.Background(), 30*time.Second)
	setups, err := platform.Configure(discoverCtx, cfg, clients)
	cancelDiscover()
	if err != nil {
		panic(err)
	}
	for _, setup := range setups {
		logger.Info("device configured", zap.String("device", setup.DeviceID()))
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	eventStream := &eventstream.EventStream{}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, setups, eventStream, mqttActorProvider(cfg, metrics, logger),
			historyActorProvider(cfg, logger), metrics, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, server.NewActorGateway(ctx, pid, 10*time.Second), metrics)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => DEVBRIDGE_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("DEVBRIDGE_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("devbridge")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if err := cfg.Check(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func mqttActorProvider(cfg *config.Config, metrics *metrics.Metrics, logger *zap.Logger) actor.MQTTActorProvider {
	return func(eventStream *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, eventStream, metrics, logger)
	}
}

func historyActorProvider(cfg *config.Config, logger *zap.Logger) actor.HistoryActorProvider {
	if !cfg.History.Enable {
		return nil
	}
	// one writer for the whole process, actor restarts reuse it
	writer, closeWriter := adactor.CreateInfluxWriter(&cfg.History, logger)
	return func(eventStream *eventstream.EventStream) *adactor.HistoryActor {
		return adactor.NewHistoryActor(&cfg.History, eventStream, writer, closeWriter, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "devbridge")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("mqtt.ha_discovery_republish_cron", "0 0 * * * *")
	viper.SetDefault("tessie.enable", false)
	viper.SetDefault("tessie.base_url", "https://api.tessie.com")
	viper.SetDefault("tessie.poll_interval_millis", 60000)
	viper.SetDefault("tessie.timeout_millis", 10000)
	viper.SetDefault("gateway.enable", false)
	viper.SetDefault("gateway.service_type", "urn:schemas-upnp-org:service:WANIPConnection:1")
	viper.SetDefault("gateway.poll_interval_millis", 30000)
	viper.SetDefault("gateway.timeout_millis", 2000)
	viper.SetDefault("relay_board.enable", false)
	viper.SetDefault("relay_board.port", 502)
	viper.SetDefault("relay_board.unit_id", 1)
	viper.SetDefault("relay_board.base_address", 0)
	viper.SetDefault("relay_board.coils", 8)
	viper.SetDefault("relay_board.poll_interval_millis", 5000)
	viper.SetDefault("relay_board.timeout_millis", 1000)
	viper.SetDefault("coordinator.command_timeout_millis", 10000)
	viper.SetDefault("coordinator.backoff_initial_millis", 1000)
	viper.SetDefault("coordinator.backoff_max_millis", 300000)
	viper.SetDefault("coordinator.backoff_multiplier", 2)
	viper.SetDefault("history.enable", false)
	viper.SetDefault("history.measurement", "devbridge_state")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	if cfg.Tessie.AccessToken != "" {
		cfg.Tessie.AccessToken = "*redacted*"
	}
	if cfg.History.Token != "" {
		cfg.History.Token = "*redacted*"
	}
	slog.Info("Using", "config", cfg)
}
