// @title        Machine Control API
// @version      1.0
// @description  Real-time machine state synchronization over websockets.
// @host         localhost:8000
// @BasePath     /
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "machine_control/docs"
	"machine_control/internal/config"
	"machine_control/internal/handlers"
	"machine_control/internal/logger"
	"machine_control/internal/sensor"
	"machine_control/internal/server"
	"machine_control/internal/service"

	"github.com/spf13/pflag"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// load .env, configs/config.yml, MACHINE_* env and flags
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// init logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = log.Sync() }()

	// temperature source; a missing credential is fatal before we listen
	source, closeSource, err := newTemperatureSource(cfg, log)
	if err != nil {
		log.Fatalw("failed to init temperature source", "source", cfg.Temperature.Source, "err", err)
	}
	defer closeSource()

	// wire dependencies
	manager := service.NewControlManager(cfg.InitialState(), log,
		service.WithSendTimeout(cfg.Machine.SendTimeout),
		service.WithTemperatureJitter(cfg.Machine.Jitter),
	)
	services := service.NewService(manager, source, log, service.WithFetchTimeout(cfg.Temperature.FetchTimeout))
	apiHandler := handlers.NewHandler(services, log, handlerOptions(cfg))

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// start temperature feed (via composed service)
	go services.TemperatureFeed.Run(ctx, cfg.Temperature.Interval)

	// start HTTP server
	srv := server.New(cfg.Port, apiHandler.InitRoutes())
	runHTTPServer(srv, log)
	log.Infow("server_started", "addr", srv.Addr(), "temperature_source", source.Name())

	// graceful shutdown
	waitForShutdown(cancel, srv, manager, log)
}

// newTemperatureSource builds the configured source, wrapped with the
// fallback estimate unless disabled. The returned func releases it.
func newTemperatureSource(cfg *config.Config, log *logger.Logger) (service.TemperatureSource, func(), error) {
	var (
		src     sensor.Source
		release = func() {}
	)

	switch cfg.Temperature.Source {
	case config.SourceWeather:
		w, err := sensor.NewWeatherSource(sensor.WeatherConfig{
			APIKey:    cfg.Temperature.Weather.APIKey,
			BaseURL:   cfg.Temperature.Weather.URL,
			Latitude:  cfg.Temperature.Weather.Latitude,
			Longitude: cfg.Temperature.Weather.Longitude,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		src = w
	case config.SourceModbus:
		m, err := sensor.NewModbusSource(sensor.ModbusConfig{
			Endpoint: cfg.Temperature.Modbus.Endpoint,
			UnitID:   cfg.Temperature.Modbus.UnitID,
			Address:  cfg.Temperature.Modbus.Address,
			Register: cfg.Temperature.Modbus.Register,
			Scale:    cfg.Temperature.Modbus.Scale,
			Signed:   cfg.Temperature.Modbus.Signed,
			Timeout:  cfg.Temperature.Modbus.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		src = m
		release = func() { _ = m.Close() }
	default:
		src = sensor.NewSimulatedSource(nil)
	}

	if cfg.Temperature.Fallback {
		src = sensor.NewFallbackSource(src, nil, log)
	}
	return src, release, nil
}

func handlerOptions(cfg *config.Config) handlers.Options {
	return handlers.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		MaxMessageBytes:  cfg.WebSocket.MaxMessageBytes,
		UpdatesPerSecond: cfg.WebSocket.UpdatesPerSecond,
		UpdateBurst:      cfg.WebSocket.UpdateBurst,
		PingPeriod:       cfg.WebSocket.PingPeriod,
		PongWait:         cfg.WebSocket.PongWait,
		WriteWait:        cfg.Machine.SendTimeout,
	}
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, log *logger.Logger) {
	go func() {
		if err := srv.Run(); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, manager *service.ControlManager, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}

	// websocket connections are hijacked, so Shutdown does not reach them
	manager.Close()
}
