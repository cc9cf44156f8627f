package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"i4.energy/across/polectl/dispatch"
	"i4.energy/across/polectl/mirror"
	"i4.energy/across/polectl/modem"
	"i4.energy/across/polectl/pole"
	"i4.energy/across/polectl/pole/modbusio"
	"i4.energy/across/polectl/pole/periphio"
	"i4.energy/across/polectl/pole/simio"
)

func main() {
	configPath := flag.String("config", os.Getenv("POLECTL_CONFIG"), "Path to a YAML configuration file")
	flag.String("serial-port", "/dev/ttyS0", "Serial port to connect to the modem")
	flag.Int("baud-rate", modem.DefaultBaudRate, "Baud rate for serial communication")
	flag.String("bind-address", "127.0.0.1:8080", "Bind address for the maintenance server, empty disables it")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("backend", BackendSim, "Pole hardware backend (sim, periph, modbus)")
	flag.String("report", ReportSMS, "Outbound channel (sms, http)")
	flag.String("power-key", "", "GPIO line driving the modem power key")
	flag.String("mqtt-broker", "", "MQTT broker mirroring every push, empty disables it")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configPath), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bank, closeBank, err := openBank(config)
	if err != nil {
		logger.Error("Failed to open pole backend", "backend", config.Backend, "error", err)
		os.Exit(1)
	}
	defer closeBank.Close()

	builder := modem.NewConfigBuilder().
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		WithLogger(logger.With("component", "modem")).
		WithBufferSize(config.Modem.BufferSize).
		WithAPN(config.Push.APN).
		WithBaseURL(config.Push.BaseURL).
		WithSMSNumber(config.SMS.Number).
		WithRegister(config.SMS.Register).
		WithTiming(config.Modem.Timing)
	if config.Modem.Verify {
		builder = builder.WithVerify(config.Modem.Retries)
	}
	if config.Modem.PowerKey != "" {
		key, err := periphio.NewPowerKey(config.Modem.PowerKey)
		if err != nil {
			logger.Error("Failed to claim power key", "line", config.Modem.PowerKey, "error", err)
			os.Exit(1)
		}
		builder = builder.WithPowerKey(key)
	}
	modemConfig, err := builder.Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	session, err := modem.New(ctx, modemConfig)
	if err != nil {
		logger.Error("Failed to open modem session", "error", err)
		os.Exit(1)
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- session.Loop(ctx) }()

	reporter, err := newReporter(ctx, config, session, logger)
	if err != nil {
		logger.Error("Failed to set up reporting", "error", err)
		os.Exit(1)
	}

	table, _ := config.Table() // validated by LoadConfig
	dispatcher := dispatch.New(session, bank, reporter, dispatch.Options{
		Table:     table,
		Endpoints: config.Endpoints,
		Framing:   config.Framing,
		Window:    config.Window,
		Logger:    logger.With("component", "dispatcher"),
	})
	runner := dispatch.NewRunner(session, dispatcher, config.Runner, logger.With("component", "runner"))

	logger.Info("Starting pole controller",
		"backend", config.Backend, "report", config.Report, "framing", config.Framing, "serial_port", config.SerialPort)

	runDone := make(chan error, 1)
	go func() { runDone <- runner.Run(ctx) }()

	var httpServer *http.Server
	if config.BindAddress != "" {
		httpServer = &http.Server{
			Addr: config.BindAddress,
			Handler: &Server{
				Logger: logger.With("component", "server"),
				Poles:  dispatcher,
				Modem:  session,
			},
		}
		go func() {
			logger.Info("Starting HTTP server", "address", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server failed", "error", err)
				cancel()
			}
		}()
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
	case err := <-loopDone:
		// The serial line went away; nothing more can be done without it.
		logger.Error("Modem receive loop stopped", "error", err)
		exitCode = 1
	case <-ctx.Done():
		exitCode = 1
	}
	cancel()

	if err := <-runDone; err != nil {
		logger.Error("Control loop failed", "error", err)
	}

	logger.Info("Closing modem connection")
	if err := session.Close(); err != nil && !errors.Is(err, modem.ErrAlreadyClosed) {
		logger.Error("Failed to close modem", "error", err)
	}

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		logger.Info("Closing HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to gracefully shutdown server", "error", err)
			exitCode = 1
		}
	}

	if exitCode != 0 {
		closeBank.Close()
		os.Exit(exitCode)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openBank opens the configured pole backend.
func openBank(config *Config) (pole.Bank, io.Closer, error) {
	switch config.Backend {
	case BackendPeriph:
		b, err := periphio.Open(config.Periph)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case BackendModbus:
		b, err := modbusio.Dial(config.Modbus)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case BackendSim:
		return simio.New(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", config.Backend)
	}
}

// newReporter builds the outbound channel and, when a broker is set, wraps
// it in the MQTT mirror.
func newReporter(ctx context.Context, config *Config, session *modem.Session, logger *slog.Logger) (dispatch.Reporter, error) {
	var r dispatch.Reporter
	switch config.Report {
	case ReportHTTP:
		r = dispatch.HTTPReporter{Pusher: session, ErrorEndpoint: config.Endpoints.Error}
	default:
		r = dispatch.SMSReporter{Texter: session}
	}
	if !config.MQTT.Enabled() {
		return r, nil
	}

	mlog := logger.With("component", "mirror")
	cli, err := mirror.Connect(ctx, config.MQTT, mlog)
	if err != nil {
		return nil, err
	}
	return &mirror.Reporter{
		Next:      r,
		Publisher: cli,
		Prefix:    config.MQTT.Prefix,
		QoS:       config.MQTT.QoS,
		Timeout:   config.MQTT.Timeout,
		Logger:    mlog,
	}, nil
}
