package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"govee-gateway/internal/ble"
	"govee-gateway/internal/config"
	"govee-gateway/internal/decoder"
	"govee-gateway/internal/httpapi"
	"govee-gateway/internal/kafka"
	"govee-gateway/internal/metrics"
	"govee-gateway/internal/mqtt"
	"govee-gateway/internal/scanner"
	"govee-gateway/internal/storage"
	"govee-gateway/internal/telemetry"
)

func Run(ctx context.Context, cfg config.Config) error {
	return run(ctx, cfg, newRadio(cfg))
}

func newRadio(cfg config.Config) scanner.Radio {
	logger := slog.Default().With(slog.String("component", "ble"))
	if cfg.BLEBackend == config.BackendHCI {
		return ble.NewHCIRadio(cfg.BLEHCIIndex, logger)
	}
	return ble.NewBlueZRadio(cfg.BLEAdapter, logger)
}

func run(parent context.Context, cfg config.Config, radio scanner.Radio) error {
	// ctx also ends when the HTTP server fails, so every goroutine below
	// winds down on either path.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	slog.Info("initializing gateway",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"bleBackend", cfg.BLEBackend,
		"bleAdapter", cfg.BLEAdapter,
		"scanWindow", cfg.ScanWindow,
		"scanRestartDelay", cfg.ScanRestartDelay,
		"namePrefix", cfg.Layout.NamePrefix,
		"dedupWindow", cfg.DedupWindow,
		"mqttEnabled", cfg.MQTTEnabled,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"kafkaBrokers", cfg.KafkaBrokers,
		"kafkaTopic", cfg.KafkaTopic,
		"sqlitePath", cfg.SQLitePath,
	)

	m := metrics.New()
	sinks := []ble.Sink{
		ble.LogSink{Logger: slog.Default()},
		m,
	}

	var repo storage.Repository
	if cfg.StorageEnabled() {
		dbConn, err := storage.Open(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := storage.Close(dbConn); closeErr != nil {
				slog.Error("db close", "error", closeErr)
			}
		}()
		if _, err := storage.Migrate(ctx, dbConn, slog.Default()); err != nil {
			return err
		}
		slog.Info("database ready", "path", cfg.SQLitePath)
		repo = storage.NewRepository(dbConn)
		sinks = append(sinks, storage.Sink{Repo: repo})
	}

	var mqttClient *mqtt.Client
	if cfg.MQTTEnabled {
		c, err := mqtt.NewClient(cfg, slog.Default().With(slog.String("component", "mqtt")))
		if err != nil {
			return err
		}
		mqttClient = c
		defer mqttClient.Disconnect()
		sinks = append(sinks, mqttClient)
	}

	if len(cfg.KafkaBrokers) > 0 {
		p, err := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, slog.Default())
		if err != nil {
			return err
		}
		defer func() {
			if err := p.Close(); err != nil {
				slog.Error("kafka close", "error", err)
			}
		}()
		sinks = append(sinks, p)
	}

	handler := ble.NewHandler(ble.HandlerOptions{
		Logger:      slog.Default(),
		DedupWindow: cfg.DedupWindow,
		OnDrop:      func(_ decoder.Reading) { m.ObserveDrop() },
		OnSinkError: func(sink string, _ error) { m.ObserveSinkError(sink) },
	}, sinks...)

	status := newStatusReporter(mqttClient)

	sc := scanner.New(radio, scanner.Options{
		Window:       cfg.ScanWindow,
		RestartDelay: cfg.ScanRestartDelay,
		Layout:       cfg.Layout,
		OnReading: func(r decoder.Reading) {
			m.ObserveReading(r)
			handler.HandleReading(r)
		},
		OnReject: func(a decoder.Advertisement, err error) {
			m.ObserveReject(err)
			handler.HandleReject(a, err)
		},
		OnPhase: func(p scanner.Phase) {
			m.SetPhase(p)
			status.notify()
		},
		OnFailure: func(error) { m.ObserveScanFailure() },
		Logger:    slog.Default(),
	})
	status.source = sc

	go handler.Run(ctx)
	go status.run(ctx)

	if mqttClient != nil {
		// Republish the retained status over the broker's offline will after
		// every (re)connect.
		mqttClient.OnConnect(status.notify)
		go func() {
			// Connect keeps retrying until ctx is done.
			if err := mqttClient.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("mqtt connect failed (continuing without mqtt)", "error", err)
			}
		}()
	}

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		if err := sc.Run(ctx); err != nil {
			slog.Warn("ble scanner could not be started; gateway continues without BLE",
				"error", err,
			)
		}
	}()

	var (
		srv   *http.Server
		errCh = make(chan error, 1)
	)
	if cfg.HTTPAddr != "" {
		mux := httpapi.NewMux(httpapi.Deps{Scanner: sc, Repo: repo, Metrics: m})
		srv = httpapi.NewServer(cfg, mux)
		go func() {
			slog.Info("http listening", "addr", cfg.HTTPAddr)
			errCh <- srv.ListenAndServe()
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	slog.Info("gateway shutting down")
	cancel()
	<-scanDone
	sc.Stop()
	if c, ok := radio.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("ble close", "error", err)
		}
	}

	if srv != nil && runErr == nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		slog.Info("http shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	if runErr != nil {
		return runErr
	}
	return parent.Err()
}

// statusReporter publishes the retained scanner status after phase changes.
// Notifications coalesce: only the newest snapshot is sent.
type statusReporter struct {
	client *mqtt.Client
	source interface{ Session() scanner.Session }
	kick   chan struct{}
}

func newStatusReporter(c *mqtt.Client) *statusReporter {
	return &statusReporter{client: c, kick: make(chan struct{}, 1)}
}

func (s *statusReporter) notify() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *statusReporter) run(ctx context.Context) {
	if s.client == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		}
		if !s.client.IsConnected() {
			continue
		}
		st := telemetry.StatusFromSession(s.source.Session(), time.Now())
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.client.PublishStatus(pubCtx, st); err != nil {
			slog.Warn("mqtt status publish failed", "error", err)
		}
		cancel()
	}
}
