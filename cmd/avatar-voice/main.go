// Avatar voice client - streams push-to-talk audio to the avatar backend and
// serves lipsynced replies to the local frontend.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/GriffinCanCode/avatar-voice/internal/app"
	"github.com/GriffinCanCode/avatar-voice/internal/ask"
	"github.com/GriffinCanCode/avatar-voice/internal/capture"
	"github.com/GriffinCanCode/avatar-voice/internal/config"
	"github.com/GriffinCanCode/avatar-voice/internal/metrics"
	"github.com/GriffinCanCode/avatar-voice/internal/server"
	"github.com/GriffinCanCode/avatar-voice/internal/transport"
	"github.com/GriffinCanCode/avatar-voice/internal/voice"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	closeLog := setupLogging(cfg)
	defer closeLog()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	mic := capture.NewDevice(cfg.SampleRate, cfg.ExcludedAudioDevices)
	device := voice.DeviceFunc(func(ctx context.Context) (voice.Capture, error) {
		c, err := mic.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		slog.Info("microphone acquired", "device", c.Name())
		return c, nil
	})

	dialer := transport.NewDialer(cfg.ReadLimitBytes)
	voiceURL := cfg.VoiceURL()
	channels := voice.DialerFunc(func(ctx context.Context) (voice.Channel, error) {
		conn, err := dialer.Dial(ctx, voiceURL)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})

	asker := ask.New(cfg.AskURL(), cfg.AskTimeout, cfg.AskMaxRetries, ask.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := app.New(ctx, device, channels, asker, app.Options{
		Voice: voice.Options{
			Encoding:      cfg.CaptureEncoding,
			ChunkInterval: cfg.ChunkInterval,
			EndTimeout:    cfg.EndTimeout,
		},
		QueueSize: cfg.QueueSize,
		Metrics:   m,
	})

	srv := server.New(ctx, a, reg)

	// No WriteTimeout: /ws connections are long lived.
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("avatar voice client starting", "config", cfg.String(), "voice", voiceURL)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	a.Close()
	cancel()
	slog.Info("shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Load()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs the default slog logger, teeing into a rotated file
// when LOG_FILE is set.
func setupLogging(cfg *config.Config) func() {
	level, _ := cfg.SlogLevel()
	var out io.Writer = os.Stdout
	closer := func() {}
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
		}
		out = io.MultiWriter(os.Stdout, lj)
		closer = func() { _ = lj.Close() }
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return closer
}
