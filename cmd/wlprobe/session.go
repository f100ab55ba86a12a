// File: cmd/wlprobe/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/momentics/hioload-wl/control"
	"github.com/momentics/hioload-wl/display"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalFlags struct {
	configPath  string
	display     string
	logLevel    string
	metricsAddr string
}

func (f *globalFlags) bind(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "TOML configuration file")
	pf.StringVarP(&f.display, "display", "d", "", "display name or socket path (overrides WAYLAND_DISPLAY)")
	pf.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// session is an open display with its ambient stack.
type session struct {
	cfg     control.Config
	log     *zap.Logger
	metrics *control.Metrics
	probes  *control.Probes
	display *display.Display
	server  *http.Server
}

// config resolves defaults, file, environment and flags, in that order.
func (f *globalFlags) config() (control.Config, error) {
	cfg := control.DefaultConfig()
	if f.configPath != "" {
		loaded, err := control.LoadConfig(f.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if f.display != "" {
		cfg.Display = f.display
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Listen = f.metricsAddr
	}
	return cfg, cfg.Validate()
}

func (f *globalFlags) open() (*session, error) {
	cfg, err := f.config()
	if err != nil {
		return nil, err
	}
	log, err := control.SetupLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	s := &session{
		cfg:     cfg,
		log:     log,
		metrics: control.NewMetrics(reg, cfg.Metrics.Namespace),
		probes:  control.NewProbes(),
	}
	control.RegisterPlatformProbes(s.probes)

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		s.server = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", cfg.Metrics.Listen))
	}

	d, err := display.Connect(cfg, display.WithLogger(log), display.WithMetrics(s.metrics))
	if err != nil {
		s.close()
		return nil, err
	}
	s.display = d
	d.RegisterProbes(s.probes)
	log.Debug("connected", zap.String("display", cfg.Display))
	return s, nil
}

func (s *session) close() {
	if s.display != nil {
		s.display.Close()
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.server.Shutdown(ctx)
		cancel()
	}
	s.log.Sync()
}
