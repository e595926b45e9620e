// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biokey.
//
// go-biokey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-biokey/internal/config"
	"github.com/jeremyhahn/go-biokey/pkg/health"
	"github.com/jeremyhahn/go-biokey/pkg/keystore/software"
	"github.com/jeremyhahn/go-biokey/pkg/lifecycle"
	"github.com/jeremyhahn/go-biokey/pkg/logging"
	"github.com/jeremyhahn/go-biokey/pkg/metrics"
	"github.com/jeremyhahn/go-biokey/pkg/sensor/virtual"
	"github.com/jeremyhahn/go-biokey/pkg/storage"
	"github.com/jeremyhahn/go-biokey/pkg/storage/badger"
	"github.com/jeremyhahn/go-biokey/pkg/storage/file"
)

// runtime is the object graph behind every command: one storage backend
// shared by the key store and the virtual sensor.
type runtime struct {
	cfg       *config.Config
	logger    *logging.Logger
	storage   storage.Backend
	sensor    *virtual.Sensor
	store     *software.Store
	lifecycle *lifecycle.Lifecycle
	health    *health.Checker
	metrics   *http.Server
}

// newRuntime builds the runtime for cfg.
func newRuntime(cfg *config.Config) (*runtime, error) {
	logger, err := logging.New(cfg.LoggerConfig())
	if err != nil {
		return nil, err
	}

	backend, err := newStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage backend: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger, storage: backend}

	rt.sensor, err = virtual.New(&virtual.Config{
		Storage:           backend,
		Capabilities:      cfg.Capabilities(),
		HardwareDetected:  cfg.Sensor.Hardware,
		PermissionGranted: cfg.Environment.PermissionGranted,
		LockScreenSecure:  cfg.Environment.LockScreenSecure,
		LockoutAttempts:   cfg.Sensor.LockoutAttempts,
		LockoutWindow:     cfg.Sensor.LockoutWindow,
		Logger:            logger.With("component", "sensor"),
	})
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to create sensor: %w", err)
	}

	rt.store, err = software.New(&software.Config{
		Storage:    backend,
		KeySize:    cfg.KeyStore.KeySize,
		Password:   cfg.Password(),
		Enrollment: rt.sensor,
		Logger:     logger.With("component", "keystore"),
	})
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to create key store: %w", err)
	}
	rt.sensor.SetAuthorizer(rt.store)

	rt.lifecycle, err = lifecycle.New(&lifecycle.Config{
		Store:   rt.store,
		Logger:  logger.With("component", "lifecycle"),
		Metrics: cfg.Metrics.Enabled,
	})
	if err != nil {
		_ = rt.store.Close()
		return nil, err
	}

	rt.health = health.NewChecker(nil)
	rt.health.Register(health.CheckStorage, health.StorageCheck(backend))
	health.RegisterEnvironment(rt.health, rt.sensor)
	rt.health.Register(health.CheckKey, health.KeyCheck(rt.store, cfg.KeyAlias()))

	if cfg.Metrics.Enabled {
		rt.startMetrics()
	}
	return rt, nil
}

func newStorage(cfg *config.Config) (storage.Backend, error) {
	switch strings.ToLower(cfg.KeyStore.Backend) {
	case config.BackendMemory:
		return storage.NewMemory(), nil
	case config.BackendFile:
		return file.New(cfg.KeyStore.Path)
	case config.BackendBadger:
		return badger.New(badger.Config{Dir: cfg.KeyStore.Path, SyncWrites: true})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.KeyStore.Backend)
	}
}

// startMetrics serves /metrics and /healthz for the lifetime of the command.
func (rt *runtime) startMetrics() {
	metrics.Enable()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", rt.serveHealth)

	rt.metrics = &http.Server{
		Addr:              rt.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	rt.logger.Info("Starting metrics server", "address", rt.cfg.Metrics.Listen)
	go func() {
		if err := rt.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error(fmt.Errorf("metrics server: %w", err))
		}
	}()
}

// Close releases the key store, which closes the storage.
func (rt *runtime) Close() error {
	if rt.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.metrics.Shutdown(ctx)
	}
	return rt.store.Close()
}

func (rt *runtime) serveHealth(w http.ResponseWriter, r *http.Request) {
	results := rt.health.Run(r.Context())
	status := health.AggregateStatus(results)

	w.Header().Set("Content-Type", "application/json")
	if status == health.StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": results,
	})
}
