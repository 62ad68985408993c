/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command confgovd wires the Versioned Configuration Engine's core
// components — the Repository Gateway, Snapshot Reader, Mutation Engine,
// Review State Machine, Promotion Engine, Rollback Engine, and Drift
// Analyzer — into a running process. The HTTP surface and routing are an
// external collaborator's concern and are not implemented here; this
// entrypoint stands up the core and exposes only health/metrics.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/configbutler/confgov/internal/audit"
	cfg "github.com/configbutler/confgov/internal/config"
	confgit "github.com/configbutler/confgov/internal/git"
	"github.com/configbutler/confgov/internal/metrics"
	"github.com/configbutler/confgov/internal/obslog"
	"github.com/configbutler/confgov/internal/registry"
	"github.com/configbutler/confgov/internal/review"
	"github.com/configbutler/confgov/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	config, err := cfg.ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	log, err := obslog.New(config.Dev)
	if err != nil {
		os.Exit(1)
	}
	setupLog := log.WithName("setup")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = obslog.Into(ctx, log)

	registry_ := prometheus.NewRegistry()
	shutdownMetrics, err := metrics.InitOTLPExporter(ctx, registry_)
	if err != nil {
		setupLog.Error(err, "unable to initialize metrics exporter")
		os.Exit(1)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	metadataStore, err := store.Open(config.DBPath)
	if err != nil {
		setupLog.Error(err, "unable to open metadata store", "path", config.DBPath)
		os.Exit(1)
	}
	defer func() { _ = metadataStore.Close() }()

	gateway, err := confgit.NewGateway(ctx, config.RepoPath, confgit.ServiceIdentity{
		Name:  config.CommitterName,
		Email: config.CommitterEmail,
	}, log)
	if err != nil {
		setupLog.Error(err, "unable to open configuration repository", "path", config.RepoPath)
		os.Exit(1)
	}

	snapshot := confgit.NewSnapshot(gateway)
	mutation := confgit.NewMutation(gateway)
	promotion := confgit.NewPromotion(gateway)
	rollback := confgit.NewRollback(gateway)
	drift := confgit.NewDrift(gateway)

	sink := audit.NewSQLSink(metadataStore)
	reviewEngine := review.New(metadataStore, mutation, promotion, rollback, sink)
	dependents := registry.New(metadataStore)

	// core is not referenced directly by this entrypoint's health surface,
	// but constructing it here proves the full wiring compiles and starts
	// cleanly; an HTTP layer built against this package would hold the
	// same handles.
	_ = snapshot
	_ = drift
	_ = reviewEngine
	_ = dependents

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry_, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(config.MetricsPort),
		Handler: mux,
	}

	go func() {
		setupLog.Info("starting metrics server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			setupLog.Error(err, "problem running metrics server")
			os.Exit(1)
		}
	}()

	setupLog.Info("configuration governance core ready", "repo", config.RepoPath, "db", config.DBPath)

	<-ctx.Done()
	setupLog.Info("shutting down")
	_ = server.Shutdown(context.Background())
}
