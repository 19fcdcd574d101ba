/*
Copyright 2025 Keith McClellan

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

package main

import (
	"flag"
	"os"

	"github.com/spf13/pflag"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/aykay76/msginfra/internal/config"
	"github.com/aykay76/msginfra/internal/controller"
	"github.com/aykay76/msginfra/pkg/infra"
	"github.com/aykay76/msginfra/pkg/kube"
	"github.com/aykay76/msginfra/pkg/render"
)

const version = "0.1.0"

var setupLog = ctrl.Log.WithName("setup")

func init() {
	infra.MustRegisterMetrics(metrics.Registry)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger is not configured yet
		zap.New().Error(err, "invalid environment configuration")
		os.Exit(1)
	}

	opts := zap.Options{}
	opts.BindFlags(flag.CommandLine)
	cfg.BindFlags(pflag.CommandLine)
	cfg.BindManagerFlags(pflag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	opts.Development = opts.Development || cfg.DevLogging
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	if err := cfg.Validate(); err != nil {
		setupLog.Error(err, "invalid configuration")
		os.Exit(1)
	}
	setupLog.Info("Starting address space infrastructure manager", "version", version,
		"namespace", cfg.Namespace, "templateDir", cfg.TemplateDir, "routes", cfg.Routes)

	restConfig, err := kube.LoadConfig(cfg.Kubeconfig)
	if err != nil {
		setupLog.Error(err, "unable to load cluster configuration")
		os.Exit(1)
	}

	scheme := kube.NewScheme()
	mgrOpts := ctrl.Options{
		Scheme: scheme,
		Metrics: metricsserver.Options{
			BindAddress: cfg.MetricsAddr,
		},
		HealthProbeBindAddress: cfg.ProbeAddr,
		LeaderElection:         cfg.LeaderElection,
		LeaderElectionID:       "infra.enmasse.io",
	}
	if cfg.Namespace != "" {
		mgrOpts.Cache = cache.Options{DefaultNamespaces: map[string]cache.Config{cfg.Namespace: {}}}
	}

	mgr, err := ctrl.NewManager(restConfig, mgrOpts)
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	// Unstructured reads bypass the cache, so readiness and teardown polls see live state.
	gateway := infra.NewGateway(mgr.GetClient(), cfg.Namespace, infra.WithRoutes(cfg.Routes))
	engine := infra.NewEngine(gateway, render.NewDirRenderer(cfg.TemplateDir), cfg.EngineOptions()...)

	if err := (&controller.AddressSpaceReconciler{
		Client:   mgr.GetClient(),
		Scheme:   mgr.GetScheme(),
		Recorder: mgr.GetEventRecorderFor("addressspace-controller"),
		Engine:   engine,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "AddressSpace")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
