/*
Copyright 2019 Google LLC.

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
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	v1beta1 "github.com/spotify/flink-deployment-operator/apis/flinkdeployment/v1beta1"
	"github.com/spotify/flink-deployment-operator/controllers/flinkdeployment"
	"github.com/spotify/flink-deployment-operator/internal/config"
	"github.com/spotify/flink-deployment-operator/internal/flink"
	// +kubebuilder:scaffold:imports
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	appsv1.AddToScheme(scheme)
	corev1.AddToScheme(scheme)
	v1beta1.AddToScheme(scheme)
	// +kubebuilder:scaffold:scheme
}

func newRootCommand() *cobra.Command {
	var configFile string
	var zapOptions = zap.Options{Development: true}

	cmd := &cobra.Command{
		Use:          "flink-deployment-operator",
		Short:        "Runs Flink application and session clusters described by FlinkDeployment resources",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOptions)))

			v, err := config.NewViper(configFile)
			if err != nil {
				return err
			}
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			operatorConfig, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(operatorConfig)
		},
	}

	var goFlags = flag.NewFlagSet("zap", flag.ExitOnError)
	zapOptions.BindFlags(goFlags)
	cmd.Flags().AddGoFlagSet(goFlags)

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "Path of the operator config file.")
	flags.String(config.KeyMetricsAddr, ":8080", "The address the metric endpoint binds to.")
	flags.String(config.KeyProbeAddr, ":8081", "The address the health probe endpoint binds to.")
	flags.Bool(config.KeyEnableLeaderElection, false, "Enable leader election for controller manager. Enabling this will ensure there is only one active controller manager.")
	flags.String(config.KeyLeaderElectionID, "flink-operator-lock", "The name that leader election will use for holding the leader lock")
	flags.String(config.KeyWatchNamespace, "", "Watch custom resources in the namespace, ignore other namespaces. If empty, all namespaces will be watched.")
	flags.Int(config.KeyMaxConcurrentReconciles, 1, "The maximum number of concurrent Reconciles which can be run. Defaults to 1.")
	flags.Bool(config.KeyEnableWebhooks, true, "Serve the defaulting and validating webhooks. Disable it when running locally.")
	flags.Duration(config.KeyReconcileTimeout, 0, "Upper bound of a single reconciliation.")
	flags.Duration(config.KeyRestTimeout, 0, "Timeout of job manager REST calls.")
	flags.Int(config.KeyTotalShards, 1, "Number of operator replicas sharing the resources.")
	flags.String(config.KeyPodName, "", "Name of the operator pod, its ordinal suffix is the shard it owns.")
	flags.String(config.KeyFlinkConfFile, "", "Path of a flink-conf.yaml applied to every deployment.")
	return cmd
}

func run(operatorConfig *config.OperatorConfig) error {
	options := ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: operatorConfig.MetricsAddr},
		HealthProbeBindAddress: operatorConfig.ProbeAddr,
		LeaderElection:         operatorConfig.EnableLeaderElection,
		LeaderElectionID:       operatorConfig.LeaderElectionID,
	}
	if operatorConfig.WatchNamespace != "" {
		options.Cache = cache.Options{
			DefaultNamespaces: map[string]cache.Config{operatorConfig.WatchNamespace: {}},
		}
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), options)
	if err != nil {
		return fmt.Errorf("unable to start manager: %w", err)
	}

	sharder, err := flinkdeployment.NewSharderFromPod(operatorConfig.TotalShards, operatorConfig.PodName)
	if err != nil {
		return fmt.Errorf("unable to set up sharding: %w", err)
	}

	var log = ctrl.Log.WithName("controllers").WithName("FlinkDeployment")
	var flinkClient = flink.NewClient(log.WithName("rest"), &http.Client{Timeout: operatorConfig.RestTimeout})
	var flinkService = flink.NewKubernetesService(mgr.GetClient(), flinkClient, log)

	err = flinkdeployment.NewFlinkDeploymentReconciler(
		mgr.GetClient(),
		flinkService,
		config.NewManager(operatorConfig),
		sharder,
		mgr.GetEventRecorderFor("flinkdeployment-controller"),
		nil,
		log,
	).SetupWithManager(mgr, operatorConfig.MaxConcurrentReconciles)
	if err != nil {
		return fmt.Errorf("unable to create controller FlinkDeployment: %w", err)
	}

	if operatorConfig.EnableWebhooks {
		if err = (&v1beta1.FlinkDeployment{}).SetupWebhookWithManager(mgr); err != nil {
			return fmt.Errorf("unable to set up webhooks FlinkDeployment: %w", err)
		}
	}

	// +kubebuilder:scaffold:builder

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up ready check: %w", err)
	}

	setupLog.Info("Starting manager", "shard", sharder.Shard, "totalShards", sharder.TotalShards)
	return mgr.Start(ctrl.SetupSignalHandler())
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		setupLog.Error(err, "Problem running manager")
		os.Exit(1)
	}
}
