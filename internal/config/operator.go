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

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"sigs.k8s.io/yaml"
)

// EnvPrefix is the prefix of environment variables overriding operator options,
// e.g. FLINK_OPERATOR_WATCH_NAMESPACE.
const EnvPrefix = "FLINK_OPERATOR"

// Viper keys of the operator options.
const (
	KeyMetricsAddr             = "metrics-addr"
	KeyProbeAddr               = "health-probe-addr"
	KeyEnableLeaderElection    = "enable-leader-election"
	KeyLeaderElectionID        = "leader-election-id"
	KeyWatchNamespace          = "watch-namespace"
	KeyMaxConcurrentReconciles = "max-concurrent-reconciles"
	KeyEnableWebhooks          = "enable-webhooks"
	KeyReconcileInterval       = "reconcile-interval"
	KeyProgressCheckInterval   = "progress-check-interval"
	KeyReconcileTimeout        = "reconcile-timeout"
	KeyRestTimeout             = "rest-timeout"
	KeyTotalShards             = "total-shards"
	KeyPodName                 = "pod-name"
	KeyFlinkConfFile           = "flink-conf-file"
)

// OperatorConfig holds the operator wide options.
type OperatorConfig struct {
	MetricsAddr             string
	ProbeAddr               string
	EnableLeaderElection    bool
	LeaderElectionID        string
	WatchNamespace          string
	MaxConcurrentReconciles int
	EnableWebhooks          bool

	// Requeue interval of resources in a steady state.
	ReconcileInterval time.Duration
	// Requeue interval while a cluster is starting up.
	ProgressCheckInterval time.Duration
	// Upper bound of a single reconciliation.
	ReconcileTimeout time.Duration
	// Timeout of job manager REST calls.
	RestTimeout time.Duration

	TotalShards int
	PodName     string

	// Flink configuration applied to every resource before its own overrides.
	FlinkConfiguration Configuration
}

// SetDefaults registers the defaults of every operator option.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyMetricsAddr, ":8080")
	v.SetDefault(KeyProbeAddr, ":8081")
	v.SetDefault(KeyEnableLeaderElection, false)
	v.SetDefault(KeyLeaderElectionID, "flink-operator-lock")
	v.SetDefault(KeyWatchNamespace, "")
	v.SetDefault(KeyMaxConcurrentReconciles, 1)
	v.SetDefault(KeyEnableWebhooks, true)
	v.SetDefault(KeyReconcileInterval, "60s")
	v.SetDefault(KeyProgressCheckInterval, "10s")
	v.SetDefault(KeyReconcileTimeout, "2m")
	v.SetDefault(KeyRestTimeout, "10s")
	v.SetDefault(KeyTotalShards, 1)
	v.SetDefault(KeyPodName, "")
	v.SetDefault(KeyFlinkConfFile, "")
}

// DefaultFlinkConfiguration is applied to every resource when no
// flink-conf file overrides it.
func DefaultFlinkConfiguration() Configuration {
	return Configuration{
		NumberOfTaskSlots:          "1",
		SavepointHistoryMaxCount:   "10",
		DeploymentRollbackEnabled:  "false",
		DeploymentReadinessTimeout: "1 min",
	}
}

// NewViper returns a viper instance reading the optional config file and the
// FLINK_OPERATOR_* environment.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
			}
		}
	}
	return v, nil
}

// Load builds the operator config from viper.
func Load(v *viper.Viper) (*OperatorConfig, error) {
	cfg := &OperatorConfig{
		MetricsAddr:             v.GetString(KeyMetricsAddr),
		ProbeAddr:               v.GetString(KeyProbeAddr),
		EnableLeaderElection:    v.GetBool(KeyEnableLeaderElection),
		LeaderElectionID:        v.GetString(KeyLeaderElectionID),
		WatchNamespace:          v.GetString(KeyWatchNamespace),
		MaxConcurrentReconciles: v.GetInt(KeyMaxConcurrentReconciles),
		EnableWebhooks:          v.GetBool(KeyEnableWebhooks),
		ReconcileInterval:       v.GetDuration(KeyReconcileInterval),
		ProgressCheckInterval:   v.GetDuration(KeyProgressCheckInterval),
		ReconcileTimeout:        v.GetDuration(KeyReconcileTimeout),
		RestTimeout:             v.GetDuration(KeyRestTimeout),
		TotalShards:             v.GetInt(KeyTotalShards),
		PodName:                 v.GetString(KeyPodName),
		FlinkConfiguration:      DefaultFlinkConfiguration(),
	}

	if path := v.GetString(KeyFlinkConfFile); path != "" {
		conf, err := LoadFlinkConfFile(path)
		if err != nil {
			return nil, err
		}
		for k, val := range conf {
			cfg.FlinkConfiguration[k] = val
		}
	}

	if cfg.MaxConcurrentReconciles < 1 {
		return nil, fmt.Errorf("%s must be positive, got %d", KeyMaxConcurrentReconciles, cfg.MaxConcurrentReconciles)
	}
	if cfg.ReconcileInterval <= 0 || cfg.ProgressCheckInterval <= 0 {
		return nil, errors.New("reconcile intervals must be positive")
	}
	if cfg.TotalShards < 1 {
		return nil, fmt.Errorf("%s must be positive, got %d", KeyTotalShards, cfg.TotalShards)
	}
	return cfg, nil
}

// LoadFlinkConfFile reads a flink-conf.yaml file. Keys are kept verbatim.
func LoadFlinkConfFile(path string) (Configuration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flink conf %s: %w", path, err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("failed to parse flink conf %s: %w", path, err)
	}
	conf := make(Configuration, len(values))
	for k, v := range values {
		conf[k] = fmt.Sprint(v)
	}
	return conf, nil
}
