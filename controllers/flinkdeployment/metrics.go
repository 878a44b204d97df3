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

package flinkdeployment

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Outcomes of a reconciliation tick.
const (
	resultSuccess         = "success"
	resultValidationError = "validation_error"
	resultTransientError  = "transient_error"
	resultFatalError      = "fatal_error"
)

var (
	reconcileResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flink_deployment_reconcile_total",
			Help: "Number of FlinkDeployment reconciliation ticks by result.",
		},
		[]string{"result"},
	)

	lifecycleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flink_deployment_lifecycle_transitions_total",
			Help: "Number of persisted lifecycle state transitions.",
		},
		[]string{"from", "to"},
	)

	savepointTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flink_deployment_savepoint_triggers_total",
			Help: "Number of savepoints triggered by type.",
		},
		[]string{"type"},
	)

	savepointResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flink_deployment_savepoint_results_total",
			Help: "Number of savepoint triggers that completed or were abandoned.",
		},
		[]string{"result"},
	)
)

func init() {
	metrics.Registry.MustRegister(reconcileResults, lifecycleTransitions, savepointTriggers, savepointResults)
}
