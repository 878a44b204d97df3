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

// Flink configuration keys read by the operator.
const (
	HighAvailability           = "high-availability"
	HighAvailabilityStorageDir = "high-availability.storageDir"
	JobResultStoreStoragePath  = "job-result-store.storage-path"
	SavepointDirectory         = "state.savepoints.dir"
	CheckpointDirectory        = "state.checkpoints.dir"
	SavepointPath              = "execution.savepoint.path"
	SavepointIgnoreUnclaimed   = "execution.savepoint.ignore-unclaimed-state"
	PipelineFixedJobID         = "$internal.pipeline.job-id"
	ParallelismDefault         = "parallelism.default"
	NumberOfTaskSlots          = "taskmanager.numberOfTaskSlots"
	JobManagerScheduler        = "jobmanager.scheduler"
	SchedulerMode              = "scheduler-mode"
	RestPort                   = "rest.port"
	ClusterID                  = "kubernetes.cluster-id"
	Namespace                  = "kubernetes.namespace"
)

// Operator options that can be set per resource in its Flink configuration.
const (
	PeriodicSavepointInterval     = "kubernetes.operator.periodic.savepoint.interval"
	IgnorePendingSavepoint        = "kubernetes.operator.job.upgrade.ignore-pending-savepoint"
	SavepointHistoryMaxCount      = "kubernetes.operator.savepoint.history.max.count"
	DeploymentRollbackEnabled     = "kubernetes.operator.deployment.rollback.enabled"
	DeploymentReadinessTimeout    = "kubernetes.operator.deployment.readiness.timeout"
	ReconcileInterval             = "kubernetes.operator.reconcile.interval"
	ObserverProgressCheckInterval = "kubernetes.operator.observer.progress-check.interval"
)

const (
	HighAvailabilityNone  = "NONE"
	SchedulerAdaptive     = "adaptive"
	SchedulerModeReactive = "reactive"
)
