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

package v1beta1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// UpgradeMode defines how a running job is suspended and restored when its
// spec changes.
type UpgradeMode string

const (
	// UpgradeModeStateless - cancel the job and start it again from empty state.
	UpgradeModeStateless UpgradeMode = "stateless"

	// UpgradeModeSavepoint - stop the job with a savepoint and restore from it.
	UpgradeModeSavepoint UpgradeMode = "savepoint"

	// UpgradeModeLastState - delete the cluster keeping HA metadata and resume
	// from the latest checkpoint.
	UpgradeModeLastState UpgradeMode = "last-state"
)

// JobState defines the desired run state of a job.
type JobState string

const (
	JobStateRunning   JobState = "running"
	JobStateSuspended JobState = "suspended"
)

// KubernetesDeploymentMode defines how the Flink cluster is laid out on
// Kubernetes.
type KubernetesDeploymentMode string

const (
	DeploymentModeNative     KubernetesDeploymentMode = "native"
	DeploymentModeStandalone KubernetesDeploymentMode = "standalone"
)

// ReconciliationState defines states of the reconciliation state machine.
type ReconciliationState string

const (
	ReconciliationStateDeployed    ReconciliationState = "DEPLOYED"
	ReconciliationStateUpgrading   ReconciliationState = "UPGRADING"
	ReconciliationStateRollingBack ReconciliationState = "ROLLING_BACK"
	ReconciliationStateRolledBack  ReconciliationState = "ROLLED_BACK"
)

// SavepointTriggerType defines what caused a savepoint to be taken.
type SavepointTriggerType string

const (
	SavepointTriggerTypeManual   SavepointTriggerType = "MANUAL"
	SavepointTriggerTypePeriodic SavepointTriggerType = "PERIODIC"
	SavepointTriggerTypeUpgrade  SavepointTriggerType = "UPGRADE"
	SavepointTriggerTypeUnknown  SavepointTriggerType = "UNKNOWN"
)

// JobManagerDeploymentStatus defines the observed state of the job manager
// deployment.
type JobManagerDeploymentStatus string

const (
	JobManagerDeploymentStatusReady            JobManagerDeploymentStatus = "READY"
	JobManagerDeploymentStatusDeployedNotReady JobManagerDeploymentStatus = "DEPLOYED_NOT_READY"
	JobManagerDeploymentStatusDeploying        JobManagerDeploymentStatus = "DEPLOYING"
	JobManagerDeploymentStatusMissing          JobManagerDeploymentStatus = "MISSING"
	JobManagerDeploymentStatusError            JobManagerDeploymentStatus = "ERROR"
)

// Job states reported by the Flink runtime.
const (
	FlinkJobStateCreated      = "CREATED"
	FlinkJobStateInitializing = "INITIALIZING"
	FlinkJobStateRunning      = "RUNNING"
	FlinkJobStateFailing      = "FAILING"
	FlinkJobStateFailed       = "FAILED"
	FlinkJobStateCancelling   = "CANCELLING"
	FlinkJobStateCanceled     = "CANCELED"
	FlinkJobStateFinished     = "FINISHED"
	FlinkJobStateRestarting   = "RESTARTING"
	FlinkJobStateSuspended    = "SUSPENDED"
	FlinkJobStateReconciling  = "RECONCILING"
)

// JobSpec defines the job to run on the Flink cluster.
type JobSpec struct {
	// URI of the job jar.
	JarURI string `json:"jarURI,omitempty"`

	// Fully qualified main class.
	EntryClass string `json:"entryClass,omitempty"`

	// Arguments of the main class.
	Args []string `json:"args,omitempty"`

	// Job parallelism.
	Parallelism int32 `json:"parallelism,omitempty"`

	// How the job is suspended and restored on spec changes.
	UpgradeMode UpgradeMode `json:"upgradeMode,omitempty"`

	// Desired run state of the job.
	State JobState `json:"state,omitempty"`

	// Changing the nonce triggers a manual savepoint.
	SavepointTriggerNonce *int64 `json:"savepointTriggerNonce,omitempty"`

	// Savepoint used for the very first deployment of the job.
	InitialSavepointPath *string `json:"initialSavepointPath,omitempty"`

	AllowNonRestoredState *bool `json:"allowNonRestoredState,omitempty"`
}

// JobManagerSpec defines properties of the job manager.
type JobManagerSpec struct {
	// +kubebuilder:validation:Minimum=1
	Replicas  int32                       `json:"replicas,omitempty"`
	Resources corev1.ResourceRequirements `json:"resources,omitempty"`
}

// TaskManagerSpec defines properties of the task managers.
type TaskManagerSpec struct {
	// Number of task managers. Derived from the job parallelism when unset.
	Replicas  *int32                      `json:"replicas,omitempty"`
	Resources corev1.ResourceRequirements `json:"resources,omitempty"`
}

// FlinkDeploymentSpec defines the desired state of FlinkDeployment
type FlinkDeploymentSpec struct {
	// Flink image.
	Image string `json:"image"`

	ImagePullPolicy corev1.PullPolicy `json:"imagePullPolicy,omitempty"`

	ServiceAccount string `json:"serviceAccount,omitempty"`

	// Flink runtime version, e.g. `v1_15`.
	FlinkVersion FlinkVersion `json:"flinkVersion,omitempty"`

	// Flink configuration overrides, rendered into flink-conf.yaml.
	FlinkConfiguration map[string]string `json:"flinkConfiguration,omitempty"`

	Mode KubernetesDeploymentMode `json:"mode,omitempty"`

	// Changing the nonce restarts the cluster.
	RestartNonce *int64 `json:"restartNonce,omitempty"`

	JobManager  JobManagerSpec  `json:"jobManager,omitempty"`
	TaskManager TaskManagerSpec `json:"taskManager,omitempty"`

	// Job to run. A deployment without job is a session cluster.
	Job *JobSpec `json:"job,omitempty"`
}

// Savepoint is a completed savepoint of a job.
type Savepoint struct {
	TimeStamp   int64                `json:"timeStamp"`
	Location    string               `json:"location"`
	TriggerType SavepointTriggerType `json:"triggerType,omitempty"`
}

// SavepointInfo holds the savepoint trigger bookkeeping of a job.
type SavepointInfo struct {
	LastSavepoint *Savepoint `json:"lastSavepoint,omitempty"`

	// Id of the in-flight trigger, `trigger_<n>`.
	TriggerID string `json:"triggerId,omitempty"`

	// Handle returned by the runtime for the in-flight trigger.
	TriggerRequestID string `json:"triggerRequestId,omitempty"`

	TriggerTimestamp int64                `json:"triggerTimestamp,omitempty"`
	TriggerType      SavepointTriggerType `json:"triggerType,omitempty"`

	// Nonce of the in-flight manual trigger.
	TriggerNonce *int64 `json:"triggerNonce,omitempty"`

	// Number of triggers emitted over the lifetime of the resource.
	TriggerCount int64 `json:"triggerCount,omitempty"`

	SavepointHistory []Savepoint `json:"savepointHistory,omitempty"`

	LastPeriodicSavepointTimestamp int64 `json:"lastPeriodicSavepointTimestamp,omitempty"`
}

// JobStatus defines the observed state of a job.
type JobStatus struct {
	JobName       string        `json:"jobName,omitempty"`
	JobID         string        `json:"jobId,omitempty"`
	State         string        `json:"state,omitempty"`
	StartTime     string        `json:"startTime,omitempty"`
	UpdateTime    string        `json:"updateTime,omitempty"`
	SavepointInfo SavepointInfo `json:"savepointInfo,omitempty"`
}

// ReconciliationStatus holds what the operator last acted upon.
type ReconciliationStatus struct {
	// Unix millis of the last reconciliation.
	ReconciliationTimestamp int64 `json:"reconciliationTimestamp,omitempty"`

	// Envelope of the spec the operator last acted upon.
	LastReconciledSpec string `json:"lastReconciledSpec,omitempty"`

	// Envelope of the last spec that reached a healthy state.
	LastStableSpec string `json:"lastStableSpec,omitempty"`

	State ReconciliationState `json:"state,omitempty"`
}

// ReconciliationMetadata is stored next to a reconciled spec.
type ReconciliationMetadata struct {
	APIVersion      string `json:"apiVersion,omitempty"`
	Generation      int64  `json:"generation,omitempty"`
	FirstDeployment bool   `json:"firstDeployment"`
}

// CommonStatus is shared by every resource kind that runs a job.
type CommonStatus struct {
	JobStatus            JobStatus            `json:"jobStatus,omitempty"`
	Error                string               `json:"error,omitempty"`
	ReconciliationStatus ReconciliationStatus `json:"reconciliationStatus,omitempty"`
}

// TaskManagerInfo exposes the task manager scale subresource.
type TaskManagerInfo struct {
	LabelSelector string `json:"labelSelector"`
	Replicas      int32  `json:"replicas"`
}

// FlinkDeploymentStatus defines the observed state of FlinkDeployment
type FlinkDeploymentStatus struct {
	CommonStatus `json:",inline"`

	JobManagerDeploymentStatus JobManagerDeploymentStatus `json:"jobManagerDeploymentStatus,omitempty"`

	TaskManager *TaskManagerInfo `json:"taskManager,omitempty"`

	ClusterInfo map[string]string `json:"clusterInfo,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName="flinkdep"
// +kubebuilder:printcolumn:name="job status",type=string,JSONPath=`.status.jobStatus.state`
// +kubebuilder:printcolumn:name="lifecycle",type=string,JSONPath=`.status.reconciliationStatus.state`
// +kubebuilder:printcolumn:name="age",type=date,JSONPath=`.metadata.creationTimestamp`

// FlinkDeployment is the Schema for the flinkdeployments API
type FlinkDeployment struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   FlinkDeploymentSpec   `json:"spec"`
	Status FlinkDeploymentStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// FlinkDeploymentList contains a list of FlinkDeployment
type FlinkDeploymentList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []FlinkDeployment `json:"items"`
}

// FlinkSessionJobSpec defines a job submitted to an existing session cluster.
type FlinkSessionJobSpec struct {
	// Name of the FlinkDeployment running the session cluster.
	DeploymentName string `json:"deploymentName"`

	FlinkConfiguration map[string]string `json:"flinkConfiguration,omitempty"`

	RestartNonce *int64 `json:"restartNonce,omitempty"`

	Job *JobSpec `json:"job,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status

// FlinkSessionJob is the Schema for the flinksessionjobs API
type FlinkSessionJob struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   FlinkSessionJobSpec `json:"spec"`
	Status CommonStatus        `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// FlinkSessionJobList contains a list of FlinkSessionJob
type FlinkSessionJobList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []FlinkSessionJob `json:"items"`
}

func init() {
	SchemeBuilder.Register(&FlinkDeployment{}, &FlinkDeploymentList{})
	SchemeBuilder.Register(&FlinkSessionJob{}, &FlinkSessionJobList{})
}
