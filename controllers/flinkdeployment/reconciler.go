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
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/tools/record"

	v1beta1 "github.com/spotify/flink-deployment-operator/apis/flinkdeployment/v1beta1"
	"github.com/spotify/flink-deployment-operator/internal/config"
	"github.com/spotify/flink-deployment-operator/internal/flink"
	"github.com/spotify/flink-deployment-operator/internal/util"
)

const defaultReadinessTimeout = time.Minute

// ApplicationReconciler drives the deployed cluster towards the desired spec
// of a FlinkDeployment. Each call performs at most one lifecycle step, the
// status of the deployment records where the lifecycle is at.
//
// The reconciled spec stores the job state the cluster is in after the last
// step, so an upgrade is a suspend step (RUNNING -> SUSPENDED, UPGRADING)
// followed by a resume step (SUSPENDED -> RUNNING, DEPLOYED).
type ApplicationReconciler struct {
	flinkService   flink.Service
	configManager  *config.Manager
	triggers       *SavepointTriggerManager
	upgrades       *UpgradeModeExecutor
	statusRecorder *StatusRecorder
	recorder       record.EventRecorder
	clock          util.Clock
	log            logr.Logger
}

func NewApplicationReconciler(
	flinkService flink.Service,
	configManager *config.Manager,
	statusRecorder *StatusRecorder,
	recorder record.EventRecorder,
	clock util.Clock,
	log logr.Logger) *ApplicationReconciler {
	return &ApplicationReconciler{
		flinkService:   flinkService,
		configManager:  configManager,
		triggers:       NewSavepointTriggerManager(flinkService, clock, log),
		upgrades:       NewUpgradeModeExecutor(flinkService, log),
		statusRecorder: statusRecorder,
		recorder:       recorder,
		clock:          clock,
		log:            log,
	}
}

// Reconcile performs the next lifecycle step of the deployment. The status of
// the given deployment is updated in place.
func (reconciler *ApplicationReconciler) Reconcile(ctx context.Context, deployment *v1beta1.FlinkDeployment) error {
	var status = &deployment.Status
	var reconStatus = &status.ReconciliationStatus
	var spec = &deployment.Spec

	deployConf, err := reconciler.deployConfig(deployment, spec)
	if err != nil {
		return err
	}

	if reconStatus.IsBeforeFirstDeployment() {
		return reconciler.deployFirst(ctx, deployment, deployConf)
	}

	reconciled, reconciledMeta, err := v1beta1.GetLastReconciledSpec[v1beta1.FlinkDeploymentSpec](reconStatus)
	if err != nil {
		return err
	}
	deployed, err := v1beta1.GetDeployedSpec[v1beta1.FlinkDeploymentSpec](reconStatus)
	if err != nil {
		return err
	}
	observeConf, err := reconciler.deployConfig(deployment, deployed)
	if err != nil {
		return err
	}

	if reconStatus.State == v1beta1.ReconciliationStateRollingBack {
		return reconciler.completeRollback(ctx, deployment, deployConf)
	}

	if RequiresUpgrade(reconciled, spec) || jobStateChanged(reconciled, spec) {
		if reconciler.isAlreadyUpgraded(deployment, reconciled, reconciledMeta) {
			reconciler.log.Info("Upgrade already deployed, updating status",
				"namespace", deployment.Namespace, "name", deployment.Name)
			return updateStatusForAlreadyUpgraded(deployment, reconciler.clock.NowMillis())
		}
		if reconStatus.State == v1beta1.ReconciliationStateDeployed &&
			reconciler.upgrades.IsReactiveScaling(deployed, spec, deployConf) {
			return reconciler.scale(ctx, deployment, deployed, deployConf)
		}
		return reconciler.reconcileSpecChange(ctx, deployment, deployed, deployConf, observeConf)
	}

	shouldRollBack, err := reconciler.shouldRollBack(deployment, deployConf)
	if err != nil {
		return err
	}
	if shouldRollBack {
		return reconciler.rollback(ctx, deployment, observeConf)
	}

	return reconciler.reconcileSavepoint(ctx, deployment, reconciled, deployConf)
}

func (reconciler *ApplicationReconciler) deployConfig(
	deployment *v1beta1.FlinkDeployment, spec *v1beta1.FlinkDeploymentSpec) (config.Configuration, error) {
	conf, err := reconciler.configManager.DeployConfig(deployment.Namespace, deployment.Name, spec.FlinkConfiguration)
	if err != nil {
		return nil, &FatalDeploymentError{Reason: "InvalidConfiguration", Message: err.Error()}
	}
	return conf, nil
}

func (reconciler *ApplicationReconciler) deployFirst(
	ctx context.Context, deployment *v1beta1.FlinkDeployment, conf config.Configuration) error {
	var spec = &deployment.Spec
	var now = reconciler.clock.NowMillis()

	if spec.Job != nil && spec.Job.State == v1beta1.JobStateSuspended {
		reconciler.log.Info("Job is suspended, skipping the first deployment",
			"namespace", deployment.Namespace, "name", deployment.Name)
		return updateStatusForSpecReconciliation(deployment, spec, v1beta1.JobStateSuspended, "", false, conf, now)
	}

	// Recorded before the attempt so that a deployment that never comes up
	// can be told apart and cleaned up. A retry of the attempt never
	// requires HA metadata.
	var savepoint *string
	var initialMode v1beta1.UpgradeMode
	if spec.Job != nil {
		savepoint = spec.Job.InitialSavepointPath
		initialMode = v1beta1.UpgradeModeStateless
		if !util.IsBlank(savepoint) {
			initialMode = v1beta1.UpgradeModeSavepoint
		}
	}
	err := updateStatusForSpecReconciliation(deployment, spec, v1beta1.JobStateSuspended, initialMode, true, conf, now)
	if err != nil {
		return err
	}
	if err := reconciler.deploy(ctx, deployment, spec, conf, savepoint, false); err != nil {
		return err
	}
	return updateStatusForSpecReconciliation(
		deployment, spec, v1beta1.JobStateRunning, "", false, conf, reconciler.clock.NowMillis())
}

func (reconciler *ApplicationReconciler) reconcileSpecChange(
	ctx context.Context,
	deployment *v1beta1.FlinkDeployment,
	deployed *v1beta1.FlinkDeploymentSpec,
	deployConf config.Configuration,
	observeConf config.Configuration) error {
	var status = &deployment.Status
	var spec = &deployment.Spec
	var log = reconciler.log.WithValues("namespace", deployment.Namespace, "name", deployment.Name)

	if spec.Job == nil {
		return reconciler.redeploySessionCluster(ctx, deployment, deployConf)
	}

	var currentState = deployed.Job.State
	var desiredState = spec.Job.State

	if currentState == v1beta1.JobStateRunning {
		mode, err := reconciler.upgrades.AvailableUpgradeMode(ctx, deployment.ObjectMeta, status, deployed, spec, observeConf)
		if err != nil || mode == "" {
			return err
		}
		var info = &status.JobStatus.SavepointInfo
		if SavepointInProgress(info) {
			ignorePending, err := deployConf.GetBool(config.IgnorePendingSavepoint, false)
			if err != nil {
				return &FatalDeploymentError{Reason: "InvalidConfiguration", Message: err.Error()}
			}
			if !ignorePending {
				log.Info("Delaying job upgrade until the pending savepoint completes", "triggerID", info.TriggerID)
				return nil
			}
			log.Info("Upgrading without waiting for the pending savepoint", "triggerID", info.TriggerID)
			reconciler.triggers.ResetTrigger(info)
		}

		if desiredState == v1beta1.JobStateSuspended {
			log.Info("Suspending job", "upgradeMode", mode)
		} else {
			log.Info("Upgrading job, suspending it first", "upgradeMode", mode)
		}
		if err := reconciler.suspendJob(ctx, deployment, mode, observeConf); err != nil {
			return err
		}
		return updateStatusForSpecReconciliation(deployment, spec, v1beta1.JobStateSuspended, mode,
			desiredState == v1beta1.JobStateRunning, deployConf, reconciler.clock.NowMillis())
	}

	if desiredState == v1beta1.JobStateRunning {
		if status.ReconciliationStatus.State == v1beta1.ReconciliationStateUpgrading &&
			!clusterIsGone(status) {
			log.Info("Waiting for the suspended cluster to shut down before resuming",
				"jobManagerDeploymentStatus", status.JobManagerDeploymentStatus)
			return nil
		}
		log.Info("Resuming job", "upgradeMode", deployed.Job.UpgradeMode)
		return reconciler.resumeJob(ctx, deployment, deployed, deployConf)
	}

	// Both suspended, keep the mode the job was suspended with for the
	// eventual resume.
	var withUsedMode = spec.DeepCopy()
	withUsedMode.Job.UpgradeMode = deployed.Job.UpgradeMode
	if !RequiresUpgrade(deployed, withUsedMode) {
		return nil
	}
	return updateStatusForSpecReconciliation(deployment, spec, v1beta1.JobStateSuspended, deployed.Job.UpgradeMode,
		false, deployConf, reconciler.clock.NowMillis())
}

// clusterIsGone tells whether the observed runtime no longer runs a job
// manager, so a new one cannot race it for the same HA metadata.
func clusterIsGone(status *v1beta1.FlinkDeploymentStatus) bool {
	return status.JobManagerDeploymentStatus == v1beta1.JobManagerDeploymentStatusMissing
}

func (reconciler *ApplicationReconciler) resumeJob(
	ctx context.Context,
	deployment *v1beta1.FlinkDeployment,
	deployed *v1beta1.FlinkDeploymentSpec,
	conf config.Configuration) error {
	var spec = &deployment.Spec
	var jobStatus = &deployment.Status.JobStatus
	var restoreMode = deployed.Job.UpgradeMode

	// A job that never ran has no HA metadata to resume from.
	var requireHa = restoreMode == v1beta1.UpgradeModeLastState && jobStatus.JobID != ""
	var savepoint *string
	if restoreMode != v1beta1.UpgradeModeStateless && !requireHa {
		if last := jobStatus.SavepointInfo.LastSavepoint; last != nil && !util.IsBlank(&last.Location) {
			savepoint = &last.Location
		} else {
			savepoint = spec.Job.InitialSavepointPath
		}
	}

	if err := reconciler.deploy(ctx, deployment, spec, conf, savepoint, requireHa); err != nil {
		return err
	}
	return updateStatusForSpecReconciliation(
		deployment, spec, v1beta1.JobStateRunning, "", false, conf, reconciler.clock.NowMillis())
}

func (reconciler *ApplicationReconciler) redeploySessionCluster(
	ctx context.Context, deployment *v1beta1.FlinkDeployment, conf config.Configuration) error {
	reconciler.log.Info("Redeploying session cluster", "namespace", deployment.Namespace, "name", deployment.Name)
	if err := reconciler.flinkService.DeleteClusterDeployment(ctx, deployment.ObjectMeta, true); err != nil {
		return transient("delete cluster", err)
	}
	if err := reconciler.deploy(ctx, deployment, &deployment.Spec, conf, nil, false); err != nil {
		return err
	}
	return updateStatusForSpecReconciliation(
		deployment, &deployment.Spec, "", "", false, conf, reconciler.clock.NowMillis())
}

// deploy submits the cluster for spec. The job id is kept when resuming from
// HA metadata, every other deployment gets a fresh one.
func (reconciler *ApplicationReconciler) deploy(
	ctx context.Context,
	deployment *v1beta1.FlinkDeployment,
	spec *v1beta1.FlinkDeploymentSpec,
	conf config.Configuration,
	savepoint *string,
	requireHa bool) error {
	var status = &deployment.Status
	conf = conf.Clone()

	if spec.Job != nil {
		var jobID = status.JobStatus.JobID
		if !requireHa || jobID == "" {
			jobID = flink.GenerateJobID()
		}
		conf[config.PipelineFixedJobID] = jobID
		status.JobStatus.JobID = jobID
		status.JobStatus.State = v1beta1.FlinkJobStateReconciling

		delete(conf, config.SavepointPath)
		if !util.IsBlank(savepoint) {
			conf[config.SavepointPath] = *savepoint
		}
		// Every deployment gets its own job result store so that the
		// result of a previous run is never picked up.
		if storageDir := conf.GetString(config.HighAvailabilityStorageDir, ""); storageDir != "" {
			conf[config.JobResultStoreStoragePath] = fmt.Sprintf("%s/job-result-store/%s/%s",
				strings.TrimSuffix(storageDir, "/"), deployment.Name, uuid.NewString())
		}
	}

	if reconciler.statusRecorder != nil {
		if err := reconciler.statusRecorder.PatchAndCacheStatus(ctx, deployment); err != nil {
			return transient("persist status before deployment", err)
		}
	}

	err := reconciler.flinkService.SubmitApplicationCluster(ctx, deployment, spec, conf, requireHa)
	if errors.Is(err, flink.ErrHaMetadataNotAvailable) {
		return &FatalDeploymentError{Reason: "RestoreFailed", Message: err.Error()}
	}
	if err != nil {
		return transient("submit application cluster", err)
	}
	status.JobManagerDeploymentStatus = v1beta1.JobManagerDeploymentStatusDeploying
	reconciler.recorder.Event(deployment, corev1.EventTypeNormal, "Submit", "Starting deployment")
	return nil
}

// suspendJob takes the job down the way mode requires.
func (reconciler *ApplicationReconciler) suspendJob(
	ctx context.Context, deployment *v1beta1.FlinkDeployment, mode v1beta1.UpgradeMode, conf config.Configuration) error {
	var status = &deployment.Status
	var jobStatus = &status.JobStatus

	if v1beta1.IsGloballyTerminalJobState(jobStatus.State) {
		if err := reconciler.flinkService.DeleteClusterDeployment(ctx, deployment.ObjectMeta, true); err != nil {
			return transient("delete cluster", err)
		}
	} else {
		location, err := reconciler.flinkService.CancelJob(ctx, deployment.ObjectMeta, jobStatus.JobID, mode, conf)
		if err != nil {
			return transient("cancel job", err)
		}
		if location != nil {
			historyMaxCount, _ := conf.GetInt(config.SavepointHistoryMaxCount, 10)
			RecordSavepoint(&jobStatus.SavepointInfo, v1beta1.Savepoint{
				TimeStamp:   reconciler.clock.NowMillis(),
				Location:    *location,
				TriggerType: v1beta1.SavepointTriggerTypeUpgrade,
			}, historyMaxCount)
		}
		switch mode {
		case v1beta1.UpgradeModeStateless:
			jobStatus.State = v1beta1.FlinkJobStateCanceled
		case v1beta1.UpgradeModeSavepoint:
			jobStatus.State = v1beta1.FlinkJobStateFinished
		case v1beta1.UpgradeModeLastState:
			jobStatus.State = v1beta1.FlinkJobStateSuspended
		}
	}
	status.JobManagerDeploymentStatus = v1beta1.JobManagerDeploymentStatusMissing
	reconciler.recorder.Event(deployment, corev1.EventTypeNormal, "Suspended",
		fmt.Sprintf("Suspended job with upgrade mode %s", mode))
	return nil
}

// scale applies a parallelism change in place on a reactive cluster.
func (reconciler *ApplicationReconciler) scale(
	ctx context.Context,
	deployment *v1beta1.FlinkDeployment,
	deployed *v1beta1.FlinkDeploymentSpec,
	conf config.Configuration) error {
	var spec = &deployment.Spec
	if deployed.Job.Parallelism != spec.Job.Parallelism {
		replicas, err := flink.GetTaskManagerReplicas(spec, conf)
		if err != nil {
			return &FatalDeploymentError{Reason: "InvalidConfiguration", Message: err.Error()}
		}
		reconciler.log.Info("Scaling task managers", "namespace", deployment.Namespace, "name", deployment.Name,
			"parallelism", spec.Job.Parallelism, "replicas", replicas)
		if err := reconciler.flinkService.Scale(ctx, deployment.ObjectMeta, replicas); err != nil {
			return transient("scale task managers", err)
		}
		reconciler.recorder.Event(deployment, corev1.EventTypeNormal, "Scaling",
			fmt.Sprintf("Scaled task managers to %d", replicas))
	}
	return updateStatusForSpecReconciliation(
		deployment, spec, spec.Job.State, "", false, conf, reconciler.clock.NowMillis())
}

// isAlreadyUpgraded detects an upgrade that was deployed without the status
// being recorded afterwards.
func (reconciler *ApplicationReconciler) isAlreadyUpgraded(
	deployment *v1beta1.FlinkDeployment,
	reconciled *v1beta1.FlinkDeploymentSpec,
	meta *v1beta1.ReconciliationMetadata) bool {
	var status = &deployment.Status
	if status.ReconciliationStatus.State != v1beta1.ReconciliationStateUpgrading ||
		reconciled.Job == nil || deployment.Spec.Job == nil || meta == nil {
		return false
	}
	return reconciled.Job.State == v1beta1.JobStateSuspended &&
		deployment.Spec.Job.State == v1beta1.JobStateRunning &&
		meta.Generation == deployment.Generation &&
		status.JobManagerDeploymentStatus == v1beta1.JobManagerDeploymentStatusReady &&
		v1beta1.IsJobRunning(&status.JobStatus)
}

func (reconciler *ApplicationReconciler) shouldRollBack(
	deployment *v1beta1.FlinkDeployment, conf config.Configuration) (bool, error) {
	var reconStatus = &deployment.Status.ReconciliationStatus
	if reconStatus.State != v1beta1.ReconciliationStateDeployed ||
		reconStatus.IsStable() || reconStatus.LastStableSpec == "" {
		return false, nil
	}
	enabled, err := conf.GetBool(config.DeploymentRollbackEnabled, false)
	if err != nil {
		return false, &FatalDeploymentError{Reason: "InvalidConfiguration", Message: err.Error()}
	}
	if !enabled {
		return false, nil
	}
	timeout, err := conf.GetDuration(config.DeploymentReadinessTimeout, defaultReadinessTimeout)
	if err != nil {
		return false, &FatalDeploymentError{Reason: "InvalidConfiguration", Message: err.Error()}
	}
	var deadline = time.UnixMilli(reconStatus.ReconciliationTimestamp).Add(timeout)
	return reconciler.clock.Now().After(deadline), nil
}

// rollback tears down the cluster of a spec that never became stable. The
// stable spec is deployed on the next tick.
func (reconciler *ApplicationReconciler) rollback(
	ctx context.Context, deployment *v1beta1.FlinkDeployment, conf config.Configuration) error {
	var status = &deployment.Status
	var log = reconciler.log.WithValues("namespace", deployment.Namespace, "name", deployment.Name)

	var keepHaData = false
	if conf.IsHAEnabled() {
		available, err := reconciler.flinkService.IsHaMetadataAvailable(ctx, deployment.ObjectMeta, conf)
		if err != nil {
			return transient("check HA metadata", err)
		}
		keepHaData = available
	}
	log.Info("Deployment did not become ready in time, rolling back to the last stable spec", "keepHaData", keepHaData)
	if err := reconciler.flinkService.DeleteClusterDeployment(ctx, deployment.ObjectMeta, !keepHaData); err != nil {
		return transient("delete cluster", err)
	}
	status.JobManagerDeploymentStatus = v1beta1.JobManagerDeploymentStatusMissing
	status.ReconciliationStatus.State = v1beta1.ReconciliationStateRollingBack
	status.ReconciliationStatus.ReconciliationTimestamp = reconciler.clock.NowMillis()
	reconciler.recorder.Event(deployment, corev1.EventTypeWarning, "Rollback",
		"Deployment did not become ready in time, rolling back to the last stable spec")
	return nil
}

func (reconciler *ApplicationReconciler) completeRollback(
	ctx context.Context, deployment *v1beta1.FlinkDeployment, conf config.Configuration) error {
	var status = &deployment.Status
	var reconStatus = &status.ReconciliationStatus

	if !clusterIsGone(status) {
		reconciler.log.Info("Waiting for the cluster to shut down before rolling back",
			"namespace", deployment.Namespace, "name", deployment.Name,
			"jobManagerDeploymentStatus", status.JobManagerDeploymentStatus)
		return nil
	}
	stable, _, err := v1beta1.GetLastStableSpec[v1beta1.FlinkDeploymentSpec](reconStatus)
	if err != nil {
		return err
	}
	stableConf, err := reconciler.deployConfig(deployment, stable)
	if err != nil {
		return err
	}
	if stable.Job == nil || stable.Job.State == v1beta1.JobStateRunning {
		available, err := reconciler.flinkService.IsHaMetadataAvailable(ctx, deployment.ObjectMeta, stableConf)
		if err != nil {
			return transient("check HA metadata", err)
		}
		var savepoint *string
		if !available && stable.Job != nil && stable.Job.UpgradeMode != v1beta1.UpgradeModeStateless {
			if last := status.JobStatus.SavepointInfo.LastSavepoint; last != nil && !util.IsBlank(&last.Location) {
				savepoint = &last.Location
			}
		}
		if err := reconciler.deploy(ctx, deployment, stable, stableConf, savepoint, available); err != nil {
			return err
		}
	}
	if stable.Job != nil {
		status.TaskManager = taskManagerInfo(deployment.Name, stable, stableConf, stable.Job.State)
	}
	status.Error = ""
	reconStatus.State = v1beta1.ReconciliationStateRolledBack
	reconStatus.ReconciliationTimestamp = reconciler.clock.NowMillis()
	reconciler.recorder.Event(deployment, corev1.EventTypeNormal, "RolledBack", "Rolled back to the last stable spec")
	return nil
}

// reconcileSavepoint triggers manual and periodic savepoints of a steady job.
func (reconciler *ApplicationReconciler) reconcileSavepoint(
	ctx context.Context,
	deployment *v1beta1.FlinkDeployment,
	reconciled *v1beta1.FlinkDeploymentSpec,
	conf config.Configuration) error {
	var spec = &deployment.Spec
	if spec.Job == nil || reconciled.Job == nil {
		return nil
	}
	interval, err := conf.GetDuration(config.PeriodicSavepointInterval, 0)
	if err != nil {
		return &FatalDeploymentError{Reason: "InvalidConfiguration", Message: err.Error()}
	}
	request := reconciler.triggers.EvaluateTrigger(
		&deployment.Status.CommonStatus, spec.Job, reconciled.Job.SavepointTriggerNonce, interval, false)
	if request == nil {
		return nil
	}
	if err := reconciler.triggers.Trigger(ctx, &deployment.Status.CommonStatus, request, conf); err != nil {
		return err
	}
	reconciler.recorder.Event(deployment, corev1.EventTypeNormal, "SavepointTriggered",
		fmt.Sprintf("Triggered %s savepoint %s", request.Type, deployment.Status.JobStatus.SavepointInfo.TriggerID))
	return nil
}
