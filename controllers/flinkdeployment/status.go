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
	"fmt"

	v1beta1 "github.com/spotify/flink-deployment-operator/apis/flinkdeployment/v1beta1"
	"github.com/spotify/flink-deployment-operator/internal/config"
	"github.com/spotify/flink-deployment-operator/internal/flink"
)

// Status bookkeeping shared by the observer and the reconciler.

// updateStatusForSpecReconciliation records spec as the reconciled spec. The
// job state stored in the reconciled copy is stateAfter, the state the job
// is in once this tick's action is done. A non-empty usedMode overrides the
// upgrade mode of the copy so that the next tick restores the way the job
// was suspended.
func updateStatusForSpecReconciliation(
	deployment *v1beta1.FlinkDeployment,
	spec *v1beta1.FlinkDeploymentSpec,
	stateAfter v1beta1.JobState,
	usedMode v1beta1.UpgradeMode,
	upgrading bool,
	conf config.Configuration,
	now int64) error {
	var status = &deployment.Status
	var reconStatus = &status.ReconciliationStatus

	previous, previousMeta, err := v1beta1.GetLastReconciledSpec[v1beta1.FlinkDeploymentSpec](reconStatus)
	if err != nil {
		return err
	}
	var meta = &v1beta1.ReconciliationMetadata{
		APIVersion: v1beta1.GroupVersion.String(),
		Generation: deployment.Generation,
		FirstDeployment: reconStatus.IsBeforeFirstDeployment() ||
			(previousMeta != nil && previousMeta.FirstDeployment &&
				reconStatus.State == v1beta1.ReconciliationStateUpgrading),
	}

	status.Error = ""
	reconStatus.ReconciliationTimestamp = now
	if upgrading {
		reconStatus.State = v1beta1.ReconciliationStateUpgrading
	} else {
		reconStatus.State = v1beta1.ReconciliationStateDeployed
	}

	var reconciled = spec.DeepCopy()
	if reconciled.Job != nil {
		reconciled.Job.State = stateAfter
		if usedMode != "" {
			reconciled.Job.UpgradeMode = usedMode
		}
		// Nonces are only marked processed once their savepoint completed.
		if previous != nil && previous.Job != nil {
			reconciled.Job.SavepointTriggerNonce = previous.Job.SavepointTriggerNonce
		}
		status.TaskManager = taskManagerInfo(deployment.Name, spec, conf, stateAfter)
	}
	reconStatus.SerializeAndSetLastReconciledSpec(reconciled, meta)

	if spec.Job != nil && spec.Job.State == v1beta1.JobStateSuspended {
		reconStatus.MarkReconciledSpecAsStable()
	}
	return nil
}

func taskManagerInfo(
	name string, spec *v1beta1.FlinkDeploymentSpec, conf config.Configuration, state v1beta1.JobState) *v1beta1.TaskManagerInfo {
	if state != v1beta1.JobStateRunning {
		return &v1beta1.TaskManagerInfo{}
	}
	replicas, err := flink.GetTaskManagerReplicas(spec, conf)
	if err != nil {
		replicas = 0
	}
	return &v1beta1.TaskManagerInfo{
		LabelSelector: fmt.Sprintf("component=%s,app=%s", flink.ComponentTaskManager, name),
		Replicas:      replicas,
	}
}

// updateStatusForAlreadyUpgraded completes an upgrade whose deployment went
// through but was never recorded.
func updateStatusForAlreadyUpgraded(deployment *v1beta1.FlinkDeployment, now int64) error {
	var reconStatus = &deployment.Status.ReconciliationStatus
	spec, meta, err := v1beta1.GetLastReconciledSpec[v1beta1.FlinkDeploymentSpec](reconStatus)
	if err != nil || spec == nil {
		return err
	}
	if spec.Job != nil {
		spec.Job.State = v1beta1.JobStateRunning
	}
	reconStatus.SerializeAndSetLastReconciledSpec(spec, meta)
	reconStatus.State = v1beta1.ReconciliationStateDeployed
	reconStatus.ReconciliationTimestamp = now
	deployment.Status.Error = ""
	return nil
}

// checkAndUpdateStableSpec marks the reconciled spec as stable once the job
// proved healthy on it.
func checkAndUpdateStableSpec(status *v1beta1.FlinkDeploymentStatus) error {
	var reconStatus = &status.ReconciliationStatus
	if reconStatus.State != v1beta1.ReconciliationStateDeployed || reconStatus.IsStable() {
		return nil
	}
	reconciled, _, err := v1beta1.GetLastReconciledSpec[v1beta1.FlinkDeploymentSpec](reconStatus)
	if err != nil || reconciled == nil {
		return err
	}
	if reconciled.Job == nil {
		if status.JobManagerDeploymentStatus == v1beta1.JobManagerDeploymentStatusReady {
			reconStatus.MarkReconciledSpecAsStable()
		}
		return nil
	}
	switch status.JobStatus.State {
	case v1beta1.FlinkJobStateRunning:
		reconStatus.MarkReconciledSpecAsStable()
	case v1beta1.FlinkJobStateFinished:
		if reconciled.Job.State == v1beta1.JobStateRunning {
			reconStatus.MarkReconciledSpecAsStable()
		}
	}
	return nil
}

// clearLastReconciledSpecIfFirstDeploy forgets a first deployment that never
// came up so that the next tick deploys from scratch.
func clearLastReconciledSpecIfFirstDeploy(status *v1beta1.FlinkDeploymentStatus) (bool, error) {
	var reconStatus = &status.ReconciliationStatus
	_, meta, err := v1beta1.GetLastReconciledSpec[v1beta1.FlinkDeploymentSpec](reconStatus)
	if err != nil {
		return false, err
	}
	if meta == nil || !meta.FirstDeployment {
		return false, nil
	}
	reconStatus.LastReconciledSpec = ""
	reconStatus.State = v1beta1.ReconciliationStateUpgrading
	return true, nil
}

// applyValidationErrorAndResetSpec records the validation error and swaps
// the desired spec for the reconciled one. Returns false when there is
// nothing reconciled to fall back to.
func applyValidationErrorAndResetSpec(deployment *v1beta1.FlinkDeployment, message string) (bool, error) {
	var status = &deployment.Status
	status.Error = message
	reconciled, _, err := v1beta1.GetLastReconciledSpec[v1beta1.FlinkDeploymentSpec](&status.ReconciliationStatus)
	if err != nil {
		return false, err
	}
	if reconciled == nil {
		return false, nil
	}
	// An interrupted upgrade must still be completed.
	if reconciled.Job != nil && status.ReconciliationStatus.State == v1beta1.ReconciliationStateUpgrading {
		reconciled.Job.State = v1beta1.JobStateRunning
	}
	deployment.Spec = *reconciled
	return true, nil
}
