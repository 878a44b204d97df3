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
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	v1beta1 "github.com/spotify/flink-deployment-operator/apis/flinkdeployment/v1beta1"
	"github.com/spotify/flink-deployment-operator/internal/config"
	"github.com/spotify/flink-deployment-operator/internal/flink"
	"github.com/spotify/flink-deployment-operator/internal/util"
)

// Run state and savepoint nonce are handled by the state machine and the
// trigger manager, they never require a redeployment on their own.
var specCompareOptions = []cmp.Option{
	cmpopts.IgnoreFields(v1beta1.JobSpec{}, "State", "SavepointTriggerNonce"),
	cmpopts.EquateEmpty(),
	cmp.Comparer(func(a, b resource.Quantity) bool { return a.Cmp(b) == 0 }),
}

// RequiresUpgrade tells whether the cluster must be redeployed to go from
// the deployed spec to the desired one.
func RequiresUpgrade(deployed, desired *v1beta1.FlinkDeploymentSpec) bool {
	return !cmp.Equal(deployed, desired, specCompareOptions...)
}

// jobStateChanged tells whether the desired run state differs from the
// reconciled one.
func jobStateChanged(reconciled, desired *v1beta1.FlinkDeploymentSpec) bool {
	if reconciled.Job == nil || desired.Job == nil {
		return false
	}
	return reconciled.Job.State != desired.Job.State
}

// UpgradeModeExecutor decides how a running job is taken down for an upgrade.
type UpgradeModeExecutor struct {
	flinkService flink.Service
	log          logr.Logger
}

func NewUpgradeModeExecutor(flinkService flink.Service, log logr.Logger) *UpgradeModeExecutor {
	return &UpgradeModeExecutor{flinkService: flinkService, log: log}
}

// IsReactiveScaling tells whether the spec change only touches parallelism
// of a standalone cluster running the adaptive scheduler. Such changes are
// applied by scaling the task managers in place.
func (e *UpgradeModeExecutor) IsReactiveScaling(
	deployed, desired *v1beta1.FlinkDeploymentSpec, conf config.Configuration) bool {
	if desired.Mode != v1beta1.DeploymentModeStandalone || deployed.Job == nil || desired.Job == nil {
		return false
	}
	if !conf.IsReactiveMode() && !conf.IsAdaptiveScheduler() {
		return false
	}
	if deployed.Job.State != desired.Job.State {
		return false
	}
	var diff = util.MapDiff(deployed.FlinkConfiguration, desired.FlinkConfiguration)
	delete(diff, config.ParallelismDefault)
	if len(diff) > 0 {
		return false
	}
	var options = append([]cmp.Option{
		cmpopts.IgnoreFields(v1beta1.JobSpec{}, "Parallelism"),
		cmpopts.IgnoreFields(v1beta1.FlinkDeploymentSpec{}, "FlinkConfiguration"),
	}, specCompareOptions...)
	return cmp.Equal(deployed, desired, options...)
}

// AvailableUpgradeMode returns the upgrade mode that can be used right now to
// suspend the deployed job. An empty mode means the upgrade has to wait for
// the job to settle.
func (e *UpgradeModeExecutor) AvailableUpgradeMode(
	ctx context.Context,
	meta metav1.ObjectMeta,
	status *v1beta1.FlinkDeploymentStatus,
	deployed *v1beta1.FlinkDeploymentSpec,
	desired *v1beta1.FlinkDeploymentSpec,
	observeConf config.Configuration) (v1beta1.UpgradeMode, error) {
	var log = e.log.WithValues("namespace", meta.Namespace, "name", meta.Name)
	var jobStatus = &status.JobStatus
	var mode = desired.Job.UpgradeMode
	if mode == "" {
		mode = v1beta1.UpgradeModeStateless
	}

	if mode == v1beta1.UpgradeModeStateless {
		// A new Flink version still carries the running job's state over
		// when savepoints can be taken.
		if v1beta1.IsJobRunning(jobStatus) && observeConf.GetString(config.SavepointDirectory, "") != "" {
			versionChanged, err := flinkVersionChanged(deployed, desired)
			if err != nil {
				return "", &FatalDeploymentError{Reason: "InvalidFlinkVersion", Message: err.Error()}
			}
			if versionChanged {
				log.Info("Using savepoint upgrade mode for the Flink version change")
				return v1beta1.UpgradeModeSavepoint, nil
			}
		}
		return v1beta1.UpgradeModeStateless, nil
	}

	// Nothing to suspend, the job restarts from its last savepoint.
	if v1beta1.IsGloballyTerminalJobState(jobStatus.State) {
		log.Info("Job is in terminal state, upgrading from the last savepoint", "state", jobStatus.State)
		return v1beta1.UpgradeModeSavepoint, nil
	}

	var changedToLastStateWithoutHa = mode == v1beta1.UpgradeModeLastState &&
		deployed.Job.UpgradeMode != v1beta1.UpgradeModeLastState &&
		!observeConf.IsHAEnabled()

	if v1beta1.IsJobRunning(jobStatus) {
		versionChanged, err := flinkVersionChanged(deployed, desired)
		if err != nil {
			return "", &FatalDeploymentError{Reason: "InvalidFlinkVersion", Message: err.Error()}
		}
		if versionChanged || changedToLastStateWithoutHa {
			log.Info("Using savepoint upgrade mode", "versionChanged", versionChanged)
			return v1beta1.UpgradeModeSavepoint, nil
		}
		if mode == v1beta1.UpgradeModeLastState {
			available, err := e.flinkService.IsHaMetadataAvailable(ctx, meta, observeConf)
			if err != nil {
				return "", transient("check HA metadata", err)
			}
			if !available {
				return "", &FatalDeploymentError{
					Reason:  "HaMetadataNotAvailable",
					Message: "HA metadata is not available for a last-state upgrade of the running job",
				}
			}
		}
		return mode, nil
	}

	// The job is neither running nor terminal, only HA metadata can save its
	// state.
	if observeConf.IsHAEnabled() && !changedToLastStateWithoutHa {
		available, err := e.flinkService.IsHaMetadataAvailable(ctx, meta, observeConf)
		if err != nil {
			return "", transient("check HA metadata", err)
		}
		if available {
			log.Info("Job is not running but HA metadata is available, using last-state upgrade mode",
				"state", jobStatus.State)
			return v1beta1.UpgradeModeLastState, nil
		}
	}

	switch status.JobManagerDeploymentStatus {
	case v1beta1.JobManagerDeploymentStatusMissing, v1beta1.JobManagerDeploymentStatusError:
		return "", &FatalDeploymentError{
			Reason: "RestoreFailed",
			Message: fmt.Sprintf(
				"job manager deployment is %s and HA metadata is not available to make a stateful upgrade, "+
					"manual restore required", status.JobManagerDeploymentStatus),
		}
	}
	log.Info("Waiting for the job to be running or terminal before upgrading", "state", jobStatus.State)
	return "", nil
}

func flinkVersionChanged(deployed, desired *v1beta1.FlinkDeploymentSpec) (bool, error) {
	if deployed.FlinkVersion == desired.FlinkVersion {
		return false, nil
	}
	if deployed.FlinkVersion == "" || desired.FlinkVersion == "" {
		return true, nil
	}
	a, err := deployed.FlinkVersion.ToVersion()
	if err != nil {
		return false, err
	}
	b, err := desired.FlinkVersion.ToVersion()
	if err != nil {
		return false, err
	}
	return !a.Equal(b), nil
}
