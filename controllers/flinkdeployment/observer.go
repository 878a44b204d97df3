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
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/tools/record"

	v1beta1 "github.com/spotify/flink-deployment-operator/apis/flinkdeployment/v1beta1"
	"github.com/spotify/flink-deployment-operator/internal/config"
	"github.com/spotify/flink-deployment-operator/internal/flink"
	"github.com/spotify/flink-deployment-operator/internal/util"
)

// DeploymentObserver refreshes the observed part of the status: the job
// manager deployment, the job and the in-flight savepoint.
type DeploymentObserver struct {
	flinkService  flink.Service
	configManager *config.Manager
	triggers      *SavepointTriggerManager
	recorder      record.EventRecorder
	log           logr.Logger
}

func NewDeploymentObserver(
	flinkService flink.Service,
	configManager *config.Manager,
	triggers *SavepointTriggerManager,
	recorder record.EventRecorder,
	log logr.Logger) *DeploymentObserver {
	return &DeploymentObserver{
		flinkService:  flinkService,
		configManager: configManager,
		triggers:      triggers,
		recorder:      recorder,
		log:           log,
	}
}

// Observe updates the status of the deployment from the cluster. Nothing is
// observed before the first deployment.
func (observer *DeploymentObserver) Observe(ctx context.Context, deployment *v1beta1.FlinkDeployment) error {
	var status = &deployment.Status
	var reconStatus = &status.ReconciliationStatus
	var log = observer.log.WithValues("namespace", deployment.Namespace, "name", deployment.Name)

	if reconStatus.IsBeforeFirstDeployment() {
		return nil
	}
	deployed, err := v1beta1.GetDeployedSpec[v1beta1.FlinkDeploymentSpec](reconStatus)
	if err != nil {
		return err
	}
	conf, err := observer.configManager.DeployConfig(deployment.Namespace, deployment.Name, deployed.FlinkConfiguration)
	if err != nil {
		return &FatalDeploymentError{Reason: "InvalidConfiguration", Message: err.Error()}
	}

	jmStatus, err := observer.flinkService.GetJobManagerDeploymentStatus(ctx, deployment.ObjectMeta)
	if err != nil {
		return transient("get job manager deployment", err)
	}

	var previousJmStatus = status.JobManagerDeploymentStatus
	switch jmStatus {
	case v1beta1.JobManagerDeploymentStatusDeployedNotReady, v1beta1.JobManagerDeploymentStatusReady:
		jobs, err := observer.flinkService.ListJobs(ctx, conf)
		if err != nil {
			log.Info("Job manager REST API is not ready yet", "error", err.Error())
			status.JobManagerDeploymentStatus = v1beta1.JobManagerDeploymentStatusDeployedNotReady
			break
		}
		status.JobManagerDeploymentStatus = v1beta1.JobManagerDeploymentStatusReady
		if deployed.Job != nil {
			observer.updateJobStatus(&status.JobStatus, jobs)
			if err := observer.observeSavepoint(ctx, deployment, conf); err != nil {
				return err
			}
		}

	case v1beta1.JobManagerDeploymentStatusMissing, v1beta1.JobManagerDeploymentStatusError:
		status.JobManagerDeploymentStatus = jmStatus
		if !expectsCluster(reconStatus, deployed) {
			break
		}
		if previousJmStatus != v1beta1.JobManagerDeploymentStatusMissing &&
			previousJmStatus != v1beta1.JobManagerDeploymentStatusError {
			log.Info("Job manager deployment is gone", "status", jmStatus)
			// The job went down with its cluster.
			if deployed.Job != nil && !v1beta1.IsGloballyTerminalJobState(status.JobStatus.State) {
				status.JobStatus.State = v1beta1.FlinkJobStateReconciling
			}
		}
		if neverBecameReady(previousJmStatus) {
			cleared, err := clearLastReconciledSpecIfFirstDeploy(status)
			if err != nil {
				return err
			}
			if cleared {
				log.Info("First deployment did not come up, it will be deployed again", "status", jmStatus)
				observer.recorder.Event(deployment, corev1.EventTypeWarning, "DeploymentFailed",
					fmt.Sprintf("Job manager deployment is %s, redeploying", jmStatus))
				return nil
			}
		}

	default:
		status.JobManagerDeploymentStatus = jmStatus
	}

	return checkAndUpdateStableSpec(status)
}

// neverBecameReady also holds for a submission that failed before any job
// manager status was recorded.
func neverBecameReady(jmStatus v1beta1.JobManagerDeploymentStatus) bool {
	return jmStatus == "" ||
		jmStatus == v1beta1.JobManagerDeploymentStatusDeploying ||
		jmStatus == v1beta1.JobManagerDeploymentStatusDeployedNotReady
}

// expectsCluster tells whether a cluster should be running for the deployed
// spec.
func expectsCluster(reconStatus *v1beta1.ReconciliationStatus, deployed *v1beta1.FlinkDeploymentSpec) bool {
	if reconStatus.State == v1beta1.ReconciliationStateRollingBack {
		return false
	}
	if reconStatus.State == v1beta1.ReconciliationStateDeployed &&
		deployed.Job != nil && deployed.Job.State == v1beta1.JobStateSuspended {
		return false
	}
	return true
}

// updateJobStatus picks the job we deployed, or the newest one when the job
// id is not known.
func (observer *DeploymentObserver) updateJobStatus(jobStatus *v1beta1.JobStatus, jobs []flink.JobDetails) {
	if len(jobs) == 0 {
		observer.log.Info("No job found on the cluster")
		return
	}
	var job = jobs[0]
	for _, j := range jobs {
		if j.JobID == jobStatus.JobID {
			job = j
			break
		}
	}
	var tc = &util.TimeConverter{}
	jobStatus.JobID = job.JobID
	jobStatus.JobName = job.JobName
	jobStatus.State = job.State
	jobStatus.StartTime = tc.FromMillis(job.StartTime)
	jobStatus.UpdateTime = tc.FromMillis(job.UpdateTime)
}

// observeSavepoint polls the in-flight savepoint trigger and records its
// outcome.
func (observer *DeploymentObserver) observeSavepoint(
	ctx context.Context, deployment *v1beta1.FlinkDeployment, conf config.Configuration) error {
	var jobStatus = &deployment.Status.JobStatus
	var info = &jobStatus.SavepointInfo
	var log = observer.log.WithValues("namespace", deployment.Namespace, "name", deployment.Name, "triggerID", info.TriggerID)

	switch getTriggerState(info) {
	case triggerStateIdle:
		return nil
	case triggerStateTriggering:
		log.Info("Savepoint trigger never reached the job manager, resetting it")
		observer.triggers.ResetTrigger(info)
		savepointResults.WithLabelValues("abandoned").Inc()
		return nil
	}

	result, err := observer.flinkService.GetSavepointStatus(ctx, jobStatus.JobID, info.TriggerRequestID, conf)
	if flink.IsNotFound(err) {
		log.Info("Savepoint trigger is unknown to the job manager, resetting it")
		observer.recorder.Event(deployment, corev1.EventTypeWarning, "SavepointError",
			fmt.Sprintf("Savepoint %s was lost by the job manager", info.TriggerID))
		observer.triggers.ResetTrigger(info)
		savepointResults.WithLabelValues("abandoned").Inc()
		return nil
	}
	if err != nil {
		return transient("get savepoint status", err)
	}
	if !result.Completed {
		log.Info("Savepoint in progress")
		return nil
	}
	if result.Failure != "" {
		log.Info("Savepoint failed", "failure", result.Failure)
		observer.recorder.Event(deployment, corev1.EventTypeWarning, "SavepointError",
			fmt.Sprintf("Savepoint %s failed: %s", info.TriggerID, result.Failure))
		observer.triggers.ResetTrigger(info)
		savepointResults.WithLabelValues("failed").Inc()
		return nil
	}

	historyMaxCount, err := conf.GetInt(config.SavepointHistoryMaxCount, 10)
	if err != nil {
		return &FatalDeploymentError{Reason: "InvalidConfiguration", Message: err.Error()}
	}
	var triggerID = info.TriggerID
	if err := observer.triggers.CompleteTrigger(deployment, result.Location, historyMaxCount); err != nil {
		return err
	}
	log.Info("Savepoint completed", "location", result.Location)
	observer.recorder.Event(deployment, corev1.EventTypeNormal, "SavepointCompleted",
		fmt.Sprintf("Savepoint %s completed: %s", triggerID, result.Location))
	return nil
}
