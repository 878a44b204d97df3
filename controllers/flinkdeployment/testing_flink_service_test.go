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

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	v1beta1 "github.com/spotify/flink-deployment-operator/apis/flinkdeployment/v1beta1"
	"github.com/spotify/flink-deployment-operator/internal/config"
	"github.com/spotify/flink-deployment-operator/internal/flink"
)

type testingJob struct {
	details   flink.JobDetails
	savepoint string
	conf      config.Configuration
	spec      *v1beta1.FlinkDeploymentSpec
}

// testingFlinkService is an in-memory job runtime. A submitted cluster runs
// its job right away, the job manager reports DEPLOYED_NOT_READY until its
// REST API answers.
type testingFlinkService struct {
	jobs            []*testingJob
	clusterDeployed bool
	haDataAvailable bool
	// Reported instead of the derived job manager status when set.
	jmStatus v1beta1.JobManagerDeploymentStatus

	deployFailure   bool
	listJobsFailure bool

	submitCount     int
	lastRequireHa   bool
	desiredReplicas int32
	cancelModes     []v1beta1.UpgradeMode

	savepointCounter int
	triggerCounter   int
	savepoints       map[string]*flink.SavepointResult
	startTime        int64
}

var _ flink.Service = &testingFlinkService{}

func newTestingFlinkService() *testingFlinkService {
	return &testingFlinkService{savepoints: map[string]*flink.SavepointResult{}}
}

func (s *testingFlinkService) ListJobs(ctx context.Context, conf config.Configuration) ([]flink.JobDetails, error) {
	if !s.clusterDeployed || s.listJobsFailure {
		return nil, errors.New("connection refused")
	}
	var details []flink.JobDetails
	for i := len(s.jobs) - 1; i >= 0; i-- {
		details = append(details, s.jobs[i].details)
	}
	return details, nil
}

func (s *testingFlinkService) SubmitApplicationCluster(
	ctx context.Context,
	owner *v1beta1.FlinkDeployment,
	spec *v1beta1.FlinkDeploymentSpec,
	conf config.Configuration,
	requireHaMetadata bool) error {
	if s.deployFailure {
		return errors.New("deployment failure")
	}
	if requireHaMetadata && !s.haDataAvailable {
		return flink.ErrHaMetadataNotAvailable
	}
	s.submitCount++
	s.lastRequireHa = requireHaMetadata
	s.clusterDeployed = true
	s.haDataAvailable = conf.IsHAEnabled()
	if spec.Job != nil {
		s.startTime++
		s.jobs = append(s.jobs, &testingJob{
			details: flink.JobDetails{
				JobID:     conf[config.PipelineFixedJobID],
				JobName:   owner.Name,
				State:     v1beta1.FlinkJobStateRunning,
				StartTime: s.startTime,
			},
			savepoint: conf[config.SavepointPath],
			conf:      conf.Clone(),
			spec:      spec.DeepCopy(),
		})
	}
	return nil
}

func (s *testingFlinkService) CancelJob(
	ctx context.Context,
	meta metav1.ObjectMeta,
	jobID string,
	mode v1beta1.UpgradeMode,
	conf config.Configuration) (*string, error) {
	s.cancelModes = append(s.cancelModes, mode)
	var job = s.findJob(jobID)
	if job == nil && mode != v1beta1.UpgradeModeLastState {
		return nil, fmt.Errorf("job %s not found", jobID)
	}

	var location *string
	switch mode {
	case v1beta1.UpgradeModeStateless:
		job.details.State = v1beta1.FlinkJobStateCanceled
		s.haDataAvailable = false
	case v1beta1.UpgradeModeSavepoint:
		if job.details.State != v1beta1.FlinkJobStateRunning {
			return nil, fmt.Errorf("job %s is not running", jobID)
		}
		savepoint := fmt.Sprintf("savepoint_%d", s.savepointCounter)
		s.savepointCounter++
		location = &savepoint
		job.details.State = v1beta1.FlinkJobStateFinished
		s.haDataAvailable = false
	case v1beta1.UpgradeModeLastState:
		if job != nil {
			job.details.State = v1beta1.FlinkJobStateSuspended
		}
	}
	s.clusterDeployed = false
	return location, nil
}

func (s *testingFlinkService) DeleteClusterDeployment(ctx context.Context, meta metav1.ObjectMeta, deleteHaData bool) error {
	s.clusterDeployed = false
	if deleteHaData {
		s.haDataAvailable = false
	}
	return nil
}

func (s *testingFlinkService) TriggerSavepoint(ctx context.Context, jobID string, conf config.Configuration) (string, error) {
	if s.findJob(jobID) == nil {
		return "", fmt.Errorf("job %s not found", jobID)
	}
	requestID := fmt.Sprintf("request_%d", s.triggerCounter)
	s.triggerCounter++
	s.savepoints[requestID] = &flink.SavepointResult{}
	return requestID, nil
}

func (s *testingFlinkService) GetSavepointStatus(
	ctx context.Context, jobID string, requestID string, conf config.Configuration) (*flink.SavepointResult, error) {
	result, ok := s.savepoints[requestID]
	if !ok {
		return nil, fmt.Errorf("unknown savepoint request %s", requestID)
	}
	return result, nil
}

func (s *testingFlinkService) IsHaMetadataAvailable(ctx context.Context, meta metav1.ObjectMeta, conf config.Configuration) (bool, error) {
	return conf.IsHAEnabled() && s.haDataAvailable, nil
}

func (s *testingFlinkService) GetJobManagerDeploymentStatus(
	ctx context.Context, meta metav1.ObjectMeta) (v1beta1.JobManagerDeploymentStatus, error) {
	if s.jmStatus != "" {
		return s.jmStatus, nil
	}
	if !s.clusterDeployed {
		return v1beta1.JobManagerDeploymentStatusMissing, nil
	}
	return v1beta1.JobManagerDeploymentStatusDeployedNotReady, nil
}

func (s *testingFlinkService) Scale(ctx context.Context, meta metav1.ObjectMeta, replicas int32) error {
	s.desiredReplicas = replicas
	return nil
}

func (s *testingFlinkService) findJob(jobID string) *testingJob {
	for _, job := range s.jobs {
		if job.details.JobID == jobID {
			return job
		}
	}
	return nil
}

// lastJob returns the most recently submitted job.
func (s *testingFlinkService) lastJob() *testingJob {
	if len(s.jobs) == 0 {
		return nil
	}
	return s.jobs[len(s.jobs)-1]
}

// completeSavepoint makes the runtime report the savepoint of the request.
func (s *testingFlinkService) completeSavepoint(requestID string, location string) {
	s.savepoints[requestID] = &flink.SavepointResult{Completed: true, Location: location}
}

func (s *testingFlinkService) failSavepoint(requestID string) {
	s.savepoints[requestID] = &flink.SavepointResult{Completed: true, Failure: "CheckpointException"}
}

func (s *testingFlinkService) setJobState(state string) {
	if job := s.lastJob(); job != nil {
		job.details.State = state
	}
}
