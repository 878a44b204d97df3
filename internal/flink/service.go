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

package flink

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	v1beta1 "github.com/spotify/flink-deployment-operator/apis/flinkdeployment/v1beta1"
	"github.com/spotify/flink-deployment-operator/internal/config"
)

// ErrHaMetadataNotAvailable is returned when a deployment must resume from
// HA metadata that does not exist.
var ErrHaMetadataNotAvailable = errors.New("HA metadata not available to restore from last state")

// JobDetails is the runtime view of a job.
type JobDetails struct {
	JobID      string
	JobName    string
	State      string
	StartTime  int64
	UpdateTime int64
}

// SavepointResult is the outcome of a savepoint request.
type SavepointResult struct {
	Completed bool
	Location  string
	Failure   string
}

// Service is the job runtime the operator drives. Calls block until the
// runtime accepted the request.
type Service interface {
	// ListJobs returns the jobs of the cluster, newest first.
	ListJobs(ctx context.Context, conf config.Configuration) ([]JobDetails, error)

	// SubmitApplicationCluster deploys the cluster running the job of spec.
	// The job id and restore path are taken from conf.
	SubmitApplicationCluster(ctx context.Context, owner *v1beta1.FlinkDeployment, spec *v1beta1.FlinkDeploymentSpec, conf config.Configuration, requireHaMetadata bool) error

	// CancelJob suspends the job the way the upgrade mode requires and
	// returns the savepoint location, if one was taken.
	CancelJob(ctx context.Context, meta metav1.ObjectMeta, jobID string, mode v1beta1.UpgradeMode, conf config.Configuration) (*string, error)

	// DeleteClusterDeployment removes the cluster resources.
	DeleteClusterDeployment(ctx context.Context, meta metav1.ObjectMeta, deleteHaData bool) error

	// TriggerSavepoint starts an async savepoint and returns its request id.
	TriggerSavepoint(ctx context.Context, jobID string, conf config.Configuration) (string, error)

	GetSavepointStatus(ctx context.Context, jobID string, requestID string, conf config.Configuration) (*SavepointResult, error)

	IsHaMetadataAvailable(ctx context.Context, meta metav1.ObjectMeta, conf config.Configuration) (bool, error)

	GetJobManagerDeploymentStatus(ctx context.Context, meta metav1.ObjectMeta) (v1beta1.JobManagerDeploymentStatus, error)

	// Scale sets the number of task managers of a standalone cluster.
	Scale(ctx context.Context, meta metav1.ObjectMeta, replicas int32) error
}

// GenerateJobID returns a fresh 32 hex digit Flink job id.
func GenerateJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
