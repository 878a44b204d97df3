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
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// FlinkVersion is a Flink runtime version in the `v1_15` form.
type FlinkVersion string

const (
	FlinkVersionV1_13 FlinkVersion = "v1_13"
	FlinkVersionV1_14 FlinkVersion = "v1_14"
	FlinkVersionV1_15 FlinkVersion = "v1_15"
	FlinkVersionV1_16 FlinkVersion = "v1_16"
	FlinkVersionV1_17 FlinkVersion = "v1_17"
)

// ToVersion parses the Flink version for comparisons.
func (v FlinkVersion) ToVersion() (*version.Version, error) {
	raw := strings.ReplaceAll(strings.TrimPrefix(string(v), "v"), "_", ".")
	parsed, err := version.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid flink version %q: %w", v, err)
	}
	return parsed, nil
}

// IsEqualOrNewer returns false when either version cannot be parsed.
func (v FlinkVersion) IsEqualOrNewer(other FlinkVersion) bool {
	a, err := v.ToVersion()
	if err != nil {
		return false
	}
	b, err := other.ToVersion()
	if err != nil {
		return false
	}
	return a.GreaterThanOrEqual(b)
}

// ResourceKind distinguishes the resources that run Flink jobs.
type ResourceKind string

const (
	KindFlinkDeployment ResourceKind = "FlinkDeployment"
	KindFlinkSessionJob ResourceKind = "FlinkSessionJob"
)

// FlinkResource is implemented by every resource kind that carries a job.
type FlinkResource interface {
	metav1.Object
	runtime.Object
	GetJobSpec() *JobSpec
	GetCommonStatus() *CommonStatus
	GetKind() ResourceKind
}

var _ FlinkResource = &FlinkDeployment{}
var _ FlinkResource = &FlinkSessionJob{}

func (d *FlinkDeployment) GetJobSpec() *JobSpec           { return d.Spec.Job }
func (d *FlinkDeployment) GetCommonStatus() *CommonStatus { return &d.Status.CommonStatus }
func (d *FlinkDeployment) GetKind() ResourceKind          { return KindFlinkDeployment }

func (j *FlinkSessionJob) GetJobSpec() *JobSpec           { return j.Spec.Job }
func (j *FlinkSessionJob) GetCommonStatus() *CommonStatus { return &j.Status }
func (j *FlinkSessionJob) GetKind() ResourceKind          { return KindFlinkSessionJob }

// IsApplicationDeployment tells whether the deployment runs a job rather than
// a session cluster.
func (d *FlinkDeployment) IsApplicationDeployment() bool {
	return d.Spec.Job != nil
}

// IsGloballyTerminalJobState tells whether the job will not make progress
// without being resubmitted.
func IsGloballyTerminalJobState(state string) bool {
	switch state {
	case FlinkJobStateFinished, FlinkJobStateFailed, FlinkJobStateCanceled:
		return true
	}
	return false
}

func IsJobRunning(status *JobStatus) bool {
	return status != nil && status.State == FlinkJobStateRunning
}
