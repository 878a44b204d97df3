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
	"github.com/imdario/mergo"

	"github.com/spotify/flink-deployment-operator/internal/config"
)

const (
	DefaultJobManagerReplicas = 1
	DefaultJobParallelism     = 1
	DefaultFlinkVersion       = FlinkVersionV1_15
)

// Sets default values for unspecified FlinkDeployment properties.
func _SetDefault(deployment *FlinkDeployment) {
	var spec = &deployment.Spec
	if spec.FlinkVersion == "" {
		spec.FlinkVersion = DefaultFlinkVersion
	}
	if spec.Mode == "" {
		spec.Mode = DeploymentModeNative
	}
	if spec.JobManager.Replicas == 0 {
		spec.JobManager.Replicas = DefaultJobManagerReplicas
	}
	_SetJobDefault(spec.Job)
	_SetFlinkConfigurationDefault(spec)
}

func _SetJobDefault(job *JobSpec) {
	if job == nil {
		return
	}
	if job.UpgradeMode == "" {
		job.UpgradeMode = UpgradeModeStateless
	}
	if job.State == "" {
		job.State = JobStateRunning
	}
	if job.Parallelism == 0 {
		job.Parallelism = DefaultJobParallelism
	}
}

func _SetFlinkConfigurationDefault(spec *FlinkDeploymentSpec) {
	var defaults = map[string]string{
		config.NumberOfTaskSlots: "1",
	}
	// Keep the cluster around after the job finished so the final job
	// status can be observed from HA metadata.
	if spec.Job != nil && spec.FlinkVersion.IsEqualOrNewer(FlinkVersionV1_15) &&
		config.Configuration(spec.FlinkConfiguration).IsHAEnabled() {
		defaults["execution.shutdown-on-application-finish"] = "false"
	}
	if spec.FlinkConfiguration == nil {
		spec.FlinkConfiguration = map[string]string{}
	}
	// Values set by the user take precedence.
	mergo.Merge(&spec.FlinkConfiguration, defaults)
}

// SetDefault applies the defaults of the mutating webhook. The controller
// uses it for resources admitted while webhooks were disabled.
func SetDefault(deployment *FlinkDeployment) {
	_SetDefault(deployment)
}
