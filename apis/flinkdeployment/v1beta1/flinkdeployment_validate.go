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

	"github.com/spotify/flink-deployment-operator/internal/config"
)

// Validator validates FlinkDeployment specs.
type Validator struct{}

// ValidateCreate validates a new FlinkDeployment.
func (v *Validator) ValidateCreate(deployment *FlinkDeployment) error {
	return v.ValidateSpec(&deployment.Spec)
}

// ValidateUpdate validates an update of a FlinkDeployment.
func (v *Validator) ValidateUpdate(old *FlinkDeployment, new *FlinkDeployment) error {
	if err := v.ValidateSpec(&new.Spec); err != nil {
		return err
	}
	if old.Spec.Job != nil && new.Spec.Job == nil {
		return fmt.Errorf("cannot remove the job of an application deployment")
	}
	if old.Spec.Job == nil && new.Spec.Job != nil {
		return fmt.Errorf("cannot add a job to a session deployment")
	}
	return nil
}

// ValidateSpec checks the spec on its own.
func (v *Validator) ValidateSpec(spec *FlinkDeploymentSpec) error {
	if spec.Image == "" {
		return fmt.Errorf("image is unspecified")
	}
	if spec.FlinkVersion != "" {
		if _, err := spec.FlinkVersion.ToVersion(); err != nil {
			return err
		}
	}
	switch spec.Mode {
	case "", DeploymentModeNative, DeploymentModeStandalone:
	default:
		return fmt.Errorf("invalid deployment mode %q", spec.Mode)
	}
	if spec.JobManager.Replicas < 0 {
		return fmt.Errorf("invalid job manager replicas %d", spec.JobManager.Replicas)
	}
	if spec.TaskManager.Replicas != nil && *spec.TaskManager.Replicas < 1 {
		return fmt.Errorf("invalid task manager replicas %d, it must be > 0", *spec.TaskManager.Replicas)
	}

	var conf = config.Configuration(spec.FlinkConfiguration)
	if slots, err := conf.GetInt(config.NumberOfTaskSlots, 1); err != nil {
		return err
	} else if slots < 1 {
		return fmt.Errorf("%s must be > 0", config.NumberOfTaskSlots)
	}
	if _, err := conf.GetDuration(config.PeriodicSavepointInterval, 0); err != nil {
		return err
	}
	if _, err := conf.GetDuration(config.DeploymentReadinessTimeout, 0); err != nil {
		return err
	}
	if _, err := conf.GetBool(config.DeploymentRollbackEnabled, false); err != nil {
		return err
	}

	if spec.Job != nil {
		if err := v.validateJob(spec.Job, conf); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateJob(job *JobSpec, conf config.Configuration) error {
	if job.JarURI == "" {
		return fmt.Errorf("job jarURI is unspecified")
	}
	if job.Parallelism < 0 {
		return fmt.Errorf("invalid job parallelism %d", job.Parallelism)
	}
	switch job.State {
	case "", JobStateRunning, JobStateSuspended:
	default:
		return fmt.Errorf("invalid job state %q", job.State)
	}

	var savepointDir = conf.GetString(config.SavepointDirectory, "")
	switch job.UpgradeMode {
	case "", UpgradeModeStateless:
	case UpgradeModeSavepoint:
		if savepointDir == "" {
			return fmt.Errorf("%s is required for upgrade mode %s", config.SavepointDirectory, job.UpgradeMode)
		}
	case UpgradeModeLastState:
		if !conf.IsHAEnabled() {
			return fmt.Errorf("upgrade mode %s requires high availability", job.UpgradeMode)
		}
	default:
		return fmt.Errorf("invalid upgrade mode %q", job.UpgradeMode)
	}

	interval, _ := conf.GetDuration(config.PeriodicSavepointInterval, 0)
	if interval > 0 && savepointDir == "" {
		return fmt.Errorf("%s is required for periodic savepoints", config.SavepointDirectory)
	}
	return nil
}
