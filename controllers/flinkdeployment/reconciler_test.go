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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1beta1 "github.com/spotify/flink-deployment-operator/apis/flinkdeployment/v1beta1"
	"github.com/spotify/flink-deployment-operator/internal/config"
)

var _ = Describe("ApplicationReconciler", func() {
	var h *testHarness

	BeforeEach(func() {
		h = newTestHarness()
	})

	// deployRunning runs the first deployment and the tick that observes it.
	var deployRunning = func(deployment *v1beta1.FlinkDeployment) {
		ExpectWithOffset(1, h.tick(deployment)).To(Succeed())
		ExpectWithOffset(1, h.tick(deployment)).To(Succeed())
		ExpectWithOffset(1, deployment.Status.JobManagerDeploymentStatus).To(Equal(v1beta1.JobManagerDeploymentStatusReady))
		ExpectWithOffset(1, deployment.Status.ReconciliationStatus.IsStable()).To(BeTrue())
		if deployment.Spec.Job != nil {
			ExpectWithOffset(1, deployment.Status.JobStatus.State).To(Equal(v1beta1.FlinkJobStateRunning))
		}
	}

	var changeSpec = func(deployment *v1beta1.FlinkDeployment, change func(spec *v1beta1.FlinkDeploymentSpec)) {
		change(&deployment.Spec)
		deployment.Generation++
	}

	var fatalReason = func(err error) string {
		var fatal *FatalDeploymentError
		ExpectWithOffset(1, errors.As(err, &fatal)).To(BeTrue(), "expected a fatal error, got %v", err)
		return fatal.Reason
	}

	Context("first deployment", func() {
		It("deploys the job and marks it stable once running", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeStateless)

			Expect(h.tick(deployment)).To(Succeed())
			var status = &deployment.Status
			Expect(status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
			Expect(status.JobManagerDeploymentStatus).To(Equal(v1beta1.JobManagerDeploymentStatusDeploying))
			Expect(status.JobStatus.State).To(Equal(v1beta1.FlinkJobStateReconciling))
			Expect(status.JobStatus.JobID).To(HaveLen(32))
			Expect(status.ReconciliationStatus.IsStable()).To(BeFalse())
			Expect(status.TaskManager).NotTo(BeNil())
			Expect(status.TaskManager.Replicas).To(Equal(int32(1)))

			spec, meta := reconciledSpec(deployment)
			Expect(spec.Job.State).To(Equal(v1beta1.JobStateRunning))
			Expect(meta.FirstDeployment).To(BeTrue())
			Expect(meta.Generation).To(Equal(int64(1)))
			Expect(meta.APIVersion).To(Equal("flink.apache.org/v1beta1"))

			Expect(h.flinkService.submitCount).To(Equal(1))
			var job = h.flinkService.lastJob()
			Expect(job.conf[config.PipelineFixedJobID]).To(Equal(status.JobStatus.JobID))
			Expect(job.conf[config.JobResultStoreStoragePath]).To(HavePrefix("s3://flink/ha/job-result-store/test-cluster/"))
			Expect(job.savepoint).To(BeEmpty())

			Expect(h.tick(deployment)).To(Succeed())
			Expect(status.JobManagerDeploymentStatus).To(Equal(v1beta1.JobManagerDeploymentStatusReady))
			Expect(status.JobStatus.State).To(Equal(v1beta1.FlinkJobStateRunning))
			Expect(status.ReconciliationStatus.IsStable()).To(BeTrue())
			Expect(h.flinkService.submitCount).To(Equal(1))
		})

		It("does not change anything once the job is steady", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeSavepoint)
			deployRunning(deployment)

			var before = deployment.Status.DeepCopy()
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status).To(Equal(*before))
			Expect(h.flinkService.submitCount).To(Equal(1))
		})

		It("only records a suspended job and resumes it from the initial savepoint", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeLastState)
			deployment.Spec.Job.State = v1beta1.JobStateSuspended
			deployment.Spec.Job.InitialSavepointPath = ptr("initial_sp")

			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.submitCount).To(Equal(0))
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
			Expect(deployment.Status.ReconciliationStatus.IsStable()).To(BeTrue())
			spec, _ := reconciledSpec(deployment)
			Expect(spec.Job.State).To(Equal(v1beta1.JobStateSuspended))

			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.JobManagerDeploymentStatus).To(Equal(v1beta1.JobManagerDeploymentStatusMissing))
			Expect(deployment.Status.JobStatus.State).To(BeEmpty())
			Expect(h.flinkService.submitCount).To(Equal(0))

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.State = v1beta1.JobStateRunning })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.submitCount).To(Equal(1))
			Expect(h.flinkService.lastRequireHa).To(BeFalse())
			Expect(h.flinkService.lastJob().savepoint).To(Equal("initial_sp"))
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
		})

		It("deploys again when the first deployment never came up", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeStateless)
			Expect(h.tick(deployment)).To(Succeed())
			var firstJobID = deployment.Status.JobStatus.JobID

			h.flinkService.clusterDeployed = false
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.submitCount).To(Equal(2))
			Expect(deployment.Status.JobStatus.JobID).NotTo(Equal(firstJobID))
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
			_, meta := reconciledSpec(deployment)
			Expect(meta.FirstDeployment).To(BeTrue())

			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.JobManagerDeploymentStatus).To(Equal(v1beta1.JobManagerDeploymentStatusReady))
		})

		It("deploys a session cluster and redeploys it on changes", func() {
			var deployment = newTestSessionDeployment()
			deployRunning(deployment)
			Expect(h.flinkService.jobs).To(BeEmpty())

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Image = "flink:1.15.1" })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.submitCount).To(Equal(2))
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
			Expect(deployment.Status.JobManagerDeploymentStatus).To(Equal(v1beta1.JobManagerDeploymentStatusDeploying))
			spec, _ := reconciledSpec(deployment)
			Expect(spec.Image).To(Equal("flink:1.15.1"))
		})
	})

	Context("upgrades", func() {
		It("upgrades a stateless job with a fresh job id", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeStateless)
			deployRunning(deployment)
			var firstJobID = deployment.Status.JobStatus.JobID
			var firstJrs = h.flinkService.lastJob().conf[config.JobResultStoreStoragePath]

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.Parallelism = 2 })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateUpgrading))
			Expect(deployment.Status.JobManagerDeploymentStatus).To(Equal(v1beta1.JobManagerDeploymentStatusMissing))
			Expect(deployment.Status.JobStatus.State).To(Equal(v1beta1.FlinkJobStateCanceled))
			Expect(h.flinkService.cancelModes).To(Equal([]v1beta1.UpgradeMode{v1beta1.UpgradeModeStateless}))
			spec, meta := reconciledSpec(deployment)
			Expect(spec.Job.State).To(Equal(v1beta1.JobStateSuspended))
			Expect(spec.Job.Parallelism).To(Equal(int32(2)))
			Expect(meta.FirstDeployment).To(BeFalse())
			Expect(meta.Generation).To(Equal(int64(2)))

			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
			Expect(h.flinkService.submitCount).To(Equal(2))
			Expect(h.flinkService.lastRequireHa).To(BeFalse())
			Expect(h.flinkService.lastJob().savepoint).To(BeEmpty())
			Expect(deployment.Status.JobStatus.JobID).NotTo(Equal(firstJobID))
			Expect(h.flinkService.lastJob().conf[config.JobResultStoreStoragePath]).NotTo(Equal(firstJrs))
			spec, meta = reconciledSpec(deployment)
			Expect(spec.Job.State).To(Equal(v1beta1.JobStateRunning))
			Expect(meta.FirstDeployment).To(BeFalse())

			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.JobStatus.State).To(Equal(v1beta1.FlinkJobStateRunning))
			Expect(deployment.Status.ReconciliationStatus.IsStable()).To(BeTrue())
		})

		It("upgrades a savepoint job from the upgrade savepoint", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeSavepoint)
			deployRunning(deployment)

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.Parallelism = 2 })
			Expect(h.tick(deployment)).To(Succeed())
			var info = &deployment.Status.JobStatus.SavepointInfo
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateUpgrading))
			Expect(deployment.Status.JobStatus.State).To(Equal(v1beta1.FlinkJobStateFinished))
			Expect(info.LastSavepoint).NotTo(BeNil())
			Expect(info.LastSavepoint.Location).To(Equal("savepoint_0"))
			Expect(info.LastSavepoint.TriggerType).To(Equal(v1beta1.SavepointTriggerTypeUpgrade))
			Expect(info.SavepointHistory).To(HaveLen(1))
			spec, _ := reconciledSpec(deployment)
			Expect(spec.Job.UpgradeMode).To(Equal(v1beta1.UpgradeModeSavepoint))

			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
			Expect(h.flinkService.lastJob().savepoint).To(Equal("savepoint_0"))
			Expect(h.flinkService.lastRequireHa).To(BeFalse())
		})

		It("resumes only once the suspended cluster has shut down", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeLastState)
			deployRunning(deployment)

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.Parallelism = 2 })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateUpgrading))
			Expect(h.flinkService.submitCount).To(Equal(1))

			// The old job manager is still terminating.
			h.flinkService.jmStatus = v1beta1.JobManagerDeploymentStatusDeploying
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.submitCount).To(Equal(1))
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateUpgrading))
			spec, _ := reconciledSpec(deployment)
			Expect(spec.Job.State).To(Equal(v1beta1.JobStateSuspended))

			h.flinkService.jmStatus = ""
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.submitCount).To(Equal(2))
			Expect(h.flinkService.lastRequireHa).To(BeTrue())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
		})

		It("upgrades a last-state job from HA metadata keeping the job id", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeLastState)
			deployRunning(deployment)
			var jobID = deployment.Status.JobStatus.JobID

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.Parallelism = 2 })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.cancelModes).To(Equal([]v1beta1.UpgradeMode{v1beta1.UpgradeModeLastState}))
			Expect(deployment.Status.JobStatus.State).To(Equal(v1beta1.FlinkJobStateSuspended))
			Expect(deployment.Status.JobStatus.SavepointInfo.LastSavepoint).To(BeNil())

			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.lastRequireHa).To(BeTrue())
			Expect(h.flinkService.lastJob().savepoint).To(BeEmpty())
			Expect(h.flinkService.lastJob().details.JobID).To(Equal(jobID))
			Expect(deployment.Status.JobStatus.JobID).To(Equal(jobID))
		})

		It("restarts the job when the restart nonce changes", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeStateless)
			deployRunning(deployment)

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.RestartNonce = ptr(int64(1)) })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateUpgrading))
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.submitCount).To(Equal(2))

			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.submitCount).To(Equal(2))
		})

		It("uses a savepoint when the Flink version changes", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeLastState)
			deployRunning(deployment)
			var jobID = deployment.Status.JobStatus.JobID

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.FlinkVersion = v1beta1.FlinkVersionV1_16 })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.cancelModes).To(Equal([]v1beta1.UpgradeMode{v1beta1.UpgradeModeSavepoint}))

			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.lastRequireHa).To(BeFalse())
			Expect(h.flinkService.lastJob().savepoint).To(Equal("savepoint_0"))
			Expect(deployment.Status.JobStatus.JobID).NotTo(Equal(jobID))
		})

		It("uses a savepoint when switching to last-state without HA", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeSavepoint)
			delete(deployment.Spec.FlinkConfiguration, config.HighAvailability)
			delete(deployment.Spec.FlinkConfiguration, config.HighAvailabilityStorageDir)
			deployRunning(deployment)

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) {
				spec.Job.UpgradeMode = v1beta1.UpgradeModeLastState
			})
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.cancelModes).To(Equal([]v1beta1.UpgradeMode{v1beta1.UpgradeModeSavepoint}))
			spec, _ := reconciledSpec(deployment)
			Expect(spec.Job.UpgradeMode).To(Equal(v1beta1.UpgradeModeSavepoint))

			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.lastJob().savepoint).To(Equal("savepoint_0"))
			spec, _ = reconciledSpec(deployment)
			Expect(spec.Job.UpgradeMode).To(Equal(v1beta1.UpgradeModeLastState))
		})

		It("fails a last-state upgrade of a running job without HA metadata", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeLastState)
			deployRunning(deployment)
			var before = deployment.Status.ReconciliationStatus

			h.flinkService.haDataAvailable = false
			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.Parallelism = 2 })
			var err = h.tick(deployment)
			Expect(fatalReason(err)).To(Equal("HaMetadataNotAvailable"))
			Expect(IsFatal(err)).To(BeTrue())
			Expect(h.flinkService.cancelModes).To(BeEmpty())
			Expect(deployment.Status.ReconciliationStatus).To(Equal(before))
		})

		DescribeTable("fails a stateful upgrade when the cluster is lost together with its HA metadata",
			func(lose func(s *testingFlinkService)) {
				var deployment = newTestDeployment(v1beta1.UpgradeModeLastState)
				deployRunning(deployment)

				var reconciledBefore = deployment.Status.ReconciliationStatus.LastReconciledSpec

				lose(h.flinkService)
				h.flinkService.haDataAvailable = false
				changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.Parallelism = 2 })
				var err = h.tick(deployment)
				Expect(fatalReason(err)).To(Equal("RestoreFailed"))
				Expect(deployment.Status.ReconciliationStatus.LastReconciledSpec).To(Equal(reconciledBefore))
				Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
				Expect(deployment.Status.JobStatus.State).To(Equal(v1beta1.FlinkJobStateReconciling))
				Expect(h.flinkService.cancelModes).To(BeEmpty())
				Expect(h.flinkService.submitCount).To(Equal(1))
			},
			Entry("job manager deployment missing", func(s *testingFlinkService) {
				s.clusterDeployed = false
			}),
			Entry("job manager deployment in error", func(s *testingFlinkService) {
				s.jmStatus = v1beta1.JobManagerDeploymentStatusError
			}),
		)

		It("recovers a lost cluster from HA metadata", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeSavepoint)
			deployRunning(deployment)
			var jobID = deployment.Status.JobStatus.JobID

			h.flinkService.clusterDeployed = false
			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.Parallelism = 2 })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.cancelModes).To(Equal([]v1beta1.UpgradeMode{v1beta1.UpgradeModeLastState}))
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateUpgrading))

			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.lastRequireHa).To(BeTrue())
			Expect(deployment.Status.JobStatus.JobID).To(Equal(jobID))
		})

		It("upgrades a finished job from its last savepoint", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeSavepoint)
			deployRunning(deployment)

			h.flinkService.setJobState(v1beta1.FlinkJobStateFinished)
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.JobStatus.State).To(Equal(v1beta1.FlinkJobStateFinished))
			deployment.Status.JobStatus.SavepointInfo.LastSavepoint = &v1beta1.Savepoint{
				TimeStamp:   h.now.UnixMilli(),
				Location:    "finished_sp",
				TriggerType: v1beta1.SavepointTriggerTypeUnknown,
			}

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.Parallelism = 2 })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.cancelModes).To(BeEmpty())
			Expect(h.flinkService.clusterDeployed).To(BeFalse())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateUpgrading))

			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.lastJob().savepoint).To(Equal("finished_sp"))
		})

		It("completes an upgrade whose deployment was never recorded", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeLastState)
			deployRunning(deployment)

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.Parallelism = 2 })
			Expect(h.tick(deployment)).To(Succeed())
			var upgrading = deployment.Status.DeepCopy()
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.submitCount).To(Equal(2))

			deployment.Status = *upgrading
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.submitCount).To(Equal(2))
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
			spec, _ := reconciledSpec(deployment)
			Expect(spec.Job.State).To(Equal(v1beta1.JobStateRunning))
			Expect(spec.Job.Parallelism).To(Equal(int32(2)))
		})

		It("suspends and resumes a job on request", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeSavepoint)
			deployRunning(deployment)

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.State = v1beta1.JobStateSuspended })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
			Expect(deployment.Status.ReconciliationStatus.IsStable()).To(BeTrue())
			Expect(deployment.Status.JobManagerDeploymentStatus).To(Equal(v1beta1.JobManagerDeploymentStatusMissing))
			Expect(deployment.Status.TaskManager.Replicas).To(Equal(int32(0)))

			var suspended = deployment.Status.DeepCopy()
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status).To(Equal(*suspended))

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.State = v1beta1.JobStateRunning })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.submitCount).To(Equal(2))
			Expect(h.flinkService.lastJob().savepoint).To(Equal("savepoint_0"))
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
		})

		It("keeps the suspend mode when a suspended spec changes", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeSavepoint)
			deployRunning(deployment)
			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.State = v1beta1.JobStateSuspended })
			Expect(h.tick(deployment)).To(Succeed())

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) {
				spec.Job.UpgradeMode = v1beta1.UpgradeModeStateless
				spec.Job.Parallelism = 2
			})
			Expect(h.tick(deployment)).To(Succeed())
			spec, _ := reconciledSpec(deployment)
			Expect(spec.Job.UpgradeMode).To(Equal(v1beta1.UpgradeModeSavepoint))
			Expect(spec.Job.Parallelism).To(Equal(int32(2)))

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.State = v1beta1.JobStateRunning })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.lastJob().savepoint).To(Equal("savepoint_0"))
		})
	})

	Context("reactive scaling", func() {
		var newReactiveDeployment = func() *v1beta1.FlinkDeployment {
			var deployment = newTestDeployment(v1beta1.UpgradeModeStateless)
			deployment.Spec.Mode = v1beta1.DeploymentModeStandalone
			deployment.Spec.FlinkConfiguration[config.JobManagerScheduler] = config.SchedulerAdaptive
			deployment.Spec.FlinkConfiguration[config.NumberOfTaskSlots] = "2"
			deployment.Spec.Job.Parallelism = 8
			return deployment
		}

		It("scales the task managers in place", func() {
			var deployment = newReactiveDeployment()
			deployRunning(deployment)
			Expect(deployment.Status.TaskManager.Replicas).To(Equal(int32(4)))

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.Parallelism = 4 })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.desiredReplicas).To(Equal(int32(2)))
			Expect(h.flinkService.cancelModes).To(BeEmpty())
			Expect(h.flinkService.submitCount).To(Equal(1))
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
			Expect(deployment.Status.TaskManager.Replicas).To(Equal(int32(2)))
			spec, _ := reconciledSpec(deployment)
			Expect(spec.Job.Parallelism).To(Equal(int32(4)))
		})

		It("records a default parallelism change without scaling", func() {
			var deployment = newReactiveDeployment()
			deployRunning(deployment)

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) {
				spec.FlinkConfiguration[config.ParallelismDefault] = "4"
			})
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.desiredReplicas).To(Equal(int32(0)))
			Expect(h.flinkService.cancelModes).To(BeEmpty())
			spec, _ := reconciledSpec(deployment)
			Expect(spec.FlinkConfiguration).To(HaveKeyWithValue(config.ParallelismDefault, "4"))
		})

		It("upgrades when anything else changes", func() {
			var deployment = newReactiveDeployment()
			deployRunning(deployment)

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) {
				spec.Job.Parallelism = 4
				spec.Image = "flink:1.15.1"
			})
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.desiredReplicas).To(Equal(int32(0)))
			Expect(h.flinkService.cancelModes).To(Equal([]v1beta1.UpgradeMode{v1beta1.UpgradeModeStateless}))
		})
	})

	Context("savepoints", func() {
		It("triggers a manual savepoint once per nonce", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeSavepoint)
			deployRunning(deployment)
			var info = &deployment.Status.JobStatus.SavepointInfo

			deployment.Spec.Job.SavepointTriggerNonce = ptr(int64(1))
			Expect(h.tick(deployment)).To(Succeed())
			Expect(info.TriggerID).To(Equal("trigger_0"))
			Expect(info.TriggerRequestID).To(Equal("request_0"))
			Expect(info.TriggerType).To(Equal(v1beta1.SavepointTriggerTypeManual))
			Expect(info.TriggerNonce).To(Equal(ptr(int64(1))))

			Expect(h.tick(deployment)).To(Succeed())
			Expect(info.TriggerID).To(Equal("trigger_0"))
			Expect(h.flinkService.triggerCounter).To(Equal(1))

			h.flinkService.completeSavepoint("request_0", "manual_sp")
			Expect(h.tick(deployment)).To(Succeed())
			Expect(info.TriggerID).To(BeEmpty())
			Expect(info.LastSavepoint.Location).To(Equal("manual_sp"))
			Expect(info.LastSavepoint.TriggerType).To(Equal(v1beta1.SavepointTriggerTypeManual))
			Expect(deployment.Status.ReconciliationStatus.IsStable()).To(BeTrue())
			spec, _ := reconciledSpec(deployment)
			Expect(spec.Job.SavepointTriggerNonce).To(Equal(ptr(int64(1))))

			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.flinkService.triggerCounter).To(Equal(1))

			deployment.Spec.Job.SavepointTriggerNonce = ptr(int64(2))
			Expect(h.tick(deployment)).To(Succeed())
			Expect(info.TriggerID).To(Equal("trigger_1"))
			Expect(info.TriggerCount).To(Equal(int64(2)))
		})

		It("keeps the processed nonce through an upgrade", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeStateless)
			deployRunning(deployment)

			deployment.Spec.Job.SavepointTriggerNonce = ptr(int64(1))
			Expect(h.tick(deployment)).To(Succeed())
			h.flinkService.completeSavepoint("request_0", "manual_sp")
			Expect(h.tick(deployment)).To(Succeed())

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.Parallelism = 2 })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.tick(deployment)).To(Succeed())
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.JobStatus.State).To(Equal(v1beta1.FlinkJobStateRunning))
			spec, _ := reconciledSpec(deployment)
			Expect(spec.Job.SavepointTriggerNonce).To(Equal(ptr(int64(1))))
			Expect(h.flinkService.triggerCounter).To(Equal(1))
		})

		It("triggers the savepoint again after a failure", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeSavepoint)
			deployRunning(deployment)
			var info = &deployment.Status.JobStatus.SavepointInfo

			deployment.Spec.Job.SavepointTriggerNonce = ptr(int64(1))
			Expect(h.tick(deployment)).To(Succeed())
			h.flinkService.failSavepoint("request_0")
			Expect(h.tick(deployment)).To(Succeed())
			Expect(info.LastSavepoint).To(BeNil())
			Expect(info.TriggerID).To(Equal("trigger_1"))
			Expect(info.TriggerRequestID).To(Equal("request_1"))
		})

		It("resets a trigger that never reached the job manager", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeSavepoint)
			deployRunning(deployment)
			var info = &deployment.Status.JobStatus.SavepointInfo
			info.TriggerID = "trigger_0"
			info.TriggerType = v1beta1.SavepointTriggerTypePeriodic
			info.TriggerCount = 1

			Expect(h.tick(deployment)).To(Succeed())
			Expect(info.TriggerID).To(BeEmpty())
			Expect(info.TriggerType).To(BeEmpty())
			Expect(info.TriggerCount).To(Equal(int64(1)))
		})

		It("reports a failed savepoint status call as transient", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeSavepoint)
			deployRunning(deployment)
			var info = &deployment.Status.JobStatus.SavepointInfo
			info.TriggerID = "trigger_0"
			info.TriggerRequestID = "unknown"

			var err = h.tick(deployment)
			var transientErr *TransientRuntimeError
			Expect(errors.As(err, &transientErr)).To(BeTrue())
			Expect(IsFatal(err)).To(BeFalse())
			Expect(info.TriggerID).To(Equal("trigger_0"))
		})

		It("triggers periodic savepoints", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeSavepoint)
			deployment.Spec.FlinkConfiguration[config.PeriodicSavepointInterval] = "1h"
			deployRunning(deployment)
			var info = &deployment.Status.JobStatus.SavepointInfo

			h.advance(30 * time.Minute)
			Expect(h.tick(deployment)).To(Succeed())
			Expect(info.TriggerID).To(BeEmpty())

			h.advance(31 * time.Minute)
			Expect(h.tick(deployment)).To(Succeed())
			Expect(info.TriggerID).To(Equal("trigger_0"))
			Expect(info.TriggerType).To(Equal(v1beta1.SavepointTriggerTypePeriodic))

			h.flinkService.completeSavepoint("request_0", "periodic_sp")
			Expect(h.tick(deployment)).To(Succeed())
			Expect(info.TriggerID).To(BeEmpty())
			Expect(info.LastSavepoint.TriggerType).To(Equal(v1beta1.SavepointTriggerTypePeriodic))
			Expect(info.LastPeriodicSavepointTimestamp).To(Equal(h.now.UnixMilli()))

			h.advance(59 * time.Minute)
			Expect(h.tick(deployment)).To(Succeed())
			Expect(info.TriggerID).To(BeEmpty())

			h.advance(time.Minute)
			Expect(h.tick(deployment)).To(Succeed())
			Expect(info.TriggerID).To(Equal("trigger_1"))
		})

		It("delays an upgrade until the pending savepoint completes", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeSavepoint)
			deployRunning(deployment)
			var info = &deployment.Status.JobStatus.SavepointInfo

			deployment.Spec.Job.SavepointTriggerNonce = ptr(int64(1))
			Expect(h.tick(deployment)).To(Succeed())
			Expect(info.TriggerID).To(Equal("trigger_0"))

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.Parallelism = 2 })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
			Expect(h.flinkService.cancelModes).To(BeEmpty())
			Expect(info.TriggerID).To(Equal("trigger_0"))

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) {
				spec.FlinkConfiguration[config.IgnorePendingSavepoint] = "true"
			})
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateUpgrading))
			Expect(h.flinkService.cancelModes).To(Equal([]v1beta1.UpgradeMode{v1beta1.UpgradeModeSavepoint}))
			Expect(info.TriggerID).To(BeEmpty())
			Expect(info.TriggerCount).To(Equal(int64(1)))
			Expect(info.LastSavepoint.TriggerType).To(Equal(v1beta1.SavepointTriggerTypeUpgrade))
		})
	})

	Context("rollback", func() {
		var upgradeThatNeverBecomesReady = func(deployment *v1beta1.FlinkDeployment) {
			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.Parallelism = 2 })
			ExpectWithOffset(1, h.tick(deployment)).To(Succeed())
			ExpectWithOffset(1, h.tick(deployment)).To(Succeed())
			h.flinkService.listJobsFailure = true
			ExpectWithOffset(1, h.tick(deployment)).To(Succeed())
			ExpectWithOffset(1, deployment.Status.JobManagerDeploymentStatus).To(
				Equal(v1beta1.JobManagerDeploymentStatusDeployedNotReady))
			ExpectWithOffset(1, deployment.Status.ReconciliationStatus.IsStable()).To(BeFalse())
		}

		It("rolls back to the stable spec when the upgrade does not become ready", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeStateless)
			deployment.Spec.FlinkConfiguration[config.DeploymentRollbackEnabled] = "true"
			deployRunning(deployment)

			upgradeThatNeverBecomesReady(deployment)
			var upgradedJobID = deployment.Status.JobStatus.JobID

			h.advance(2 * time.Minute)
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateRollingBack))
			Expect(h.flinkService.clusterDeployed).To(BeFalse())
			Expect(h.flinkService.haDataAvailable).To(BeTrue())

			// Waits for the upgraded job manager to go away.
			h.flinkService.jmStatus = v1beta1.JobManagerDeploymentStatusDeploying
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateRollingBack))
			Expect(h.flinkService.submitCount).To(Equal(2))
			h.flinkService.jmStatus = ""

			h.flinkService.listJobsFailure = false
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateRolledBack))
			Expect(h.flinkService.submitCount).To(Equal(3))
			Expect(h.flinkService.lastRequireHa).To(BeTrue())
			Expect(h.flinkService.lastJob().spec.Job.Parallelism).To(Equal(int32(1)))
			Expect(deployment.Status.JobStatus.JobID).To(Equal(upgradedJobID))
			Expect(deployment.Status.TaskManager.Replicas).To(Equal(int32(1)))

			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateRolledBack))
			Expect(deployment.Status.JobStatus.State).To(Equal(v1beta1.FlinkJobStateRunning))
			Expect(h.flinkService.submitCount).To(Equal(3))

			changeSpec(deployment, func(spec *v1beta1.FlinkDeploymentSpec) { spec.Job.Parallelism = 3 })
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateUpgrading))
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
			Expect(h.flinkService.lastJob().spec.Job.Parallelism).To(Equal(int32(3)))
		})

		It("waits for the readiness timeout", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeStateless)
			deployment.Spec.FlinkConfiguration[config.DeploymentRollbackEnabled] = "true"
			deployment.Spec.FlinkConfiguration[config.DeploymentReadinessTimeout] = "5 min"
			deployRunning(deployment)

			upgradeThatNeverBecomesReady(deployment)
			h.advance(2 * time.Minute)
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))

			h.advance(4 * time.Minute)
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateRollingBack))
		})

		It("does not roll back when disabled", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeStateless)
			deployRunning(deployment)

			upgradeThatNeverBecomesReady(deployment)
			h.advance(time.Hour)
			Expect(h.tick(deployment)).To(Succeed())
			Expect(deployment.Status.ReconciliationStatus.State).To(Equal(v1beta1.ReconciliationStateDeployed))
			Expect(h.flinkService.clusterDeployed).To(BeTrue())
		})
	})

	Context("observer", func() {
		It("does nothing before the first deployment", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeStateless)
			Expect(h.observer.Observe(context.Background(), deployment)).To(Succeed())
			Expect(deployment.Status).To(Equal(v1beta1.FlinkDeploymentStatus{}))
		})

		It("keeps the job manager not ready while its REST API fails", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeStateless)
			Expect(h.tick(deployment)).To(Succeed())

			h.flinkService.listJobsFailure = true
			Expect(h.observer.Observe(context.Background(), deployment)).To(Succeed())
			Expect(deployment.Status.JobManagerDeploymentStatus).To(Equal(v1beta1.JobManagerDeploymentStatusDeployedNotReady))
			Expect(deployment.Status.JobStatus.State).To(Equal(v1beta1.FlinkJobStateReconciling))
			Expect(deployment.Status.ReconciliationStatus.IsStable()).To(BeFalse())
		})

		It("marks a job that finished on its own as stable", func() {
			var deployment = newTestDeployment(v1beta1.UpgradeModeStateless)
			Expect(h.tick(deployment)).To(Succeed())

			h.flinkService.setJobState(v1beta1.FlinkJobStateFinished)
			Expect(h.observer.Observe(context.Background(), deployment)).To(Succeed())
			Expect(deployment.Status.JobStatus.State).To(Equal(v1beta1.FlinkJobStateFinished))
			Expect(deployment.Status.ReconciliationStatus.IsStable()).To(BeTrue())
		})
	})
})
