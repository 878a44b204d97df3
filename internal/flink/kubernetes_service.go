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
	"fmt"
	"time"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	v1beta1 "github.com/spotify/flink-deployment-operator/apis/flinkdeployment/v1beta1"
	"github.com/spotify/flink-deployment-operator/internal/config"
)

const (
	savepointPollInterval = 2 * time.Second
	savepointPollTimeout  = 5 * time.Minute
)

// KubernetesService runs Flink clusters as Kubernetes Deployments and talks
// to their job manager through the REST API.
type KubernetesService struct {
	k8sClient   client.Client
	flinkClient *Client
	log         logr.Logger
}

var _ Service = &KubernetesService{}

func NewKubernetesService(k8sClient client.Client, flinkClient *Client, log logr.Logger) *KubernetesService {
	return &KubernetesService{k8sClient: k8sClient, flinkClient: flinkClient, log: log}
}

func (s *KubernetesService) ListJobs(ctx context.Context, conf config.Configuration) ([]JobDetails, error) {
	overview, err := s.flinkClient.GetJobsOverview(ctx, GetRestURL(conf))
	if err != nil {
		return nil, err
	}
	jobs := make([]JobDetails, 0, len(overview.Jobs))
	for _, job := range overview.Jobs {
		jobs = append(jobs, JobDetails{
			JobID:      job.Id,
			JobName:    job.Name,
			State:      job.State,
			StartTime:  job.StartTime,
			UpdateTime: job.LastModification,
		})
	}
	return jobs, nil
}

func (s *KubernetesService) SubmitApplicationCluster(
	ctx context.Context,
	owner *v1beta1.FlinkDeployment,
	spec *v1beta1.FlinkDeploymentSpec,
	conf config.Configuration,
	requireHaMetadata bool) error {
	var log = s.log.WithValues("namespace", owner.Namespace, "name", owner.Name)

	if requireHaMetadata {
		available, err := s.IsHaMetadataAvailable(ctx, owner.ObjectMeta, conf)
		if err != nil {
			return err
		}
		if !available {
			return ErrHaMetadataNotAvailable
		}
	}

	var objects = []client.Object{
		newConfigMap(owner, spec, conf),
		newJobManagerService(owner, conf),
		newJobManagerDeployment(owner, spec, conf),
	}
	if spec.Mode == v1beta1.DeploymentModeStandalone {
		replicas, err := GetTaskManagerReplicas(spec, conf)
		if err != nil {
			return err
		}
		objects = append(objects, newTaskManagerDeployment(owner, spec, replicas))
	}

	for _, desired := range objects {
		if err := s.apply(ctx, desired); err != nil {
			return fmt.Errorf("failed to apply %T %s: %w", desired, desired.GetName(), err)
		}
	}
	log.Info("Submitted application cluster", "jobID", conf[config.PipelineFixedJobID], "savepoint", conf[config.SavepointPath])
	return nil
}

// Creates the object or overwrites the spec of the existing one.
func (s *KubernetesService) apply(ctx context.Context, desired client.Object) error {
	var current client.Object
	switch desired.(type) {
	case *corev1.ConfigMap:
		current = &corev1.ConfigMap{}
	case *corev1.Service:
		current = &corev1.Service{}
	case *appsv1.Deployment:
		current = &appsv1.Deployment{}
	default:
		return fmt.Errorf("unsupported object %T", desired)
	}
	current.SetNamespace(desired.GetNamespace())
	current.SetName(desired.GetName())

	_, err := controllerutil.CreateOrUpdate(ctx, s.k8sClient, current, func() error {
		current.SetLabels(desired.GetLabels())
		current.SetOwnerReferences(desired.GetOwnerReferences())
		switch c := current.(type) {
		case *corev1.ConfigMap:
			c.Data = desired.(*corev1.ConfigMap).Data
		case *corev1.Service:
			d := desired.(*corev1.Service)
			c.Spec.Type = d.Spec.Type
			c.Spec.Selector = d.Spec.Selector
			c.Spec.Ports = d.Spec.Ports
		case *appsv1.Deployment:
			c.Spec = desired.(*appsv1.Deployment).Spec
		}
		return nil
	})
	return err
}

func (s *KubernetesService) CancelJob(
	ctx context.Context,
	meta metav1.ObjectMeta,
	jobID string,
	mode v1beta1.UpgradeMode,
	conf config.Configuration) (*string, error) {
	var log = s.log.WithValues("namespace", meta.Namespace, "name", meta.Name, "jobID", jobID)
	var restURL = GetRestURL(conf)

	switch mode {
	case v1beta1.UpgradeModeStateless:
		if jobID != "" {
			if err := s.flinkClient.CancelJob(ctx, restURL, jobID); err != nil && !IsNotFound(err) {
				return nil, fmt.Errorf("failed to cancel job %s: %w", jobID, err)
			}
		}
		log.Info("Cancelled job without savepoint")
		return nil, s.DeleteClusterDeployment(ctx, meta, true)

	case v1beta1.UpgradeModeSavepoint:
		dir := conf.GetString(config.SavepointDirectory, "")
		if dir == "" {
			return nil, fmt.Errorf("%s must be set to suspend job %s with a savepoint", config.SavepointDirectory, jobID)
		}
		trigger, err := s.flinkClient.StopJobWithSavepoint(ctx, restURL, jobID, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to stop job %s with savepoint: %w", jobID, err)
		}
		status, err := s.flinkClient.WaitForSavepoint(ctx, restURL, jobID, trigger.RequestID, savepointPollInterval, savepointPollTimeout)
		if err != nil {
			return nil, err
		}
		if !status.IsSuccessful() {
			return nil, fmt.Errorf("stop-with-savepoint of job %s failed: %s", jobID, status.FailureCause.ExceptionClass)
		}
		log.Info("Stopped job with savepoint", "savepoint", status.Location)
		location := status.Location
		return &location, s.DeleteClusterDeployment(ctx, meta, true)

	case v1beta1.UpgradeModeLastState:
		log.Info("Deleting cluster, keeping HA metadata")
		return nil, s.DeleteClusterDeployment(ctx, meta, false)
	}
	return nil, fmt.Errorf("unknown upgrade mode %q", mode)
}

func (s *KubernetesService) DeleteClusterDeployment(ctx context.Context, meta metav1.ObjectMeta, deleteHaData bool) error {
	var objects = []client.Object{
		&appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Namespace: meta.Namespace, Name: getJobManagerName(meta.Name)}},
		&appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Namespace: meta.Namespace, Name: getTaskManagerName(meta.Name)}},
		&corev1.Service{ObjectMeta: metav1.ObjectMeta{Namespace: meta.Namespace, Name: getRestServiceName(meta.Name)}},
		&corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: meta.Namespace, Name: getConfigMapName(meta.Name)}},
	}
	var background = client.PropagationPolicy(metav1.DeletePropagationBackground)
	// The job manager deployment stays, terminating, until its pods are gone.
	var foreground = client.PropagationPolicy(metav1.DeletePropagationForeground)
	for i, obj := range objects {
		var policy = background
		if i == 0 {
			policy = foreground
		}
		if err := s.k8sClient.Delete(ctx, obj, policy); err != nil && !k8serrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete %T %s: %w", obj, obj.GetName(), err)
		}
	}
	if deleteHaData {
		err := s.k8sClient.DeleteAllOf(ctx, &corev1.ConfigMap{},
			client.InNamespace(meta.Namespace),
			client.MatchingLabels(getHaConfigMapLabels(meta.Name)))
		if err != nil && !k8serrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete HA metadata: %w", err)
		}
	}
	return nil
}

func (s *KubernetesService) TriggerSavepoint(ctx context.Context, jobID string, conf config.Configuration) (string, error) {
	dir := conf.GetString(config.SavepointDirectory, "")
	if dir == "" {
		return "", fmt.Errorf("%s must be set to trigger savepoints", config.SavepointDirectory)
	}
	trigger, err := s.flinkClient.TriggerSavepoint(ctx, GetRestURL(conf), jobID, dir, false)
	if err != nil {
		return "", err
	}
	return trigger.RequestID, nil
}

func (s *KubernetesService) GetSavepointStatus(
	ctx context.Context, jobID string, requestID string, conf config.Configuration) (*SavepointResult, error) {
	status, err := s.flinkClient.GetSavepointStatus(ctx, GetRestURL(conf), jobID, requestID)
	if err != nil {
		return nil, err
	}
	result := &SavepointResult{Completed: status.Completed, Location: status.Location}
	if status.IsFailed() {
		result.Failure = status.FailureCause.ExceptionClass
	}
	return result, nil
}

func (s *KubernetesService) IsHaMetadataAvailable(ctx context.Context, meta metav1.ObjectMeta, conf config.Configuration) (bool, error) {
	if !conf.IsHAEnabled() {
		return false, nil
	}
	var configMaps corev1.ConfigMapList
	err := s.k8sClient.List(ctx, &configMaps,
		client.InNamespace(meta.Namespace),
		client.MatchingLabels(getHaConfigMapLabels(meta.Name)))
	if err != nil {
		return false, err
	}
	return len(configMaps.Items) > 0, nil
}

func (s *KubernetesService) GetJobManagerDeploymentStatus(
	ctx context.Context, meta metav1.ObjectMeta) (v1beta1.JobManagerDeploymentStatus, error) {
	var deployment appsv1.Deployment
	err := s.k8sClient.Get(ctx, types.NamespacedName{Namespace: meta.Namespace, Name: getJobManagerName(meta.Name)}, &deployment)
	if k8serrors.IsNotFound(err) {
		return v1beta1.JobManagerDeploymentStatusMissing, nil
	}
	if err != nil {
		return "", err
	}
	return getJobManagerDeploymentState(&deployment), nil
}

func getJobManagerDeploymentState(deployment *appsv1.Deployment) v1beta1.JobManagerDeploymentStatus {
	// A terminating job manager still runs until its pods are gone.
	if deployment.DeletionTimestamp != nil {
		return v1beta1.JobManagerDeploymentStatusDeploying
	}
	for _, condition := range deployment.Status.Conditions {
		if condition.Type == appsv1.DeploymentReplicaFailure && condition.Status == corev1.ConditionTrue {
			return v1beta1.JobManagerDeploymentStatusError
		}
		if condition.Type == appsv1.DeploymentProgressing && condition.Status == corev1.ConditionFalse &&
			condition.Reason == "ProgressDeadlineExceeded" {
			return v1beta1.JobManagerDeploymentStatusError
		}
	}
	var replicas int32 = 1
	if deployment.Spec.Replicas != nil {
		replicas = *deployment.Spec.Replicas
	}
	if deployment.Status.ReadyReplicas >= replicas {
		return v1beta1.JobManagerDeploymentStatusDeployedNotReady
	}
	return v1beta1.JobManagerDeploymentStatusDeploying
}

func (s *KubernetesService) Scale(ctx context.Context, meta metav1.ObjectMeta, replicas int32) error {
	var deployment appsv1.Deployment
	var key = types.NamespacedName{Namespace: meta.Namespace, Name: getTaskManagerName(meta.Name)}
	if err := s.k8sClient.Get(ctx, key, &deployment); err != nil {
		return err
	}
	if deployment.Spec.Replicas != nil && *deployment.Spec.Replicas == replicas {
		return nil
	}
	patch := client.MergeFrom(deployment.DeepCopy())
	deployment.Spec.Replicas = &replicas
	if err := s.k8sClient.Patch(ctx, &deployment, patch); err != nil {
		return fmt.Errorf("failed to scale task managers of %s: %w", meta.Name, err)
	}
	s.log.Info("Scaled task managers", "namespace", meta.Namespace, "name", meta.Name, "replicas", replicas)
	return nil
}
