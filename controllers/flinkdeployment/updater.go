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

// Recorder which persists the status of a deployment and keeps the last
// persisted status of every deployment in memory.

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	v1beta1 "github.com/spotify/flink-deployment-operator/apis/flinkdeployment/v1beta1"
)

// StatusRecorder writes deployment statuses to the API server. The informer
// cache may lag behind our own writes, the recorder remembers what it wrote
// so that the next tick starts from it.
type StatusRecorder struct {
	k8sClient client.Client
	recorder  record.EventRecorder
	log       logr.Logger

	mu    sync.Mutex
	cache map[types.NamespacedName]*v1beta1.FlinkDeploymentStatus
}

func NewStatusRecorder(k8sClient client.Client, recorder record.EventRecorder, log logr.Logger) *StatusRecorder {
	return &StatusRecorder{
		k8sClient: k8sClient,
		recorder:  recorder,
		log:       log,
		cache:     map[types.NamespacedName]*v1beta1.FlinkDeploymentStatus{},
	}
}

// PatchAndCacheStatus persists the status of the deployment if it differs from
// the stored one.
func (updater *StatusRecorder) PatchAndCacheStatus(ctx context.Context, deployment *v1beta1.FlinkDeployment) error {
	var key = client.ObjectKeyFromObject(deployment)
	var log = updater.log.WithValues("namespace", key.Namespace, "name", key.Name)

	err := retry.RetryOnConflict(retry.DefaultBackoff, func() error {
		var latest v1beta1.FlinkDeployment
		if err := updater.k8sClient.Get(ctx, key, &latest); err != nil {
			return err
		}
		if equality.Semantic.DeepEqual(latest.Status, deployment.Status) {
			return nil
		}
		updater.createStatusChangeEvents(deployment, &latest.Status, &deployment.Status)
		patch := client.MergeFromWithOptions(latest.DeepCopy(), client.MergeFromWithOptimisticLock{})
		latest.Status = *deployment.Status.DeepCopy()
		if err := updater.k8sClient.Status().Patch(ctx, &latest, patch); err != nil {
			return err
		}
		deployment.ResourceVersion = latest.ResourceVersion
		return nil
	})
	if err != nil {
		log.Error(err, "Failed to update status")
		return err
	}

	updater.mu.Lock()
	defer updater.mu.Unlock()
	updater.cache[key] = deployment.Status.DeepCopy()
	return nil
}

// UpdateStatusFromCache replaces the status of the deployment with the last
// persisted one. Returns false when nothing was persisted yet.
func (updater *StatusRecorder) UpdateStatusFromCache(deployment *v1beta1.FlinkDeployment) bool {
	updater.mu.Lock()
	defer updater.mu.Unlock()
	cached, ok := updater.cache[client.ObjectKeyFromObject(deployment)]
	if !ok {
		return false
	}
	deployment.Status = *cached.DeepCopy()
	return true
}

// RemoveCachedStatus forgets a deleted deployment.
func (updater *StatusRecorder) RemoveCachedStatus(key types.NamespacedName) {
	updater.mu.Lock()
	defer updater.mu.Unlock()
	delete(updater.cache, key)
}

func (updater *StatusRecorder) createStatusChangeEvents(
	deployment *v1beta1.FlinkDeployment, oldStatus, newStatus *v1beta1.FlinkDeploymentStatus) {
	if oldStatus.JobManagerDeploymentStatus != newStatus.JobManagerDeploymentStatus {
		updater.createStatusChangeEvent(deployment, "JobManager deployment",
			string(oldStatus.JobManagerDeploymentStatus), string(newStatus.JobManagerDeploymentStatus))
	}

	// Job.
	if oldStatus.JobStatus.State != newStatus.JobStatus.State && newStatus.JobStatus.State != "" {
		updater.createStatusChangeEvent(deployment, "Job", oldStatus.JobStatus.State, newStatus.JobStatus.State)
	}

	// Lifecycle.
	var oldState = oldStatus.ReconciliationStatus.State
	var newState = newStatus.ReconciliationStatus.State
	if oldState != newState {
		updater.createStatusChangeEvent(deployment, "Lifecycle", string(oldState), string(newState))
		lifecycleTransitions.WithLabelValues(string(oldState), string(newState)).Inc()
	}
}

func (updater *StatusRecorder) createStatusChangeEvent(
	deployment *v1beta1.FlinkDeployment, name string, oldStatus string, newStatus string) {
	if updater.recorder == nil {
		return
	}
	if len(oldStatus) == 0 {
		updater.recorder.Event(
			deployment,
			corev1.EventTypeNormal,
			"StatusUpdate",
			fmt.Sprintf("%v status: %v", name, newStatus))
	} else {
		updater.recorder.Event(
			deployment,
			corev1.EventTypeNormal,
			"StatusUpdate",
			fmt.Sprintf("%v status changed: %v -> %v", name, oldStatus, newStatus))
	}
}
