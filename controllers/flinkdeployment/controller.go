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
	"time"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"

	v1beta1 "github.com/spotify/flink-deployment-operator/apis/flinkdeployment/v1beta1"
	"github.com/spotify/flink-deployment-operator/internal/config"
	"github.com/spotify/flink-deployment-operator/internal/flink"
	"github.com/spotify/flink-deployment-operator/internal/util"
)

// FlinkDeploymentReconciler reconciles a FlinkDeployment object. A tick
// observes the cluster, validates the desired spec, performs the next
// lifecycle step and persists the status.
type FlinkDeploymentReconciler struct {
	k8sClient      client.Client
	configManager  *config.Manager
	sharder        *Sharder
	observer       *DeploymentObserver
	reconciler     *ApplicationReconciler
	statusRecorder *StatusRecorder
	validator      v1beta1.Validator
	recorder       record.EventRecorder
	log            logr.Logger
}

func NewFlinkDeploymentReconciler(
	k8sClient client.Client,
	flinkService flink.Service,
	configManager *config.Manager,
	sharder *Sharder,
	recorder record.EventRecorder,
	clock util.Clock,
	log logr.Logger) *FlinkDeploymentReconciler {
	var statusRecorder = NewStatusRecorder(k8sClient, recorder, log)
	var reconciler = NewApplicationReconciler(flinkService, configManager, statusRecorder, recorder, clock, log)
	return &FlinkDeploymentReconciler{
		k8sClient:      k8sClient,
		configManager:  configManager,
		sharder:        sharder,
		observer:       NewDeploymentObserver(flinkService, configManager, reconciler.triggers, recorder, log),
		reconciler:     reconciler,
		statusRecorder: statusRecorder,
		recorder:       recorder,
		log:            log,
	}
}

// +kubebuilder:rbac:groups=flink.apache.org,resources=flinkdeployments,verbs=get;list;watch
// +kubebuilder:rbac:groups=flink.apache.org,resources=flinkdeployments/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=configmaps;services,verbs=get;list;watch;create;update;patch;delete;deletecollection
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch
// +kubebuilder:rbac:groups=authorization.k8s.io,resources=selfsubjectaccessreviews,verbs=create

// Reconcile runs one tick for the FlinkDeployment of the request.
func (r *FlinkDeploymentReconciler) Reconcile(ctx context.Context, request ctrl.Request) (ctrl.Result, error) {
	var log = r.log.WithValues("flinkdeployment", request.NamespacedName)
	var operator = r.configManager.Operator()

	if r.sharder != nil && !r.sharder.IsOwnedByMe(request.Namespace, request.Name) {
		return ctrl.Result{}, nil
	}
	if operator.ReconcileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, operator.ReconcileTimeout)
		defer cancel()
	}

	var fetched v1beta1.FlinkDeployment
	if err := r.k8sClient.Get(ctx, request.NamespacedName, &fetched); err != nil {
		if k8serrors.IsNotFound(err) {
			log.Info("FlinkDeployment has been deleted, no action to take")
			r.statusRecorder.RemoveCachedStatus(request.NamespacedName)
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}
	// Cluster resources are owned by the deployment and garbage collected.
	if !fetched.DeletionTimestamp.IsZero() {
		return ctrl.Result{}, nil
	}

	var deployment = fetched.DeepCopy()
	r.statusRecorder.UpdateStatusFromCache(deployment)
	v1beta1.SetDefault(deployment)
	var previous = deployment.Status.DeepCopy()

	if err := r.observer.Observe(ctx, deployment); err != nil {
		return r.handleError(ctx, deployment, previous, err)
	}

	var validationError string
	if err := r.validate(deployment); err != nil {
		validationError = err.Error()
		log.Info("Invalid spec, falling back to the last reconciled spec", "error", validationError)
		r.recorder.Event(deployment, corev1.EventTypeWarning, "ValidationError", validationError)
		reset, err := applyValidationErrorAndResetSpec(deployment, validationError)
		if err != nil {
			return r.handleError(ctx, deployment, previous, err)
		}
		if !reset {
			reconcileResults.WithLabelValues(resultValidationError).Inc()
			return ctrl.Result{}, r.statusRecorder.PatchAndCacheStatus(ctx, deployment)
		}
	}

	if err := r.reconciler.Reconcile(ctx, deployment); err != nil {
		return r.handleError(ctx, deployment, previous, err)
	}
	deployment.Status.Error = validationError

	if err := r.statusRecorder.PatchAndCacheStatus(ctx, deployment); err != nil {
		reconcileResults.WithLabelValues(resultTransientError).Inc()
		return ctrl.Result{}, err
	}
	if validationError != "" {
		reconcileResults.WithLabelValues(resultValidationError).Inc()
	} else {
		reconcileResults.WithLabelValues(resultSuccess).Inc()
	}
	return r.rescheduleAfter(deployment, previous), nil
}

func (r *FlinkDeploymentReconciler) validate(deployment *v1beta1.FlinkDeployment) error {
	reconciled, _, err := v1beta1.GetLastReconciledSpec[v1beta1.FlinkDeploymentSpec](
		&deployment.Status.ReconciliationStatus)
	if err != nil || reconciled == nil {
		err = r.validator.ValidateCreate(deployment)
	} else {
		err = r.validator.ValidateUpdate(&v1beta1.FlinkDeployment{Spec: *reconciled}, deployment)
	}
	if err != nil {
		return &ValidationError{Message: err.Error()}
	}
	return nil
}

// handleError restores the last persisted status and records the error. Fatal
// errors are not retried until the resource changes.
func (r *FlinkDeploymentReconciler) handleError(
	ctx context.Context,
	deployment *v1beta1.FlinkDeployment,
	previous *v1beta1.FlinkDeploymentStatus,
	err error) (ctrl.Result, error) {
	var log = r.log.WithValues("flinkdeployment", client.ObjectKeyFromObject(deployment))

	if !r.statusRecorder.UpdateStatusFromCache(deployment) {
		deployment.Status = *previous.DeepCopy()
	}
	deployment.Status.Error = err.Error()

	if IsFatal(err) {
		log.Error(err, "Deployment cannot make progress")
		r.recorder.Event(deployment, corev1.EventTypeWarning, "DeploymentFailed", err.Error())
		reconcileResults.WithLabelValues(resultFatalError).Inc()
	} else {
		log.Error(err, "Failed to reconcile, retrying")
		reconcileResults.WithLabelValues(resultTransientError).Inc()
	}
	if patchErr := r.statusRecorder.PatchAndCacheStatus(ctx, deployment); patchErr != nil {
		log.Error(patchErr, "Failed to record the error in the status")
	}
	return ctrl.Result{}, toTerminal(err)
}

// rescheduleAfter requeues immediately after entering a transitional state,
// otherwise at the pace the job manager status calls for.
func (r *FlinkDeploymentReconciler) rescheduleAfter(
	deployment *v1beta1.FlinkDeployment, previous *v1beta1.FlinkDeploymentStatus) ctrl.Result {
	var status = &deployment.Status
	var state = status.ReconciliationStatus.State
	if state != previous.ReconciliationStatus.State &&
		(state == v1beta1.ReconciliationStateUpgrading || state == v1beta1.ReconciliationStateRollingBack) {
		return ctrl.Result{Requeue: true}
	}

	var operator = r.configManager.Operator()
	conf, err := r.configManager.DeployConfig(deployment.Namespace, deployment.Name, deployment.Spec.FlinkConfiguration)
	if err != nil {
		conf = config.Configuration{}
	}
	var interval time.Duration
	switch status.JobManagerDeploymentStatus {
	case v1beta1.JobManagerDeploymentStatusDeploying, v1beta1.JobManagerDeploymentStatusDeployedNotReady:
		interval, err = conf.GetDuration(config.ObserverProgressCheckInterval, operator.ProgressCheckInterval)
		if err != nil {
			interval = operator.ProgressCheckInterval
		}
	default:
		interval, err = conf.GetDuration(config.ReconcileInterval, operator.ReconcileInterval)
		if err != nil {
			interval = operator.ReconcileInterval
		}
	}
	return ctrl.Result{RequeueAfter: interval}
}

// SetupWithManager registers the reconciler to the manager.
func (r *FlinkDeploymentReconciler) SetupWithManager(mgr ctrl.Manager, maxConcurrentReconciles int) error {
	var forOptions []builder.ForOption
	if r.sharder != nil {
		forOptions = append(forOptions, builder.WithPredicates(r.sharder.Predicate()))
	}
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1beta1.FlinkDeployment{}, forOptions...).
		Owns(&appsv1.Deployment{}).
		WithOptions(controller.Options{MaxConcurrentReconciles: maxConcurrentReconciles}).
		Complete(r)
}
